// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package ocsp implements the native half of OCSP (Online Certificate Status
// Protocol) revocation checking: locating a responder, building requests,
// strictly decoding responses and deciding whether a response may be trusted
// to speak for a certificate's issuer.
//
// For details on the protocol, visit https://www.rfc-editor.org/rfc/rfc6960
package ocsp
