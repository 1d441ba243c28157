// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build !go1.26

package revocation

import "crypto/tls"

// defaultCurvePreferences prefers the hybrid post-quantum key exchange, the
// only one available before Go 1.26.
var defaultCurvePreferences = []tls.CurveID{
	tls.X25519MLKEM768,
	tls.X25519,
	tls.CurveP256,
	tls.CurveP384,
}
