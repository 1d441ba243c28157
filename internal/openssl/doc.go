// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package openssl implements OCSP revocation checking by shelling out to the
// openssl command line tool and parsing its textual output.
//
// It exists as a fallback for hosts that prefer to rely on the system's
// openssl installation for OCSP queries.
package openssl
