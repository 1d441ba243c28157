// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"crypto/x509"
	"fmt"
	"net/url"
)

// Responder is the OCSP responder a certificate points at.
type Responder struct {
	// URL of the responder, taken verbatim from the certificate.
	URL string
	// Host is the host (and port, if any) portion of URL. It is sent as the
	// Host header when querying through openssl.
	Host string
}

// LocateResponder returns the first OCSP responder listed in the Authority
// Information Access extension of cert.
//
// ErrNoResponder is returned if the extension is absent or lists no OCSP
// access method.
func LocateResponder(cert *x509.Certificate) (Responder, error) {
	if cert == nil || len(cert.OCSPServer) < 1 {
		return Responder{}, ErrNoResponder
	}

	raw := cert.OCSPServer[0]
	u, err := url.Parse(raw)
	if err != nil {
		return Responder{}, fmt.Errorf("%w: error parsing ocsp server url: %w", ErrNoResponder, err)
	}
	if u.Host == "" {
		return Responder{}, fmt.Errorf("%w: ocsp server url %q has no host", ErrNoResponder, raw)
	}
	return Responder{URL: raw, Host: u.Host}, nil
}
