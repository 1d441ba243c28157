// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"errors"

	"github.com/matthewpi/revocation/internal/ocsp"
	"github.com/matthewpi/revocation/internal/openssl"
)

var (
	// ErrNoResponder is returned when a certificate names no OCSP responder.
	ErrNoResponder = ocsp.ErrNoResponder
	// ErrTransport is returned when a responder could not be queried, either
	// over HTTP or through openssl.
	ErrTransport = ocsp.ErrTransport
	// ErrMalformedResponse is returned for responses that fail to decode.
	ErrMalformedResponse = ocsp.ErrMalformedResponse
	// ErrUntrustedResponse is returned for responses that could not be
	// authenticated.
	ErrUntrustedResponse = ocsp.ErrUntrustedResponse
	// ErrUnsupportedAlgorithm is returned for responses signed with an
	// algorithm that cannot be verified.
	ErrUnsupportedAlgorithm = ocsp.ErrUnsupportedAlgorithm

	// ErrNoIssuer is returned when the issuer of a certificate is not known.
	ErrNoIssuer = errors.New("revocation: issuer not found")
	// ErrBackendBroken is returned by every check made through an openssl
	// backend whose self-test failed.
	ErrBackendBroken = openssl.ErrBroken
	// ErrRevoked is returned by Checker.VerifyPeerCertificate when the peer's
	// certificate has been revoked.
	ErrRevoked = errors.New("revocation: certificate has been revoked")
)

// errorReason returns the metric label for err.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrNoResponder):
		return "no_responder"
	case errors.Is(err, ErrBackendBroken):
		return "backend_broken"
	case errors.Is(err, ErrNoIssuer):
		return "no_issuer"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrUntrustedResponse):
		return "untrusted"
	default:
		return "other"
	}
}

// reportedError marks an error that was already logged where it happened.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}
