// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import "errors"

var (
	// ErrNoResponder is returned when a certificate does not carry an OCSP
	// responder in its Authority Information Access extension.
	ErrNoResponder = errors.New("ocsp: no responder")

	// ErrTransport is returned when the responder could not be reached or
	// answered with something other than a successful HTTP response.
	ErrTransport = errors.New("ocsp: transport failure")

	// ErrMalformedResponse is returned when a response is not a structurally
	// valid DER encoded OCSP response.
	ErrMalformedResponse = errors.New("ocsp: malformed response")

	// ErrUntrustedResponse is returned when a response could not be
	// authenticated against the certificate's issuer.
	ErrUntrustedResponse = errors.New("ocsp: untrusted response")

	// ErrUnsupportedAlgorithm is returned when a signature uses an algorithm
	// that cannot be verified.
	ErrUnsupportedAlgorithm = errors.New("ocsp: unsupported algorithm")
)

// Reason is the closed set of reasons a response can fail verification.
type Reason string

const (
	ReasonStatus             Reason = "unsuccessful response status"
	ReasonCertIDMismatch     Reason = "response does not match request"
	ReasonResponderNotIssued Reason = "responder certificate not issued by issuer"
	ReasonResponderNotSigner Reason = "responder certificate not authorized for ocsp signing"
	ReasonResponderSignature Reason = "bad signature on responder certificate"
	ReasonSignature          Reason = "bad signature on response"
	ReasonAlgorithm          Reason = "unsupported signature algorithm"
	ReasonNoThisUpdate       Reason = "thisUpdate is not set"
	ReasonNotYetValid        Reason = "thisUpdate is in the future"
	ReasonExpired            Reason = "nextUpdate is in the past"
	ReasonInternal           Reason = "internal verification failure"
)

// VerifyError represents a OCSP response verification error.
type VerifyError struct {
	// Reason why the verification failed.
	Reason Reason
	// Err is the underlying error, if any.
	Err error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return "ocsp: response failed verification (" + string(e.Reason) + "): " + e.Err.Error()
	}
	return "ocsp: response failed verification (" + string(e.Reason) + ")"
}

// Unwrap allows errors.Is to classify a VerifyError as either
// ErrUnsupportedAlgorithm or ErrUntrustedResponse.
func (e *VerifyError) Unwrap() []error {
	kind := ErrUntrustedResponse
	if e.Reason == ReasonAlgorithm {
		kind = ErrUnsupportedAlgorithm
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}
