// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

// ClockSkew is how far thisUpdate and nextUpdate may be off from the local
// clock before a response is refused.
const ClockSkew = 5 * time.Minute

// Verify decides whether res may be trusted to answer req on behalf of
// issuer at time now.
//
// The responder is either the issuer itself, or a certificate embedded in the
// response that the issuer delegated OCSP signing to. In the delegated case
// the responder certificate must be signed by the issuer before its key is
// used to check the response signature.
//
// Verify never panics; any failure, including one raised from inside the
// signature primitives, is returned as a *VerifyError.
func Verify(res *Response, req *Request, issuer *x509.Certificate, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &VerifyError{Reason: ReasonInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if res == nil || req == nil || issuer == nil {
		return &VerifyError{Reason: ReasonInternal, Err: errors.New("missing response, request or issuer")}
	}
	if res.Status != Successful {
		return &VerifyError{Reason: ReasonStatus, Err: fmt.Errorf("status %s", res.Status)}
	}

	if err := matchRequest(res, req); err != nil {
		return err
	}

	responder, delegated := findResponder(res, issuer)
	if delegated {
		if err := verifyDelegate(responder, issuer); err != nil {
			return err
		}
	}

	if err := checkSignature(responder, res.SignatureAlgorithm, res.TBSResponseData, res.Signature, ReasonSignature); err != nil {
		return err
	}

	return checkValidity(res, now)
}

// matchRequest asserts that the response is about the certificate we asked
// about.
func matchRequest(res *Response, req *Request) error {
	if res.SerialNumber == nil || req.SerialNumber == nil || res.SerialNumber.Cmp(req.SerialNumber) != 0 {
		return &VerifyError{Reason: ReasonCertIDMismatch, Err: errors.New("serial number differs")}
	}
	if res.HashAlgorithm != req.HashAlgorithm ||
		!bytes.Equal(res.IssuerNameHash, req.IssuerNameHash) ||
		!bytes.Equal(res.IssuerKeyHash, req.IssuerKeyHash) {
		return &VerifyError{Reason: ReasonCertIDMismatch, Err: errors.New("issuer differs")}
	}
	return nil
}

// findResponder returns the certificate whose key must have signed the
// response, and whether it is a delegate rather than the issuer.
func findResponder(res *Response, issuer *x509.Certificate) (*x509.Certificate, bool) {
	if identifies(res.ResponderID, issuer) {
		return issuer, false
	}
	for _, cert := range res.Certificates {
		if identifies(res.ResponderID, cert) {
			return cert, true
		}
	}
	// Nothing matched; the issuer is the only key we could trust.
	return issuer, false
}

func identifies(id ResponderID, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if id.Name != nil {
		return bytes.Equal(id.Name, cert.RawSubject)
	}
	if id.KeyHash == nil {
		return false
	}
	if len(cert.SubjectKeyId) > 0 && bytes.Equal(id.KeyHash, cert.SubjectKeyId) {
		return true
	}
	h, err := KeyHash(cert)
	if err != nil {
		return false
	}
	return bytes.Equal(id.KeyHash, h)
}

// KeyHash returns the SHA-1 hash of the subjectPublicKey bit string of cert,
// as used by responders identified by key.
func KeyHash(cert *x509.Certificate) ([]byte, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, fmt.Errorf("ocsp: failed to parse subject public key info: %w", err)
	}
	h := sha1.Sum(spki.PublicKey.RightAlign())
	return h[:], nil
}

// verifyDelegate checks the first hop of a delegated response: the responder
// certificate must be issued and signed by issuer, and be authorized to sign
// OCSP responses.
func verifyDelegate(responder, issuer *x509.Certificate) error {
	if !bytes.Equal(responder.RawIssuer, issuer.RawSubject) {
		return &VerifyError{Reason: ReasonResponderNotIssued}
	}
	if !hasOCSPSigning(responder) {
		return &VerifyError{Reason: ReasonResponderNotSigner}
	}
	return checkSignature(issuer, responder.SignatureAlgorithm, responder.RawTBSCertificate, responder.Signature, ReasonResponderSignature)
}

func hasOCSPSigning(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageOCSPSigning {
			return true
		}
	}
	return false
}

// checkSignature verifies signature over signed with the public key of
// signer. Every failure of the underlying primitives ends up as a
// *VerifyError, unsupported algorithms with ReasonAlgorithm.
func checkSignature(signer *x509.Certificate, alg x509.SignatureAlgorithm, signed, signature []byte, reason Reason) error {
	if alg == x509.UnknownSignatureAlgorithm {
		return &VerifyError{Reason: ReasonAlgorithm, Err: x509.ErrUnsupportedAlgorithm}
	}

	err := signer.CheckSignature(alg, signed, signature)
	if err == nil {
		return nil
	}

	var insecure x509.InsecureAlgorithmError
	if errors.Is(err, x509.ErrUnsupportedAlgorithm) || errors.As(err, &insecure) {
		return &VerifyError{Reason: ReasonAlgorithm, Err: err}
	}
	return &VerifyError{Reason: reason, Err: err}
}

// checkValidity enforces thisUpdate <= now <= nextUpdate, allowing for
// ClockSkew in both directions.
func checkValidity(res *Response, now time.Time) error {
	if res.ThisUpdate.IsZero() {
		return &VerifyError{Reason: ReasonNoThisUpdate}
	}
	if res.ThisUpdate.After(now.Add(ClockSkew)) {
		return &VerifyError{Reason: ReasonNotYetValid}
	}
	if !res.NextUpdate.IsZero() && res.NextUpdate.Before(now.Add(-ClockSkew)) {
		return &VerifyError{Reason: ReasonExpired}
	}
	return nil
}
