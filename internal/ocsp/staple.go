// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotStapleable is returned by Staple for responses that must not be
// attached to a certificate.
var ErrNotStapleable = errors.New("ocsp: response cannot be stapled")

// Staple attaches a verified response to cert. Only responses reporting the
// certificate as Good are stapled, and only if they do not outlive the
// certificate itself.
func Staple(cert *tls.Certificate, res *Response) error {
	if cert == nil || cert.Leaf == nil {
		return fmt.Errorf("%w: certificate has no parsed leaf", ErrNotStapleable)
	}
	if res == nil || res.Status != Successful {
		return fmt.Errorf("%w: unsuccessful response", ErrNotStapleable)
	}
	if res.CertStatus != Good {
		return fmt.Errorf("%w: status is %s", ErrNotStapleable, res.CertStatus)
	}

	// Check if the OCSP response is somehow valid even after the certificate would expire.
	if expAt := ExpiresAt(cert.Leaf); res.NextUpdate.After(expAt) {
		return fmt.Errorf(`%w: response for "%s" valid after certificate expiration (%s)`, ErrNotStapleable, cert.Leaf.Subject.CommonName, res.NextUpdate.Sub(expAt))
	}

	cert.OCSPStaple = res.Raw
	return nil
}

// FetchIssuer attempts to get the issuer of the given leaf certificate by
// using the first IssuingCertificateURL found on the leaf certificate. If no
// IssuingCertificateURLs are present on the leaf certificate, an error will be
// returned.
func FetchIssuer(ctx context.Context, t *HTTPTransport, leaf *x509.Certificate) (*x509.Certificate, error) {
	if len(leaf.IssuingCertificateURL) == 0 {
		return nil, errors.New("ocsp: no URL to get issuing certificate with")
	}

	status, body, err := t.Get(ctx, leaf.IssuingCertificateURL[0])
	if err != nil {
		return nil, fmt.Errorf("error getting issuer certificate: %w", err)
	}
	if expected := http.StatusOK; status != expected {
		return nil, fmt.Errorf("http: expected %d, got %d", expected, status)
	}

	issuer, err := x509.ParseCertificate(body)
	if err != nil {
		return nil, fmt.Errorf("error parsing issuer certificate: %w", err)
	}
	return issuer, nil
}

// ExpiresAt return the time that a certificate expires. Account for the 1s
// resolution of ASN.1 UTCTime/GeneralizedTime by including the extra fraction
// of a second of certificate validity beyond the NotAfter value.
func ExpiresAt(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter.Truncate(time.Second).Add(1 * time.Second)
}
