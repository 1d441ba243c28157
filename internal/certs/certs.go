// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package certs loads X.509 certificates from PEM, DER or PKCS#7 encoded
// data.
package certs

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/cloudflare/cfssl/crypto/pkcs7"
	"github.com/cloudflare/cfssl/helpers"
)

var (
	// ErrNoCertificates is returned when data contains no certificates.
	ErrNoCertificates = errors.New("certs: no certificates found")

	// ErrParseCertificate indicates a failure to parse the certificates from
	// the provided data.
	ErrParseCertificate = errors.New("certs: failed to parse certificate")
)

// Parse decodes every certificate in data, in the order they appear. data may
// be a PEM bundle, concatenated DER certificates or a DER PKCS#7 bundle.
func Parse(data []byte) ([]*x509.Certificate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoCertificates
	}

	if bytes.HasPrefix(data, []byte("-----BEGIN")) {
		certs, err := helpers.ParseCertificatesPEM(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseCertificate, err)
		}
		if len(certs) == 0 {
			return nil, ErrNoCertificates
		}
		return certs, nil
	}

	if certs, err := x509.ParseCertificates(data); err == nil && len(certs) > 0 {
		return certs, nil
	}

	p, err := pkcs7.ParsePKCS7(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseCertificate, err)
	}
	if len(p.Content.SignedData.Certificates) == 0 {
		return nil, ErrNoCertificates
	}
	return p.Content.SignedData.Certificates, nil
}

// Load reads and parses the certificates stored at path.
func Load(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certs: failed to read %q: %w", path, err)
	}
	certs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return certs, nil
}
