// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ocsp"
)

// ContentTypeRequest is the media type of a DER encoded OCSP request.
const ContentTypeRequest = "application/ocsp-request"

// Request is a single-certificate OCSP request.
type Request struct {
	// DER is the encoded request as sent to the responder.
	DER []byte

	// HashAlgorithm used to compute the issuer hashes.
	HashAlgorithm  crypto.Hash
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
}

// NewRequest builds the request for cert issued by issuer. The encoding is
// deterministic and carries no nonce extension. If hash is zero, SHA-1 is
// used as it is the only hash every responder is required to understand.
func NewRequest(cert, issuer *x509.Certificate, hash crypto.Hash) (*Request, error) {
	if cert == nil || issuer == nil {
		return nil, errors.New("ocsp: certificate and issuer are required")
	}
	if hash == 0 {
		hash = crypto.SHA1
	}

	der, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("error creating ocsp request: %w", err)
	}

	// Read the fields back from the encoding so they are exactly what the
	// responder will see.
	parsed, err := ocsp.ParseRequest(der)
	if err != nil {
		return nil, fmt.Errorf("error parsing ocsp request: %w", err)
	}

	return &Request{
		DER:            der,
		HashAlgorithm:  parsed.HashAlgorithm,
		IssuerNameHash: parsed.IssuerNameHash,
		IssuerKeyHash:  parsed.IssuerKeyHash,
		SerialNumber:   parsed.SerialNumber,
	}, nil
}
