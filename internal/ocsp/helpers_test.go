// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	oidSHA1             = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidECDSAWithSHA256  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidMD5WithRSA       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 4}
	oidUnknownSignature = asn1.ObjectIdentifier{1, 2, 3, 4}
)

var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

var serialCounter int64 = 100

func nextSerial() *big.Int {
	serialCounter++
	return big.NewInt(serialCounter)
}

// testCA is a certificate together with its private key.
type testCA struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// newCA creates a self-signed CA named name.
func newCA(t *testing.T, name string) testCA {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"Test"}},
		NotBefore:             testNow.Add(-24 * time.Hour),
		NotAfter:              testNow.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return testCA{Cert: cert, Key: key}
}

// issue signs tmpl with the CA, filling in a serial and a fresh key.
func (ca testCA) issue(t *testing.T, tmpl *x509.Certificate) testCA {
	t.Helper()
	key := newKey(t)
	if tmpl.SerialNumber == nil {
		tmpl.SerialNumber = nextSerial()
	}
	if tmpl.NotBefore.IsZero() {
		tmpl.NotBefore = testNow.Add(-time.Hour)
	}
	if tmpl.NotAfter.IsZero() {
		tmpl.NotAfter = testNow.Add(90 * 24 * time.Hour)
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, key.Public(), ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return testCA{Cert: cert, Key: key}
}

func (ca testCA) leaf(t *testing.T) *x509.Certificate {
	t.Helper()
	return ca.issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "example.com"},
		DNSNames:    []string{"example.com"},
		OCSPServer:  []string{"http://ocsp.example.com/"},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}).Cert
}

func (ca testCA) delegate(t *testing.T, ekus ...x509.ExtKeyUsage) testCA {
	t.Helper()
	return ca.issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "OCSP Responder"},
		ExtKeyUsage: ekus,
	})
}

// The structures below encode responses for tests. Extra, when set, is
// appended to the SEQUENCE as a member it does not define.

type responseASN1 struct {
	Status   asn1.Enumerated
	Response responseBytes `asn1:"explicit,tag:0,optional"`
}

type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type basicResponse struct {
	TBSResponseData    responseData
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
	Extra              asn1.RawValue   `asn1:"optional"`
}

type responseData struct {
	Raw            asn1.RawContent
	Version        asn1.RawValue `asn1:"optional"`
	RawResponderID asn1.RawValue
	ProducedAt     time.Time `asn1:"generalized"`
	Responses      []singleResponse
	Extensions     []pkix.Extension `asn1:"optional,explicit,tag:1"`
	Extra          asn1.RawValue    `asn1:"optional"`
}

type singleResponse struct {
	CertID           certID
	Good             asn1.Flag        `asn1:"tag:0,optional"`
	Revoked          revokedInfo      `asn1:"tag:1,optional"`
	Unknown          asn1.Flag        `asn1:"tag:2,optional"`
	ThisUpdate       time.Time        `asn1:"generalized"`
	NextUpdate       time.Time        `asn1:"generalized,explicit,tag:0,optional"`
	SingleExtensions []pkix.Extension `asn1:"explicit,tag:1,optional"`
	Extra            asn1.RawValue    `asn1:"optional"`
}

type certID struct {
	HashAlgorithm  pkix.AlgorithmIdentifier
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
	Extra          asn1.RawValue `asn1:"optional"`
}

type revokedInfo struct {
	RevocationTime time.Time       `asn1:"generalized"`
	Reason         asn1.Enumerated `asn1:"explicit,tag:0,optional"`
}

// extraInteger is an INTEGER 42.
var extraInteger = asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagInteger, Bytes: []byte{42}}

// responseTemplate describes a response for buildResponse. Zero values are
// filled in with a Good, issuer-signed response for Request.
type responseTemplate struct {
	Status     int
	CertStatus CertStatus

	Request *Request
	// Serial overrides Request.SerialNumber.
	Serial *big.Int

	// Responder is identified in the response, by key hash if ByKey is set.
	Responder *x509.Certificate
	ByKey     bool
	// Certificates are embedded in the response.
	Certificates []*x509.Certificate

	// Signer signs the response with SignatureOID, ECDSA with SHA-256 by
	// default.
	Signer       crypto.Signer
	SignatureOID asn1.ObjectIdentifier
	// CorruptSignature flips a bit in the signature.
	CorruptSignature bool

	ProducedAt time.Time
	ThisUpdate time.Time
	NextUpdate time.Time
	RevokedAt  time.Time

	// Version, when set, is encoded explicitly even if it is the default.
	Version *int
	// Extensions are added to the response data.
	Extensions []pkix.Extension
	// Extra members appended to the named SEQUENCEs.
	ExtraBasic, ExtraData, ExtraSingle, ExtraCertID bool
}

func buildResponse(t *testing.T, tmpl responseTemplate) []byte {
	t.Helper()
	if tmpl.Status != int(Successful) {
		der, err := asn1.Marshal(responseASN1{Status: asn1.Enumerated(tmpl.Status)})
		require.NoError(t, err)
		return der
	}
	require.NotNil(t, tmpl.Request)
	require.NotNil(t, tmpl.Responder)
	require.NotNil(t, tmpl.Signer)

	if tmpl.SignatureOID == nil {
		tmpl.SignatureOID = oidECDSAWithSHA256
	}
	if tmpl.ProducedAt.IsZero() {
		tmpl.ProducedAt = testNow.Add(-time.Minute)
	}
	if tmpl.ThisUpdate.IsZero() {
		tmpl.ThisUpdate = testNow.Add(-time.Hour)
	}
	serial := tmpl.Request.SerialNumber
	if tmpl.Serial != nil {
		serial = tmpl.Serial
	}

	single := singleResponse{
		CertID: certID{
			HashAlgorithm:  pkix.AlgorithmIdentifier{Algorithm: hashOIDFor(t, tmpl.Request.HashAlgorithm), Parameters: asn1.NullRawValue},
			IssuerNameHash: tmpl.Request.IssuerNameHash,
			IssuerKeyHash:  tmpl.Request.IssuerKeyHash,
			SerialNumber:   serial,
		},
		ThisUpdate: tmpl.ThisUpdate.UTC(),
	}
	if tmpl.ExtraSingle {
		single.Extra = extraInteger
	}
	if tmpl.ExtraCertID {
		single.CertID.Extra = extraInteger
	}
	if !tmpl.NextUpdate.IsZero() {
		single.NextUpdate = tmpl.NextUpdate.UTC()
	}
	switch tmpl.CertStatus {
	case Good:
		single.Good = true
	case Unknown:
		single.Unknown = true
	case Revoked:
		at := tmpl.RevokedAt
		if at.IsZero() {
			at = testNow.Add(-48 * time.Hour)
		}
		single.Revoked = revokedInfo{RevocationTime: at.UTC(), Reason: 1}
	}

	rid := asn1.RawValue{Class: asn1.ClassContextSpecific, IsCompound: true}
	if tmpl.ByKey {
		h, err := KeyHash(tmpl.Responder)
		require.NoError(t, err)
		rid.Tag = 2
		rid.Bytes, err = asn1.Marshal(h)
		require.NoError(t, err)
	} else {
		rid.Tag = 1
		rid.Bytes = tmpl.Responder.RawSubject
	}

	data := responseData{
		RawResponderID: rid,
		ProducedAt:     tmpl.ProducedAt.UTC(),
		Responses:      []singleResponse{single},
		Extensions:     tmpl.Extensions,
	}
	if tmpl.Version != nil {
		v, err := asn1.Marshal(*tmpl.Version)
		require.NoError(t, err)
		data.Version = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: v}
	}
	if tmpl.ExtraData {
		data.Extra = extraInteger
	}
	tbs, err := asn1.Marshal(data)
	require.NoError(t, err)

	digest := sha256.Sum256(tbs)
	sig, err := tmpl.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	if tmpl.CorruptSignature {
		sig[len(sig)/2] ^= 0x01
	}

	basic := basicResponse{
		TBSResponseData:    responseData{Raw: tbs},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: tmpl.SignatureOID},
		Signature:          asn1.BitString{Bytes: sig, BitLength: 8 * len(sig)},
	}
	for _, c := range tmpl.Certificates {
		basic.Certificates = append(basic.Certificates, asn1.RawValue{FullBytes: c.Raw})
	}
	if tmpl.ExtraBasic {
		basic.Extra = extraInteger
	}
	basicDER, err := asn1.Marshal(basic)
	require.NoError(t, err)

	der, err := asn1.Marshal(responseASN1{
		Status:   asn1.Enumerated(Successful),
		Response: responseBytes{ResponseType: oidOCSPBasic, Response: basicDER},
	})
	require.NoError(t, err)
	return der
}

func hashOIDFor(t *testing.T, h crypto.Hash) asn1.ObjectIdentifier {
	t.Helper()
	for _, e := range hashOIDs {
		if e.hash == h {
			return e.oid
		}
	}
	t.Fatalf("no oid for hash %v", h)
	return nil
}

// fixture is a CA, a leaf it issued and a request for the leaf.
type fixture struct {
	CA   testCA
	Leaf *x509.Certificate
	Req  *Request
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ca := newCA(t, "Test CA")
	leaf := ca.leaf(t)
	req, err := NewRequest(leaf, ca.Cert, crypto.SHA1)
	require.NoError(t, err)
	return fixture{CA: ca, Leaf: leaf, Req: req}
}

// direct returns a template for a response signed by the CA itself.
func (f fixture) direct(status CertStatus) responseTemplate {
	return responseTemplate{
		CertStatus: status,
		Request:    f.Req,
		Responder:  f.CA.Cert,
		Signer:     f.CA.Key,
	}
}
