// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ocsp"
)

// ContentTypeResponse is the media type of a DER encoded OCSP response.
const ContentTypeResponse = "application/ocsp-response"

// ResponseStatus is the outer status of an OCSP response.
type ResponseStatus = ocsp.ResponseStatus

const (
	Successful       = ocsp.Success
	MalformedRequest = ocsp.Malformed
	InternalError    = ocsp.InternalError
	TryLater         = ocsp.TryLater
	SigRequired      = ocsp.SignatureRequired
	Unauthorized     = ocsp.Unauthorized
)

// CertStatus is the revocation status a responder reports for a certificate.
type CertStatus int

const (
	Good CertStatus = iota
	Revoked
	Unknown
)

func (s CertStatus) String() string {
	switch s {
	case Good:
		return "good"
	case Revoked:
		return "revoked"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("CertStatus(%d)", int(s))
	}
}

// ResponderID identifies the signer of a response, either by the DER encoded
// subject name or by the SHA-1 hash of its public key. Exactly one is set.
type ResponderID struct {
	Name    []byte
	KeyHash []byte
}

// Response is a decoded OCSP response. Only Status and Raw are set when
// Status is not Successful.
type Response struct {
	Status     ResponseStatus
	CertStatus CertStatus

	ResponderID ResponderID

	// Certificates embedded by the responder, in the order they were sent.
	Certificates []*x509.Certificate

	Signature             []byte
	SignatureAlgorithm    x509.SignatureAlgorithm
	SignatureAlgorithmOID asn1.ObjectIdentifier

	// TBSResponseData is the exact DER the signature was computed over.
	TBSResponseData []byte

	HashAlgorithm  crypto.Hash
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int

	ProducedAt time.Time
	ThisUpdate time.Time
	// NextUpdate is zero when the responder did not set it.
	NextUpdate time.Time
	RevokedAt  time.Time

	RevocationReason int

	// Raw is the full response as received.
	Raw []byte
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedResponse}, args...)...)
}

// Decode strictly decodes a DER encoded OCSP response. Any structural
// violation results in an error wrapping ErrMalformedResponse. This includes
// trailing data at any level, members a SEQUENCE does not define, and
// non-DER forms such as an explicitly encoded default version.
//
// A response with an unsuccessful status is not an error here; the returned
// Response only has Status and Raw set in that case.
func Decode(der []byte) (*Response, error) {
	input := cryptobyte.String(der)
	var top cryptobyte.String
	if !input.ReadASN1(&top, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("invalid response")
	}
	if !input.Empty() {
		return nil, malformed("trailing data after response")
	}

	var code int
	if !top.ReadASN1Enum(&code) {
		return nil, malformed("invalid response status")
	}
	status := ResponseStatus(code)
	switch status {
	case Successful, MalformedRequest, InternalError, TryLater, SigRequired, Unauthorized:
	default:
		return nil, malformed("invalid response status %d", code)
	}

	var body cryptobyte.String
	var hasBody bool
	if !top.ReadOptionalASN1(&body, &hasBody, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, malformed("invalid response bytes")
	}
	if !top.Empty() {
		return nil, malformed("trailing data in response")
	}

	res := &Response{Status: status, Raw: der}
	if status != Successful {
		return res, nil
	}
	if !hasBody {
		return nil, malformed("successful response without response bytes")
	}

	var (
		rb           cryptobyte.String
		responseType asn1.ObjectIdentifier
		basicDER     cryptobyte.String
	)
	if !body.ReadASN1(&rb, cryptobyte_asn1.SEQUENCE) || !body.Empty() {
		return nil, malformed("invalid response bytes")
	}
	if !rb.ReadASN1ObjectIdentifier(&responseType) ||
		!rb.ReadASN1(&basicDER, cryptobyte_asn1.OCTET_STRING) ||
		!rb.Empty() {
		return nil, malformed("invalid response bytes")
	}
	if !responseType.Equal(oidOCSPBasic) {
		return nil, malformed("unsupported response type %v", responseType)
	}

	if err := decodeBasic(basicDER, res); err != nil {
		return nil, err
	}
	return res, nil
}

func decodeBasic(der cryptobyte.String, res *Response) error {
	var basic cryptobyte.String
	if !der.ReadASN1(&basic, cryptobyte_asn1.SEQUENCE) {
		return malformed("invalid basic response")
	}
	if !der.Empty() {
		return malformed("trailing data after basic response")
	}

	var tbs cryptobyte.String
	if !basic.ReadASN1Element(&tbs, cryptobyte_asn1.SEQUENCE) {
		return malformed("invalid response data")
	}
	res.TBSResponseData = tbs

	sigAlg, err := readAlgorithmIdentifier(&basic)
	if err != nil {
		return malformed("signature algorithm: %v", err)
	}
	res.SignatureAlgorithmOID = sigAlg
	res.SignatureAlgorithm = signatureAlgorithmFromOID(sigAlg)

	var sig asn1.BitString
	if !basic.ReadASN1BitString(&sig) {
		return malformed("invalid signature")
	}
	res.Signature = sig.RightAlign()

	var certs cryptobyte.String
	var hasCerts bool
	if !basic.ReadOptionalASN1(&certs, &hasCerts, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return malformed("invalid certificates")
	}
	if hasCerts {
		var seq cryptobyte.String
		if !certs.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !certs.Empty() {
			return malformed("invalid certificates")
		}
		for i := 0; !seq.Empty(); i++ {
			var raw cryptobyte.String
			if !seq.ReadASN1Element(&raw, cryptobyte_asn1.SEQUENCE) {
				return malformed("embedded certificate %d: invalid encoding", i)
			}
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return malformed("embedded certificate %d: %v", i, err)
			}
			res.Certificates = append(res.Certificates, cert)
		}
	}
	if !basic.Empty() {
		return malformed("trailing data in basic response")
	}

	return decodeResponseData(tbs, res)
}

func decodeResponseData(der cryptobyte.String, res *Response) error {
	var tbs cryptobyte.String
	if !der.ReadASN1(&tbs, cryptobyte_asn1.SEQUENCE) {
		return malformed("invalid response data")
	}

	// version is DEFAULT v1, so DER leaves it out entirely.
	var version cryptobyte.String
	var hasVersion bool
	if !tbs.ReadOptionalASN1(&version, &hasVersion, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return malformed("invalid response version")
	}
	if hasVersion {
		var v int
		if !version.ReadASN1Integer(&v) || !version.Empty() {
			return malformed("invalid response version")
		}
		if v == 0 {
			return malformed("default response version must not be encoded")
		}
		return malformed("unsupported response version %d", v)
	}

	var err error
	res.ResponderID, err = readResponderID(&tbs)
	if err != nil {
		return err
	}

	if res.ProducedAt, err = readTime(&tbs); err != nil {
		return malformed("producedAt: %v", err)
	}

	var responses cryptobyte.String
	if !tbs.ReadASN1(&responses, cryptobyte_asn1.SEQUENCE) {
		return malformed("invalid responses")
	}
	var n int
	for ; !responses.Empty(); n++ {
		var single cryptobyte.String
		if !responses.ReadASN1(&single, cryptobyte_asn1.SEQUENCE) {
			return malformed("invalid single response")
		}
		if n == 0 {
			if err := decodeSingle(single, res); err != nil {
				return err
			}
		}
	}
	if n != 1 {
		return malformed("expected exactly one single response, got %d", n)
	}

	if err := skipExtensions(&tbs, 1); err != nil {
		return malformed("response extensions: %v", err)
	}
	if !tbs.Empty() {
		return malformed("trailing data in response data")
	}
	return nil
}

func decodeSingle(single cryptobyte.String, res *Response) error {
	var id cryptobyte.String
	if !single.ReadASN1(&id, cryptobyte_asn1.SEQUENCE) {
		return malformed("invalid cert id")
	}
	hashOID, err := readAlgorithmIdentifier(&id)
	if err != nil {
		return malformed("cert id hash algorithm: %v", err)
	}
	res.HashAlgorithm = hashFromOID(hashOID)
	var nameHash, keyHash []byte
	serial := new(big.Int)
	if !id.ReadASN1Bytes(&nameHash, cryptobyte_asn1.OCTET_STRING) ||
		!id.ReadASN1Bytes(&keyHash, cryptobyte_asn1.OCTET_STRING) ||
		!id.ReadASN1Integer(serial) ||
		!id.Empty() {
		return malformed("invalid cert id")
	}
	res.IssuerNameHash = nameHash
	res.IssuerKeyHash = keyHash
	res.SerialNumber = serial

	var (
		content cryptobyte.String
		tag     cryptobyte_asn1.Tag
	)
	if !single.ReadAnyASN1(&content, &tag) {
		return malformed("invalid certificate status")
	}
	switch tag {
	case cryptobyte_asn1.Tag(0).ContextSpecific():
		if !content.Empty() {
			return malformed("invalid good status")
		}
		res.CertStatus = Good
	case cryptobyte_asn1.Tag(1).Constructed().ContextSpecific():
		if res.RevokedAt, err = readTime(&content); err != nil {
			return malformed("revocationTime: %v", err)
		}
		var reason cryptobyte.String
		var hasReason bool
		if !content.ReadOptionalASN1(&reason, &hasReason, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
			return malformed("invalid revocation reason")
		}
		if hasReason && (!reason.ReadASN1Enum(&res.RevocationReason) || !reason.Empty()) {
			return malformed("invalid revocation reason")
		}
		if !content.Empty() {
			return malformed("trailing data in revoked status")
		}
		res.CertStatus = Revoked
	case cryptobyte_asn1.Tag(2).ContextSpecific():
		if !content.Empty() {
			return malformed("invalid unknown status")
		}
		res.CertStatus = Unknown
	default:
		return malformed("invalid certificate status")
	}

	if res.ThisUpdate, err = readTime(&single); err != nil {
		return malformed("thisUpdate: %v", err)
	}
	var next cryptobyte.String
	var hasNext bool
	if !single.ReadOptionalASN1(&next, &hasNext, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return malformed("invalid nextUpdate")
	}
	if hasNext {
		if res.NextUpdate, err = readTime(&next); err != nil {
			return malformed("nextUpdate: %v", err)
		}
		if !next.Empty() {
			return malformed("trailing data in nextUpdate")
		}
	}

	if err := skipExtensions(&single, 1); err != nil {
		return malformed("single extensions: %v", err)
	}
	if !single.Empty() {
		return malformed("trailing data in single response")
	}
	return nil
}

func readResponderID(s *cryptobyte.String) (ResponderID, error) {
	var (
		content cryptobyte.String
		tag     cryptobyte_asn1.Tag
	)
	if !s.ReadAnyASN1(&content, &tag) {
		return ResponderID{}, malformed("invalid responder id")
	}
	switch tag {
	case cryptobyte_asn1.Tag(1).Constructed().ContextSpecific():
		var name cryptobyte.String
		if !content.ReadASN1Element(&name, cryptobyte_asn1.SEQUENCE) || !content.Empty() {
			return ResponderID{}, malformed("invalid responder name")
		}
		var rdn pkix.RDNSequence
		if rest, err := asn1.Unmarshal(name, &rdn); err != nil || len(rest) > 0 {
			return ResponderID{}, malformed("invalid responder name")
		}
		return ResponderID{Name: name}, nil
	case cryptobyte_asn1.Tag(2).Constructed().ContextSpecific():
		var keyHash []byte
		if !content.ReadASN1Bytes(&keyHash, cryptobyte_asn1.OCTET_STRING) || !content.Empty() {
			return ResponderID{}, malformed("invalid responder key hash")
		}
		return ResponderID{KeyHash: keyHash}, nil
	default:
		return ResponderID{}, malformed("invalid responder id tag %#x", uint8(tag))
	}
}

// readAlgorithmIdentifier reads an AlgorithmIdentifier and returns its OID.
// Parameters are accepted but not interpreted.
func readAlgorithmIdentifier(s *cryptobyte.String) (asn1.ObjectIdentifier, error) {
	var (
		alg cryptobyte.String
		oid asn1.ObjectIdentifier
	)
	if !s.ReadASN1(&alg, cryptobyte_asn1.SEQUENCE) || !alg.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("invalid algorithm identifier")
	}
	if !alg.Empty() {
		var params cryptobyte.String
		var tag cryptobyte_asn1.Tag
		if !alg.ReadAnyASN1Element(&params, &tag) || !alg.Empty() {
			return nil, errors.New("invalid algorithm parameters")
		}
	}
	return oid, nil
}

// readTime reads a GeneralizedTime, which DER requires to be in UTC.
func readTime(s *cryptobyte.String) (time.Time, error) {
	var t time.Time
	if !s.ReadASN1GeneralizedTime(&t) {
		return time.Time{}, errors.New("invalid time")
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, errors.New("time is not in UTC")
	}
	return t.UTC(), nil
}

// skipExtensions checks an optional explicitly tagged Extensions field.
// Extensions are not interpreted.
func skipExtensions(s *cryptobyte.String, tag uint8) error {
	var wrapper cryptobyte.String
	var present bool
	if !s.ReadOptionalASN1(&wrapper, &present, cryptobyte_asn1.Tag(tag).Constructed().ContextSpecific()) {
		return errors.New("invalid extensions")
	}
	if !present {
		return nil
	}
	var exts cryptobyte.String
	if !wrapper.ReadASN1(&exts, cryptobyte_asn1.SEQUENCE) || !wrapper.Empty() {
		return errors.New("invalid extensions")
	}
	for !exts.Empty() {
		var (
			ext   cryptobyte.String
			oid   asn1.ObjectIdentifier
			value []byte
		)
		if !exts.ReadASN1(&ext, cryptobyte_asn1.SEQUENCE) || !ext.ReadASN1ObjectIdentifier(&oid) {
			return errors.New("invalid extension")
		}
		if ext.PeekASN1Tag(cryptobyte_asn1.BOOLEAN) {
			var critical bool
			// critical is DEFAULT FALSE, so DER only allows TRUE here.
			if !ext.ReadASN1Boolean(&critical) || !critical {
				return fmt.Errorf("extension %v: invalid critical flag", oid)
			}
		}
		if !ext.ReadASN1Bytes(&value, cryptobyte_asn1.OCTET_STRING) || !ext.Empty() {
			return fmt.Errorf("extension %v: invalid encoding", oid)
		}
	}
	return nil
}
