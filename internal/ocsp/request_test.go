// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"crypto"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xocsp "golang.org/x/crypto/ocsp"
)

func TestNewRequest(t *testing.T) {
	ca := newCA(t, "Test CA")
	leaf := ca.leaf(t)

	t.Run("defaults to sha1", func(t *testing.T) {
		req, err := NewRequest(leaf, ca.Cert, 0)
		require.NoError(t, err)
		assert.Equal(t, crypto.SHA1, req.HashAlgorithm)
		assert.Equal(t, 0, leaf.SerialNumber.Cmp(req.SerialNumber))

		nameHash := sha1.Sum(ca.Cert.RawSubject)
		assert.Equal(t, nameHash[:], req.IssuerNameHash)
		keyHash, err := KeyHash(ca.Cert)
		require.NoError(t, err)
		assert.Equal(t, keyHash, req.IssuerKeyHash)
	})

	t.Run("sha256", func(t *testing.T) {
		req, err := NewRequest(leaf, ca.Cert, crypto.SHA256)
		require.NoError(t, err)
		assert.Equal(t, crypto.SHA256, req.HashAlgorithm)
		assert.Len(t, req.IssuerNameHash, 32)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := NewRequest(leaf, ca.Cert, crypto.SHA1)
		require.NoError(t, err)
		b, err := NewRequest(leaf, ca.Cert, crypto.SHA1)
		require.NoError(t, err)
		assert.Equal(t, a.DER, b.DER)

		parsed, err := xocsp.ParseRequest(a.DER)
		require.NoError(t, err)
		assert.Equal(t, 0, parsed.SerialNumber.Cmp(leaf.SerialNumber))
	})

	t.Run("missing issuer", func(t *testing.T) {
		_, err := NewRequest(leaf, nil, crypto.SHA1)
		assert.Error(t, err)
	})
}

func TestRequestResponseRoundTrip(t *testing.T) {
	f := newFixture(t)
	res, err := Decode(buildResponse(t, f.direct(Good)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.SerialNumber.Cmp(f.Req.SerialNumber))
	assert.Equal(t, f.Req.IssuerNameHash, res.IssuerNameHash)
	assert.Equal(t, f.Req.IssuerKeyHash, res.IssuerKeyHash)
	assert.Equal(t, f.Req.HashAlgorithm, res.HashAlgorithm)
}
