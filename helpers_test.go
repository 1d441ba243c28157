// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	xocsp "golang.org/x/crypto/ocsp"
)

var serialCounter atomic.Int64

type keyPair struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

func issue(t *testing.T, parent *keyPair, tmpl *x509.Certificate) *keyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl.SerialNumber = big.NewInt(1000 + serialCounter.Add(1))
	if tmpl.NotBefore.IsZero() {
		tmpl.NotBefore = time.Now().Add(-time.Hour)
	}
	if tmpl.NotAfter.IsZero() {
		tmpl.NotAfter = time.Now().Add(30 * 24 * time.Hour)
	}

	signerCert, signerKey := tmpl, crypto.Signer(key)
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, key.Public(), signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &keyPair{Cert: cert, Key: key}
}

func newCA(t *testing.T, name string) *keyPair {
	t.Helper()
	return issue(t, nil, &x509.Certificate{
		Subject:               pkix.Name{CommonName: name},
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
	})
}

// responder is an OCSP responder answering with whatever answer returns.
type responder struct {
	*httptest.Server

	mx     sync.Mutex
	answer func(req *xocsp.Request) (int, []byte)
	hits   int
}

func newResponder(t *testing.T) *responder {
	t.Helper()
	r := &responder{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		parsed, err := xocsp.ParseRequest(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		r.mx.Lock()
		r.hits++
		answer := r.answer
		r.mx.Unlock()

		status, res := answer(parsed)
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.WriteHeader(status)
		_, _ = w.Write(res)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *responder) set(answer func(req *xocsp.Request) (int, []byte)) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.answer = answer
}

func (r *responder) count() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.hits
}

// pki is a CA, a leaf it issued pointing at an OCSP responder, and that
// responder.
type pki struct {
	CA        *keyPair
	Leaf      *keyPair
	Responder *responder
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	p := &pki{CA: newCA(t, "Test CA"), Responder: newResponder(t)}
	p.Leaf = p.leaf(t, time.Now().Add(30*24*time.Hour))
	return p
}

func (p *pki) leaf(t *testing.T, notAfter time.Time) *keyPair {
	t.Helper()
	return issue(t, p.CA, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "example.com"},
		DNSNames:    []string{"example.com"},
		OCSPServer:  []string{p.Responder.URL},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		NotBefore:   notAfter.Add(-60 * 24 * time.Hour),
		NotAfter:    notAfter,
	})
}

func (p *pki) delegate(t *testing.T, issuer *keyPair) *keyPair {
	t.Helper()
	return issue(t, issuer, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "OCSP Responder"},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning},
	})
}

// respond makes the responder answer with status, signed by signer. If
// signer is not the CA its certificate is embedded in the response.
func (p *pki) respond(t *testing.T, status int, signer *keyPair) {
	t.Helper()
	p.Responder.set(func(req *xocsp.Request) (int, []byte) {
		return http.StatusOK, p.response(t, req.SerialNumber, status, signer)
	})
}

func (p *pki) response(t *testing.T, serial *big.Int, status int, signer *keyPair) []byte {
	tmpl := xocsp.Response{
		Status:       status,
		SerialNumber: serial,
		ThisUpdate:   time.Now().Add(-time.Hour),
		NextUpdate:   time.Now().Add(24 * time.Hour),
	}
	if status == xocsp.Revoked {
		tmpl.RevokedAt = time.Now().Add(-2 * time.Hour)
	}
	if signer != p.CA {
		tmpl.Certificate = signer.Cert
	}
	der, err := xocsp.CreateResponse(p.CA.Cert, signer.Cert, tmpl, signer.Key)
	if err != nil {
		t.Errorf("creating response: %v", err)
	}
	return der
}

func (p *pki) chain() []*x509.Certificate {
	return []*x509.Certificate{p.CA.Cert}
}

// writeFiles stores the leaf, its key and the chain as PEM files.
func (p *pki) writeFiles(t *testing.T, dir string) (certPath, keyPath, chainPath string) {
	t.Helper()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "privkey.pem")
	chainPath = filepath.Join(dir, "chain.pem")

	keyDER, err := x509.MarshalECPrivateKey(p.Leaf.Key)
	require.NoError(t, err)
	writePEM(t, certPath, "CERTIFICATE", p.Leaf.Cert.Raw)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	writePEM(t, chainPath, "CERTIFICATE", p.CA.Cert.Raw)
	return certPath, keyPath, chainPath
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeRunner stands in for the openssl binary.
type fakeRunner struct {
	mx        sync.Mutex
	missing   bool
	preflight string
	stdout    string
	stderr    string
	err       error
	calls     [][]string
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.missing {
		return "", errors.New("not found")
	}
	return file, nil
}

func (f *fakeRunner) Run(_ context.Context, _ []byte, _ string, args ...string) ([]byte, []byte, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.calls = append(f.calls, args)
	if len(args) == 4 && args[1] == "-header" {
		return nil, []byte(f.preflight), nil
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func (f *fakeRunner) count() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.calls)
}
