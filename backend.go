// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"github.com/matthewpi/revocation/internal/certs"
	"github.com/matthewpi/revocation/internal/ocsp"
	"github.com/matthewpi/revocation/internal/openssl"
)

// backend queries a responder and reports the certificate status it vouches
// for. A nil error means the status was authenticated.
type backend interface {
	query(ctx context.Context, t Target, r ocsp.Responder) (answer, error)
	times(ctx context.Context, raw []byte) (TimeWindow, error)
}

// answer is what a backend learned from a responder.
type answer struct {
	status   CertStatus
	revoked  bool
	window   TimeWindow
	raw      []byte
	response *ocsp.Response
}

// nativeBackend speaks OCSP over HTTP and verifies responses in-process.
type nativeBackend struct {
	transport ocsp.Transport
	hash      crypto.Hash
	now       func() time.Time
}

func (b *nativeBackend) query(ctx context.Context, t Target, r ocsp.Responder) (answer, error) {
	chain := t.Chain
	if len(chain) == 0 && t.ChainPath != "" {
		var err error
		chain, err = certs.Load(t.ChainPath)
		if err != nil {
			return answer{}, fmt.Errorf("%w: %w", ErrNoIssuer, err)
		}
	}
	issuer := findIssuer(t.Certificate, chain)
	if issuer == nil {
		return answer{}, ErrNoIssuer
	}

	req, err := ocsp.NewRequest(t.Certificate, issuer, b.hash)
	if err != nil {
		return answer{}, fmt.Errorf("%w: %w", ErrUntrustedResponse, err)
	}

	status, body, err := b.transport.Post(ctx, r.URL, req.DER, ocsp.ContentTypeRequest)
	if err != nil {
		return answer{}, err
	}
	if status != http.StatusOK {
		return answer{}, fmt.Errorf("%w: responder answered with http status %d", ErrTransport, status)
	}

	res, err := ocsp.Decode(body)
	if err != nil {
		return answer{}, err
	}
	if err := ocsp.Verify(res, req, issuer, b.now()); err != nil {
		return answer{raw: res.Raw}, err
	}

	return answer{
		status:   res.CertStatus,
		revoked:  res.CertStatus == ocsp.Revoked,
		window:   windowOf(res),
		raw:      res.Raw,
		response: res,
	}, nil
}

func (b *nativeBackend) times(_ context.Context, raw []byte) (TimeWindow, error) {
	res, err := ocsp.Decode(raw)
	if err != nil {
		return TimeWindow{}, err
	}
	return windowOf(res), nil
}

func windowOf(res *ocsp.Response) TimeWindow {
	return TimeWindow{
		ProducedAt: res.ProducedAt,
		ThisUpdate: res.ThisUpdate,
		NextUpdate: res.NextUpdate,
	}
}

// findIssuer returns the certificate in chain that issued cert, or the first
// certificate of the chain if none names it.
func findIssuer(cert *x509.Certificate, chain []*x509.Certificate) *x509.Certificate {
	for _, c := range chain {
		if c != nil && bytes.Equal(c.RawSubject, cert.RawIssuer) {
			return c
		}
	}
	if len(chain) > 0 {
		return chain[0]
	}
	return nil
}

// opensslBackend asks the openssl binary. openssl reads certificates from
// disk, so targets must carry file paths.
type opensslBackend struct {
	*openssl.Backend
}

func (b opensslBackend) query(ctx context.Context, t Target, r ocsp.Responder) (answer, error) {
	if t.CertPath == "" || t.ChainPath == "" {
		return answer{}, fmt.Errorf("%w: openssl needs certificate and chain files", ErrTransport)
	}

	res, err := b.Query(ctx, t.CertPath, t.ChainPath, r.URL, r.Host)
	if err != nil {
		return answer{}, err
	}

	a := answer{
		status: ocsp.Unknown,
		window: TimeWindow{ThisUpdate: res.ThisUpdate, NextUpdate: res.NextUpdate},
	}
	revoked, err := b.Translate(ctx, t.CertPath, res)
	if err != nil {
		// Translate has logged why.
		return a, reportedError{err}
	}
	// A status printed after a validity warning is still reported as is.
	// Translate has already lowered the verdict for it.
	switch {
	case revoked:
		a.status = ocsp.Revoked
	case res.Matched:
		a.status = res.Status
	}
	a.revoked = revoked
	return a, nil
}

func (b opensslBackend) times(ctx context.Context, raw []byte) (TimeWindow, error) {
	t, err := b.Times(ctx, raw)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow(t), nil
}
