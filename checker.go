// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/matthewpi/revocation/internal/certs"
	"github.com/matthewpi/revocation/internal/ocsp"
	"github.com/matthewpi/revocation/internal/openssl"
)

// CertStatus is the status a responder reports for a certificate.
type CertStatus = ocsp.CertStatus

// Statuses a responder can report.
const (
	Good    = ocsp.Good
	Revoked = ocsp.Revoked
	Unknown = ocsp.Unknown
)

// BackendMode is the backend a [Checker] settled on when it was created.
type BackendMode struct {
	Backend Backend
	// Broken is set if the openssl backend failed its self-test. A broken
	// Checker never runs openssl and reports every certificate as not
	// revoked.
	Broken bool
}

// Target is a certificate to check. Either Certificate or CertPath must be
// set; Chain and ChainPath locate its issuer. The openssl backend only works
// with paths.
type Target struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate

	CertPath  string
	ChainPath string
}

// TimeWindow holds the timestamps of a response. A zero time means the field
// was absent or could not be read.
type TimeWindow struct {
	ProducedAt time.Time
	ThisUpdate time.Time
	NextUpdate time.Time
}

// Evaluation is the detailed outcome of a revocation check.
type Evaluation struct {
	// Revoked is only ever true for an authenticated response reporting the
	// certificate as revoked.
	Revoked bool
	// Expired is set when the check was skipped because the certificate has
	// already expired.
	Expired bool
	// Status is the authenticated status, Unknown if there is none. openssl
	// may report a status for a response outside of its validity window;
	// Revoked is the verdict to act on in that case.
	Status CertStatus
	// Responder is the URL of the responder that was asked.
	Responder string
	// Window holds the timestamps of the response, if any.
	Window TimeWindow
	// Raw is the DER encoded response, only set by the native backend.
	Raw []byte
	// Err explains why no authenticated status is available.
	Err error

	response *ocsp.Response
}

// Checker checks whether certificates have been revoked by asking the OCSP
// responder named in them.
//
// Checker fails open: anything that prevents a definitive, authenticated
// answer results in a certificate being reported as not revoked. A Checker
// is safe for concurrent use.
type Checker struct {
	mode    BackendMode
	backend backend
	timeout time.Duration
	now     func() time.Time

	logger *slog.Logger

	meter                metric.Meter
	checksTotalCounter   metric.Int64Counter
	checksRevokedCounter metric.Int64Counter
	checksErrorCounter   metric.Int64Counter
}

// New creates a new [Checker].
//
// With BackendOpenSSL, New runs a self-test against the openssl binary. A
// failed self-test is not an error; it is recorded in Checker.Mode() and
// every check made afterwards reports the certificate as not revoked.
func New(options Options) (*Checker, error) {
	c := &Checker{
		timeout: options.Timeout,
		now:     options.Now,
		logger:  options.Logger,
		meter:   otel.Meter("github.com/matthewpi/revocation"),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	var err error
	c.checksTotalCounter, err = c.meter.Int64Counter("revocation.checks.total")
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create otel meter: %w", err)
	}
	c.checksRevokedCounter, err = c.meter.Int64Counter("revocation.checks.revoked")
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create otel meter: %w", err)
	}
	c.checksErrorCounter, err = c.meter.Int64Counter("revocation.checks.errors")
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create otel meter: %w", err)
	}

	switch options.Backend {
	case "", BackendNative:
		transport := options.Transport
		if transport == nil {
			transport = &ocsp.HTTPTransport{Timeout: c.timeout}
		}
		c.mode = BackendMode{Backend: BackendNative}
		c.backend = &nativeBackend{transport: transport, hash: options.Hash, now: c.now}
	case BackendOpenSSL:
		b := openssl.New(context.Background(), openssl.Options{
			Path:    options.OpenSSLPath,
			Runner:  options.Runner,
			Timeout: c.timeout,
			Logger:  c.logger,
		})
		c.mode = BackendMode{Backend: BackendOpenSSL, Broken: b.Broken()}
		c.backend = opensslBackend{b}
	default:
		return nil, fmt.Errorf("revocation: unsupported backend %q", options.Backend)
	}
	return c, nil
}

// Mode returns the backend the Checker uses.
func (c *Checker) Mode() BackendMode {
	return c.mode
}

// Check reports whether cert, issued by a certificate in chain, has been
// revoked.
func (c *Checker) Check(ctx context.Context, cert *x509.Certificate, chain []*x509.Certificate) bool {
	return c.Evaluate(ctx, Target{Certificate: cert, Chain: chain}).Revoked
}

// CheckFiles reports whether the certificate stored at certPath, issued by a
// certificate stored at chainPath, has been revoked.
func (c *Checker) CheckFiles(ctx context.Context, certPath, chainPath string) bool {
	return c.Evaluate(ctx, Target{CertPath: certPath, ChainPath: chainPath}).Revoked
}

// Evaluate checks t and reports the details of how the verdict was reached.
func (c *Checker) Evaluate(ctx context.Context, t Target) (ev Evaluation) {
	c.checksTotalCounter.Add(ctx, 1)
	defer func() {
		if r := recover(); r != nil {
			ev = Evaluation{Status: Unknown, Err: fmt.Errorf("%w: panic: %v", ErrUntrustedResponse, r)}
		}
		c.report(ctx, t, &ev)
	}()

	ev = Evaluation{Status: Unknown}
	if t.Certificate == nil {
		if t.CertPath == "" {
			ev.Err = errors.New("revocation: no certificate to check")
			return ev
		}
		list, err := certs.Load(t.CertPath)
		if err != nil {
			ev.Err = err
			return ev
		}
		t.Certificate = list[0]
	}

	// Revocation of an expired certificate no longer matters.
	if !c.now().Before(ocsp.ExpiresAt(t.Certificate)) {
		ev.Expired = true
		return ev
	}

	responder, err := ocsp.LocateResponder(t.Certificate)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Responder = responder.URL

	if c.mode.Broken {
		ev.Err = ErrBackendBroken
		return ev
	}

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	a, err := c.backend.query(qctx, t, responder)
	ev.Window = a.window
	ev.Raw = a.raw
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Status = a.status
	ev.Revoked = a.revoked
	ev.response = a.response
	return ev
}

// report logs and records the outcome of a check.
func (c *Checker) report(ctx context.Context, t Target, ev *Evaluation) {
	fields := make([]slog.Attr, 0, 4)
	if t.Certificate != nil {
		fields = append(fields, slog.String("serial", t.Certificate.SerialNumber.String()))
	}
	if t.CertPath != "" {
		fields = append(fields, slog.String("cert_path", t.CertPath))
	}
	if ev.Responder != "" {
		fields = append(fields, slog.String("url", ev.Responder))
	}

	switch {
	case ev.Expired:
		c.logger.LogAttrs(ctx, slog.LevelDebug, "certificate has expired, skipping revocation check", fields...)
	case ev.Revoked:
		c.checksRevokedCounter.Add(ctx, 1)
		c.logger.LogAttrs(ctx, slog.LevelInfo, "certificate has been revoked", fields...)
	case ev.Err != nil:
		c.checksErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", errorReason(ev.Err))))
		var reported reportedError
		if errors.As(ev.Err, &reported) {
			return
		}
		fields = append(fields, slog.Any("err", ev.Err))
		c.logger.LogAttrs(ctx, errorLevel(ev.Err), "revocation check failed", fields...)
	}
}

func errorLevel(err error) slog.Level {
	switch {
	case errors.Is(err, ErrNoResponder), errors.Is(err, ErrBackendBroken):
		return slog.LevelDebug
	case errors.Is(err, ErrTransport):
		// Most likely we are offline.
		return slog.LevelInfo
	case errors.Is(err, ErrNoIssuer):
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Times reads the timestamps of a DER encoded response without verifying it.
// Unreadable responses yield a zero TimeWindow.
func (c *Checker) Times(ctx context.Context, raw []byte) TimeWindow {
	if c.mode.Broken {
		return TimeWindow{}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	w, err := c.backend.times(ctx, raw)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "failed to read ocsp response times", slog.Any("err", err))
		return TimeWindow{}
	}
	return w
}

// VerifyPeerCertificate satisfies tls.Config#VerifyPeerCertificate. It
// rejects a peer only if its certificate has been verifiably revoked.
func (c *Checker) VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	var leaf *x509.Certificate
	var chain []*x509.Certificate
	if len(verifiedChains) > 0 && len(verifiedChains[0]) > 0 {
		leaf, chain = verifiedChains[0][0], verifiedChains[0][1:]
	} else {
		if len(rawCerts) < 1 {
			return nil
		}
		list, err := x509.ParseCertificates(joinDER(rawCerts))
		if err != nil {
			// The TLS stack is responsible for rejecting garbage.
			return nil
		}
		leaf, chain = list[0], list[1:]
	}

	if c.Check(context.Background(), leaf, chain) {
		return fmt.Errorf("%w: serial %s", ErrRevoked, leaf.SerialNumber)
	}
	return nil
}

func joinDER(raw [][]byte) []byte {
	n := 0
	for _, b := range raw {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range raw {
		out = append(out, b...)
	}
	return out
}
