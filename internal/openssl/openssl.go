// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package openssl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matthewpi/revocation/internal/ocsp"
)

// ErrBroken is returned by every query made through a Backend whose
// preflight failed.
var ErrBroken = errors.New("openssl: backend unavailable")

// DefaultPath is the openssl binary looked up when Options.Path is empty.
const DefaultPath = "openssl"

// Options controls options for a [Backend].
type Options struct {
	// Path to the openssl binary, defaults to DefaultPath.
	Path string
	// Runner used to execute openssl, defaults to ExecRunner.
	Runner Runner
	// Timeout bounds every openssl invocation, defaults to 10 seconds.
	Timeout time.Duration
	// Logger to use for the [Backend] instance.
	Logger *slog.Logger
}

// headerStyle is how `openssl ocsp -header` wants its argument.
type headerStyle uint8

const (
	// -header Host=example.com (openssl >= 1.1.0)
	headerEquals headerStyle = iota
	// -header Host example.com
	headerSeparate
)

// Backend queries OCSP responders through the openssl binary.
//
// A Backend performs a one-time self-test when it is created. If openssl is
// missing or the self-test output is not recognized, the Backend is marked as
// broken for the rest of its lifetime and never runs openssl again.
type Backend struct {
	path    string
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger

	style  headerStyle
	broken atomic.Bool
}

// New creates a Backend and runs its preflight self-test.
func New(ctx context.Context, opts Options) *Backend {
	b := &Backend{
		path:    opts.Path,
		runner:  opts.Runner,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if b.path == "" {
		b.path = DefaultPath
	}
	if b.runner == nil {
		b.runner = ExecRunner{}
	}
	if b.timeout <= 0 {
		b.timeout = 10 * time.Second
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.preflight(ctx)
	return b
}

// Broken reports whether the preflight self-test failed.
func (b *Backend) Broken() bool {
	return b.broken.Load()
}

// preflight checks that openssl exists and detects which -header syntax it
// expects. New versions want `-header var=val`, old ones `-header var val`.
func (b *Backend) preflight(ctx context.Context) {
	if _, err := b.runner.LookPath(b.path); err != nil {
		b.logger.LogAttrs(ctx, slog.LevelInfo, "openssl not installed, can't check revocation", slog.String("path", b.path), slog.Any("err", err))
		b.broken.Store(true)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	stdout, stderr, err := b.runner.Run(ctx, nil, b.path, "ocsp", "-header", "var", "val")

	// openssl exits non-zero here; only failing to run it at all matters.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		b.logger.LogAttrs(ctx, slog.LevelInfo, "openssl self-test failed, can't check revocation", slog.Any("err", err))
		b.broken.Store(true)
		return
	}

	out := string(stderr) + string(stdout)
	switch {
	case strings.Contains(out, "Missing ="):
		b.style = headerEquals
	case strings.Contains(out, "ocsp:"), strings.Contains(out, "-help"), strings.Contains(out, "Usage"):
		b.style = headerSeparate
	default:
		b.logger.LogAttrs(ctx, slog.LevelInfo, "unrecognized openssl self-test output, can't check revocation", slog.String("output", out))
		b.broken.Store(true)
	}
}

// hostArgs returns the arguments following -header for host.
func (b *Backend) hostArgs(host string) []string {
	if b.style == headerSeparate {
		return []string{"Host", host}
	}
	return []string{"Host=" + host}
}

// Query asks the responder at url about the certificate in certPath, issued
// by the first certificate in chainPath. Failing to run openssl, or openssl
// exiting with an error, is reported as ocsp.ErrTransport.
func (b *Backend) Query(ctx context.Context, certPath, chainPath, url, host string) (Result, error) {
	if b.Broken() {
		return Result{}, ErrBroken
	}

	args := []string{
		"ocsp",
		"-no_nonce",
		"-issuer", chainPath,
		"-cert", certPath,
		"-url", url,
		"-CAfile", chainPath,
		"-verify_other", chainPath,
		"-trust_other",
		"-header",
	}
	args = append(args, b.hostArgs(host)...)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	b.logger.LogAttrs(ctx, slog.LevelDebug, "running openssl", slog.Any("args", args))
	stdout, stderr, err := b.runner.Run(ctx, nil, b.path, args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ocsp.ErrTransport, err)
	}
	return ParseStatus(certPath, string(stdout), string(stderr)), nil
}

// Times runs a DER encoded response through `openssl ocsp -resp_text` and
// parses the timestamps out of its output.
func (b *Backend) Times(ctx context.Context, raw []byte) (Times, error) {
	if b.Broken() {
		return Times{}, ErrBroken
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	stdout, _, err := b.runner.Run(ctx, raw, b.path, "ocsp", "-respin", "/dev/stdin", "-noverify", "-resp_text")
	if err != nil {
		return Times{}, fmt.Errorf("%w: %w", ocsp.ErrTransport, err)
	}
	return ParseTimes(string(stdout)), nil
}

// Translate turns a Result into a revocation verdict, logging anything that
// prevented a definitive answer. An unverified result returns
// ocsp.ErrUntrustedResponse alongside false.
func (b *Backend) Translate(ctx context.Context, label string, r Result) (bool, error) {
	unverified := !r.Verified
	switch {
	case unverified, r.Matched && r.Status == ocsp.Good && r.Warning != "", r.Matched && r.Status == ocsp.Unknown:
		b.logger.LogAttrs(ctx, slog.LevelInfo, "revocation status is unknown", slog.String("cert", label))
		b.logger.LogAttrs(ctx, slog.LevelDebug, "uncertain openssl output", slog.String("stdout", r.Output), slog.String("stderr", r.Errors))
		if unverified {
			return false, fmt.Errorf("%w: openssl could not verify the response", ocsp.ErrUntrustedResponse)
		}
		return false, nil
	case r.Matched && r.Status == ocsp.Good:
		return false, nil
	case r.Matched && r.Status == ocsp.Revoked:
		if r.Warning != "" {
			b.logger.LogAttrs(ctx, slog.LevelInfo, "ocsp revocation warning", slog.String("cert", label), slog.String("warning", r.Warning))
		}
		return true, nil
	default:
		b.logger.LogAttrs(ctx, slog.LevelWarn, "unable to properly parse openssl ocsp output", slog.String("stdout", r.Output), slog.String("stderr", r.Errors))
		return false, nil
	}
}
