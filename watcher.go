// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/matthewpi/revocation/internal/certs"
	"github.com/matthewpi/revocation/internal/ocsp"
	"github.com/matthewpi/revocation/internal/sets"
	"github.com/matthewpi/revocation/internal/wait"
)

// WatcherOptions controls options for a [Watcher]. Changes to WatcherOptions
// are ignored after being provided to a [Watcher].
type WatcherOptions struct {
	// Debounce is the duration to wait before triggering a reload, so that
	// several files being replaced at once only cause a single reload.
	Debounce time.Duration

	// DontStaple disables stapling good responses onto the served
	// certificate, by default it is enabled.
	DontStaple bool

	// Checker used to check the served certificate, defaults to a native
	// Checker using Logger.
	Checker *Checker

	// Logger to use for the [Watcher] instance.
	Logger *slog.Logger
}

// Watcher serves a certificate from disk, reloading it whenever its files
// change and checking its revocation status on every load.
type Watcher struct {
	options WatcherOptions
	checker *Checker

	// mx guards the watched paths.
	mx        sync.Mutex
	certPath  string
	keyPath   string
	chainPath string

	cert     atomic.Pointer[tls.Certificate]
	revoked  atomic.Bool
	debounce debounced

	fsWatcher *fsnotify.Watcher
	transport *ocsp.HTTPTransport

	logger *slog.Logger

	meter              metric.Meter
	reloadTotalCounter metric.Int64Counter
	reloadErrorCounter metric.Int64Counter
}

// NewWatcher creates a new [Watcher].
//
// After calling NewWatcher, configure it with Watcher.Reconfigure() and then
// run Watcher.Start().
func NewWatcher(options WatcherOptions) (*Watcher, error) {
	d := options.Debounce
	if d < 10*time.Millisecond {
		d = 100 * time.Millisecond
	}
	w := &Watcher{
		options:  options,
		checker:  options.Checker,
		logger:   options.Logger,
		meter:    otel.Meter("github.com/matthewpi/revocation"),
		debounce: debounce(d),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	var err error
	if w.checker == nil {
		w.checker, err = New(Options{Logger: w.logger})
		if err != nil {
			return nil, err
		}
	}
	w.transport = &ocsp.HTTPTransport{Timeout: w.checker.timeout}

	w.reloadTotalCounter, err = w.meter.Int64Counter("revocation.watcher.reload.total")
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create otel meter: %w", err)
	}
	w.reloadErrorCounter, err = w.meter.Int64Counter("revocation.watcher.reload.errors")
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create otel meter: %w", err)
	}
	w.fsWatcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to create fswatcher: %w", err)
	}
	return w, nil
}

// GetCertificate satisfies tls.Config#GetCertificate.
func (w *Watcher) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

// GetClientCertificate satisfies tls.Config#GetClientCertificate.
func (w *Watcher) GetClientCertificate(_ *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

// Revoked reports whether the last check of the served certificate found it
// revoked.
func (w *Watcher) Revoked() bool {
	return w.revoked.Load()
}

// Reconfigure loads the certificate at certPath with the key at keyPath,
// checks whether it has been revoked and starts watching the files for
// changes.
//
// chainPath is optional. Without it the issuer is taken from the
// intermediates following the leaf in certPath, or else downloaded from the
// leaf's issuing certificate URL.
//
// This method is used both for initial configuration and for
// reconfiguration if the paths need to be changed.
func (w *Watcher) Reconfigure(ctx context.Context, certPath, keyPath, chainPath string) error {
	w.reloadTotalCounter.Add(ctx, 1)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		w.reloadErrorCounter.Add(ctx, 1)
		return fmt.Errorf("revocation: failed to load x509 certificate: %w", err)
	}
	if cert.Leaf == nil {
		cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			w.reloadErrorCounter.Add(ctx, 1)
			return fmt.Errorf("revocation: failed to parse leaf certificate: %w", err)
		}
	}

	fields := []slog.Attr{
		slog.String("cert_path", certPath),
		slog.String("key_path", keyPath),
		slog.String("not_after", cert.Leaf.NotAfter.Format(time.DateTime)),
	}

	chain, err := w.chain(ctx, cert, chainPath)
	if err != nil {
		w.logger.LogAttrs(ctx, slog.LevelWarn, "failed to find issuer certificate", slog.Any("err", err))
	}

	ev := w.checker.Evaluate(ctx, Target{
		Certificate: cert.Leaf,
		Chain:       chain,
		CertPath:    certPath,
		ChainPath:   chainPath,
	})
	w.revoked.Store(ev.Revoked)
	if ev.Revoked {
		w.logger.LogAttrs(ctx, slog.LevelError, "serving a revoked certificate", fields...)
	}

	if !w.options.DontStaple && ev.response != nil {
		if err := ocsp.Staple(&cert, ev.response); err != nil {
			w.logger.LogAttrs(ctx, slog.LevelWarn, "failed to staple certificate", slog.Any("err", err))
		} else {
			w.logger.LogAttrs(ctx, slog.LevelInfo, "stapled certificate", fields...)
		}
	}

	if prev := w.cert.Swap(&cert); prev == nil {
		w.logger.LogAttrs(ctx, slog.LevelInfo, "certificate loaded", fields...)
	} else {
		w.logger.LogAttrs(ctx, slog.LevelInfo, "certificate reloaded", fields...)
	}

	return w.configureFsWatcher(ctx, certPath, keyPath, chainPath)
}

// chain returns the certificates that may have issued cert.
func (w *Watcher) chain(ctx context.Context, cert tls.Certificate, chainPath string) ([]*x509.Certificate, error) {
	if chainPath != "" {
		return certs.Load(chainPath)
	}
	if len(cert.Certificate) > 1 {
		chain := make([]*x509.Certificate, 0, len(cert.Certificate)-1)
		for _, der := range cert.Certificate[1:] {
			c, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("revocation: failed to parse chain certificate: %w", err)
			}
			chain = append(chain, c)
		}
		return chain, nil
	}

	issuer, err := ocsp.FetchIssuer(ctx, w.transport, cert.Leaf)
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{issuer}, nil
}

// configureFsWatcher replaces the watched files with the given paths.
func (w *Watcher) configureFsWatcher(ctx context.Context, certPath, keyPath, chainPath string) error {
	w.mx.Lock()
	defer w.mx.Unlock()

	// Initial configuration has all paths empty.
	if w.certPath == certPath && w.keyPath == keyPath && w.chainPath == chainPath {
		return nil
	}
	if w.fsWatcher == nil {
		return nil
	}

	if wl := w.fsWatcher.WatchList(); len(wl) > 0 {
		if err := w.forPaths(ctx, w.fsWatcher.Remove, wl...); err != nil {
			return err
		}
	}

	paths := []string{certPath, keyPath}
	if chainPath != "" {
		paths = append(paths, chainPath)
	}
	if err := w.forPaths(ctx, w.fsWatcher.Add, paths...); err != nil {
		return err
	}

	w.certPath = certPath
	w.keyPath = keyPath
	w.chainPath = chainPath
	return nil
}

// forPaths applies fn to every path, retrying the ones that fail until a
// timeout is reached. Files may briefly not exist while they are replaced.
func (w *Watcher) forPaths(ctx context.Context, fn func(string) error, paths ...string) error {
	pending := sets.New(paths...)
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, time.Second, 10*time.Second, true, func(context.Context) (bool, error) {
		for _, p := range pending.UnsortedList() {
			if err := fn(p); err != nil {
				lastErr = err
				return false, nil //nolint:nilerr
			}
			pending.Delete(p)
		}
		return true, nil
	})
	if err != nil {
		return errors.Join(err, lastErr)
	}
	return nil
}

// Start listens for filesystem events and reloads the certificate when
// necessary. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.fsWatcher == nil {
		panic("fsWatcher is nil")
	}
	defer w.fsWatcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.LogAttrs(ctx, slog.LevelError, "an error occurred while watching files", slog.Any("err", err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Remove) {
		return
	}

	// A removed file is usually about to be replaced, keep watching it.
	if event.Op.Has(fsnotify.Remove) {
		if err := w.fsWatcher.Add(event.Name); err != nil {
			w.logger.LogAttrs(ctx, slog.LevelError, "failed to re-watch file", slog.Any("err", err))
		}
	}

	w.debounce(func() {
		w.mx.Lock()
		certPath, keyPath, chainPath := w.certPath, w.keyPath, w.chainPath
		w.mx.Unlock()

		w.logger.LogAttrs(ctx, slog.LevelInfo, "reloading...")
		if err := w.Reconfigure(ctx, certPath, keyPath, chainPath); err != nil {
			w.logger.LogAttrs(ctx, slog.LevelError, "failed to reload certificate", slog.Any("err", err))
		}
	})
}
