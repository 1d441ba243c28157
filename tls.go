// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/net/http2"
)

// defaultTLSConfig returns the config used when TLSConfig.Config is unset.
func defaultTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{
			http2.NextProtoTLS,
			"http/1.1",
		},

		CipherSuites: []uint16{
			// TLS 1.0 - 1.2
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},

		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,

		CurvePreferences: defaultCurvePreferences,
	}
}

// TLSConfig builds a *tls.Config whose certificate is served by a [Watcher]
// and, when client certificates are requested, whose peers are checked for
// revocation.
type TLSConfig struct {
	// Config is the TLS config we are wrapping, defaults are filled in for
	// any unset fields.
	//
	// DO NOT pass this TLS config to a server or client, use the
	// GetTLSConfig() method instead.
	*tls.Config

	// CertPath is a path to a TLS certificate.
	//
	// This field is optional, but if set then KeyPath must also be provided.
	CertPath string
	// KeyPath is a path to a TLS private key.
	//
	// This field is optional, but if set then CertPath must also be provided.
	KeyPath string
	// ChainPath is an optional path to the issuer of the certificate.
	ChainPath string

	// DontStaple disables stapling good responses onto the certificate.
	DontStaple bool

	// Checker used for the served certificate and for peers, defaults to a
	// native Checker.
	Checker *Checker

	watcher *Watcher
}

// GetTLSConfig returns the tls.Config for a listener. If CertPath and KeyPath
// are set, they are served through a [Watcher] running until ctx is
// cancelled.
func (c *TLSConfig) GetTLSConfig(ctx context.Context) (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}

	if c.CertPath == "" && c.KeyPath == "" {
		return c.Config, nil
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return nil, errors.New("revocation: CertPath and KeyPath must both either be unset or set together")
	}

	defaults := defaultTLSConfig()
	tlsConfig := c.Config
	if tlsConfig == nil {
		tlsConfig = defaults
	} else {
		tlsConfig = tlsConfig.Clone()
		if len(tlsConfig.NextProtos) < 1 {
			tlsConfig.NextProtos = defaults.NextProtos
		}
		if len(tlsConfig.CipherSuites) < 1 {
			tlsConfig.CipherSuites = defaults.CipherSuites
		}
		if len(tlsConfig.CurvePreferences) < 1 {
			tlsConfig.CurvePreferences = defaults.CurvePreferences
		}
		if tlsConfig.MinVersion == 0 {
			tlsConfig.MinVersion = defaults.MinVersion
		}
		if tlsConfig.MaxVersion == 0 {
			tlsConfig.MaxVersion = defaults.MaxVersion
		}
	}

	if c.Checker == nil {
		var err error
		c.Checker, err = New(Options{})
		if err != nil {
			return nil, err
		}
	}

	// Check client certificates for revocation unless the caller verifies
	// them on its own.
	if tlsConfig.ClientAuth != tls.NoClientCert && tlsConfig.VerifyPeerCertificate == nil {
		tlsConfig.VerifyPeerCertificate = c.Checker.VerifyPeerCertificate
	}

	if c.watcher == nil {
		var err error
		c.watcher, err = NewWatcher(WatcherOptions{DontStaple: c.DontStaple, Checker: c.Checker})
		if err != nil {
			return nil, fmt.Errorf("revocation: failed to create watcher: %w", err)
		}
	}
	if err := c.watcher.Reconfigure(ctx, c.CertPath, c.KeyPath, c.ChainPath); err != nil {
		return nil, fmt.Errorf("revocation: failed to configure watcher: %w", err)
	}
	go c.watcher.Start(ctx)

	tlsConfig.GetCertificate = c.watcher.GetCertificate
	tlsConfig.GetClientCertificate = c.watcher.GetClientCertificate
	return tlsConfig, nil
}
