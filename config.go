// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"crypto"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthewpi/revocation/internal/ocsp"
	"github.com/matthewpi/revocation/internal/openssl"
)

// Backend selects how a [Checker] talks to OCSP responders.
type Backend string

const (
	// BackendNative builds, sends and verifies requests in-process.
	BackendNative Backend = "native"
	// BackendOpenSSL shells out to the openssl binary.
	BackendOpenSSL Backend = "openssl"
)

// DefaultTimeout bounds a single responder query.
const DefaultTimeout = 10 * time.Second

// Options controls options for a [Checker]. Changes to Options are ignored
// after being provided to a [Checker].
type Options struct {
	// Backend to use, defaults to BackendNative.
	Backend Backend

	// Timeout bounds every responder query or openssl invocation, defaults
	// to DefaultTimeout.
	Timeout time.Duration

	// Hash used for the issuer hashes of native requests, defaults to SHA-1.
	Hash crypto.Hash

	// OpenSSLPath is the openssl binary used by BackendOpenSSL.
	OpenSSLPath string

	// Runner executes openssl, defaults to running real processes.
	Runner openssl.Runner

	// Transport used by BackendNative, defaults to an ocsp.HTTPTransport
	// bound by Timeout.
	Transport ocsp.Transport

	// Logger to use for the [Checker] instance.
	Logger *slog.Logger

	// Now returns the current time, defaults to time.Now.
	Now func() time.Time
}

// Config is the YAML representation of Options.
//
//	backend: openssl
//	timeout: 5s
//	hash: sha256
//	openssl_path: /usr/bin/openssl
type Config struct {
	Backend     Backend       `yaml:"backend"`
	Timeout     time.Duration `yaml:"timeout"`
	Hash        string        `yaml:"hash"`
	OpenSSLPath string        `yaml:"openssl_path"`
}

var hashes = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

// ParseConfig parses and validates a YAML config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("revocation: failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("revocation: invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("revocation: failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendNative, BackendOpenSSL:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.Hash != "" {
		if _, ok := hashes[strings.ToLower(c.Hash)]; !ok {
			return fmt.Errorf("unsupported hash: %s", c.Hash)
		}
	}
	return nil
}

// Options converts the config into Options. The config is expected to have
// been validated.
func (c *Config) Options() Options {
	return Options{
		Backend:     c.Backend,
		Timeout:     c.Timeout,
		Hash:        hashes[strings.ToLower(c.Hash)],
		OpenSSLPath: c.OpenSSLPath,
	}
}
