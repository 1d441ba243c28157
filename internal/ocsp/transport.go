// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ocsp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valyala/bytebufferpool"
)

// maxBodySize caps how much of a responder's answer is read.
const maxBodySize = 1024 * 1024

// Transport sends an encoded request to a responder and returns the HTTP
// status code and body of its answer.
//
// Implementations must honour cancellation of ctx.
type Transport interface {
	Post(ctx context.Context, url string, body []byte, contentType string) (int, []byte, error)
}

// HTTPTransport is a Transport backed by an *http.Client.
type HTTPTransport struct {
	// Client used for requests, defaults to http.DefaultClient.
	Client *http.Client
	// Timeout bounds every request made through the transport. Zero means
	// only the deadline of the context applies.
	Timeout time.Duration
	// UserAgent sent with every request, if set.
	UserAgent string
}

var _ Transport = (*HTTPTransport)(nil)

var bodyPool bytebufferpool.Pool

// Post implements Transport.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte, contentType string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: error creating http request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", ContentTypeResponse)
	req.Header.Set("Content-Type", contentType)
	return t.do(ctx, req)
}

// Get fetches url, it is used to download issuer certificates.
func (t *HTTPTransport) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: error creating http request: %w", ErrTransport, err)
	}
	return t.do(ctx, req)
}

func (t *HTTPTransport) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer res.Body.Close()

	buf := bodyPool.Get()
	defer bodyPool.Put(buf)

	// Wrap the body with a limit reader to prevent us from reading too much
	// data.
	if _, err := buf.ReadFrom(io.LimitReader(res.Body, maxBodySize)); err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: error reading response: %w", ErrTransport, err)
	}

	// The buffer goes back to the pool, hand out a copy.
	return res.StatusCode, bytes.Clone(buf.Bytes()), nil
}
