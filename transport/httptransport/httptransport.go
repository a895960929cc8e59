// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httptransport sends registry requests over HTTP. It provides the
// raw per-endpoint client factory at the bottom of the client pipeline.
//
// All clients of a Factory share its connection pools, one per URL scheme.
// Besides "http" and "https", endpoints may use the "h2c" scheme to force
// HTTP/2 over clear-text. Redirects are never followed here; they are
// returned as responses so that the redirect wrapper of package transport
// can handle them.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/bufbuild/discoverylb/resolver"
	"github.com/bufbuild/discoverylb/transport"
	"golang.org/x/sync/errgroup"
)

var errResponseTooLarge = errors.New("response body exceeds size limit")

// Factory creates clients that talk to a single endpoint over HTTP.
type Factory struct {
	opts       factoryOptions
	schemes    map[string]roundTripperFactory
	rtOptions  roundTripperOptions
	mu         sync.Mutex
	transports map[string]roundTripperResult
	// +checklocks:mu
	closed bool
}

var _ transport.Factory = (*Factory)(nil)

// NewFactory returns a new Factory that uses the given options.
func NewFactory(options ...Option) *Factory {
	var opts factoryOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	return &Factory{
		opts: opts,
		schemes: map[string]roundTripperFactory{
			"http":  simpleTransport{},
			"https": simpleTransport{},
			"h2c":   h2cTransport{},
		},
		rtOptions: roundTripperOptions{
			dialFunc:               opts.dialFunc,
			proxyFunc:              opts.proxyFunc,
			maxResponseHeaderBytes: opts.maxResponseHeaderBytes,
			idleConnTimeout:        opts.idleConnTimeout,
			maxConnsPerHost:        opts.maxConnsPerHost,
			tlsClientConfig:        opts.tlsClientConfig,
			tlsHandshakeTimeout:    opts.tlsHandshakeTimeout,
		},
		transports: map[string]roundTripperResult{},
	}
}

// New returns a client for the given endpoint. Closing the client has no
// effect on the shared connection pools.
func (f *Factory) New(endpoint resolver.Endpoint) transport.Client {
	base, err := url.Parse(endpoint.ServiceURL)
	if err == nil && base.Host == "" {
		err = fmt.Errorf("service URL %q has no host", endpoint.ServiceURL)
	}
	return &client{factory: f, endpoint: endpoint, base: base, baseErr: err}
}

// Close releases the idle connections of all pools. Clients fail with
// transport.ErrClientClosed afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	transports := f.transports
	f.transports = nil
	f.mu.Unlock()

	var grp errgroup.Group
	for _, result := range transports {
		if result.close == nil {
			continue
		}
		grp.Go(func() error {
			result.close()
			return nil
		})
	}
	return grp.Wait()
}

func (f *Factory) roundTripper(scheme string) (roundTripperResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return roundTripperResult{}, transport.ErrClientClosed
	}
	if result, ok := f.transports[scheme]; ok {
		return result, nil
	}
	rtFactory, ok := f.schemes[scheme]
	if !ok {
		return roundTripperResult{}, fmt.Errorf("unsupported URL scheme %q", scheme)
	}
	result := rtFactory.newRoundTripper(scheme, f.rtOptions)
	f.transports[scheme] = result
	return result, nil
}

type client struct {
	factory  *Factory
	endpoint resolver.Endpoint
	base     *url.URL
	baseErr  error
}

func (c *client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if c.baseErr != nil {
		return nil, c.baseErr
	}
	rt, err := c.factory.roundTripper(c.base.Scheme)
	if err != nil {
		return nil, err
	}
	target := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}
	if rt.scheme != "" {
		target.Scheme = rt.scheme
	}

	opts := &c.factory.opts
	if opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.requestTimeout)
		defer cancel()
	} else if _, hasDeadline := ctx.Deadline(); !hasDeadline && opts.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.defaultTimeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for name, values := range req.Header {
		httpReq.Header[name] = values
	}
	for name, values := range opts.header {
		if _, ok := httpReq.Header[name]; !ok {
			httpReq.Header[name] = values
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := rt.roundTripper.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, opts.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(respBody)) > opts.maxResponseBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes)", c.endpoint.ServiceURL, errResponseTooLarge, opts.maxResponseBytes)
	}
	return &transport.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *client) Close() error {
	return nil
}
