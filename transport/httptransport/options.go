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

package httptransport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

//nolint:gochecknoglobals
var (
	defaultDialer = &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

const (
	// DefaultRequestTimeout bounds each request unless another timeout is
	// configured or the request's context already has a deadline.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxResponseBytes bounds the size of response bodies.
	DefaultMaxResponseBytes = 64 << 20
)

// Option is an option used to customize the behavior of a Factory.
type Option interface {
	apply(*factoryOptions)
}

// WithProxy configures how requests interact with HTTP proxies.
//
// The given proxyFunc returns the URL of a proxy server to use for the
// given HTTP request. If no proxy should be used, it should return nil, nil.
// If a nil proxyFunc is provided, no proxy will ever be used. If no
// WithProxy option is provided, [http.ProxyFromEnvironment] is used.
func WithProxy(proxyFunc func(*http.Request) (*url.URL, error)) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.proxyFunc = proxyFunc
		opts.proxySet = true
	})
}

// WithNoProxy returns an option that disables use of HTTP proxies.
func WithNoProxy() Option {
	return WithProxy(nil)
}

// WithDefaultTimeout limits requests that otherwise have no timeout to
// the given timeout. Unlike WithRequestTimeout, if the request's context
// already has a deadline, then no timeout is applied. If neither option is
// used, DefaultRequestTimeout is applied the same way.
func WithDefaultTimeout(duration time.Duration) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.defaultTimeout = duration
		opts.requestTimeout = 0
	})
}

// WithRequestTimeout limits all requests to the given timeout. This time
// is the entire duration of the request, including sending the request,
// waiting for a response, and consuming the response body.
func WithRequestTimeout(duration time.Duration) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.defaultTimeout = 0
		opts.requestTimeout = duration
	})
}

// WithDialer configures the function used to establish network
// connections. If no WithDialer option is provided, a default [net.Dialer]
// is used that uses a 30-second dial timeout and configures the connection
// to use TCP keep-alive every 30 seconds.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig adds custom TLS configuration, used with "https" servers.
// The given timeout is applied to the TLS handshake step. If the given
// timeout is zero or no WithTLSConfig option is used, a default timeout of
// 10 seconds will be used.
func WithTLSConfig(config *tls.Config, handshakeTimeout time.Duration) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.tlsClientConfig = config
		opts.tlsHandshakeTimeout = handshakeTimeout
	})
}

// WithMaxResponseHeaderBytes configures the maximum size of response headers
// to consume. If zero or if no WithMaxResponseHeaderBytes option is used,
// a 1 MB limit (2^20 bytes) applies.
func WithMaxResponseHeaderBytes(limit int) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.maxResponseHeaderBytes = int64(limit)
	})
}

// WithMaxResponseBytes configures the maximum size of a response body.
// Larger bodies fail the request. It defaults to DefaultMaxResponseBytes.
func WithMaxResponseBytes(limit int64) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.maxResponseBytes = limit
	})
}

// WithIdleConnectionTimeout configures a timeout for how long an idle
// connection will remain open. If zero or no WithIdleConnectionTimeout
// option is used, idle connections will be left open indefinitely. If
// registry servers or intermediary load balancers place time limits on
// idle connections, this should be configured to be less than that.
func WithIdleConnectionTimeout(duration time.Duration) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.idleConnTimeout = duration
	})
}

// WithMaxConnectionsPerHost limits the number of connections to a single
// registry server. Zero, the default, means no limit.
func WithMaxConnectionsPerHost(limit int) Option {
	return optionFunc(func(opts *factoryOptions) {
		opts.maxConnsPerHost = limit
	})
}

// WithHeader adds a header to every request, unless the request already
// sets it.
func WithHeader(name, value string) Option {
	return optionFunc(func(opts *factoryOptions) {
		if opts.header == nil {
			opts.header = http.Header{}
		}
		opts.header.Add(name, value)
	})
}

type optionFunc func(*factoryOptions)

func (f optionFunc) apply(opts *factoryOptions) {
	f(opts)
}

type factoryOptions struct {
	dialFunc               func(ctx context.Context, network, addr string) (net.Conn, error)
	proxyFunc              func(*http.Request) (*url.URL, error)
	proxySet               bool
	maxResponseHeaderBytes int64
	maxResponseBytes       int64
	idleConnTimeout        time.Duration
	maxConnsPerHost        int
	tlsClientConfig        *tls.Config
	tlsHandshakeTimeout    time.Duration
	defaultTimeout         time.Duration
	requestTimeout         time.Duration
	header                 http.Header
}

func (opts *factoryOptions) applyDefaults() {
	if opts.dialFunc == nil {
		opts.dialFunc = defaultDialer.DialContext
	}
	if !opts.proxySet {
		opts.proxyFunc = http.ProxyFromEnvironment
	}
	if opts.maxResponseHeaderBytes == 0 {
		opts.maxResponseHeaderBytes = 1 << 20
	}
	if opts.maxResponseBytes == 0 {
		opts.maxResponseBytes = DefaultMaxResponseBytes
	}
	if opts.tlsHandshakeTimeout == 0 {
		opts.tlsHandshakeTimeout = 10 * time.Second
	}
	if opts.defaultTimeout == 0 && opts.requestTimeout == 0 {
		opts.defaultTimeout = DefaultRequestTimeout
	}
}
