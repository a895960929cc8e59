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

// roundTripperFactory creates the round-tripper used for one URL scheme.
type roundTripperFactory interface {
	newRoundTripper(scheme string, opts roundTripperOptions) roundTripperResult
}

// roundTripperResult is a round-tripper created by a roundTripperFactory.
type roundTripperResult struct {
	roundTripper http.RoundTripper
	// scheme, if non-empty, replaces the request's scheme. The "h2c"
	// scheme selects a transport but is sent as plain "http".
	scheme string
	close  func()
}

type roundTripperOptions struct {
	dialFunc               func(ctx context.Context, network, addr string) (net.Conn, error)
	proxyFunc              func(*http.Request) (*url.URL, error)
	maxResponseHeaderBytes int64
	idleConnTimeout        time.Duration
	maxConnsPerHost        int
	tlsClientConfig        *tls.Config
	tlsHandshakeTimeout    time.Duration
}

type simpleTransport struct{}

func (simpleTransport) newRoundTripper(_ string, opts roundTripperOptions) roundTripperResult {
	transport := &http.Transport{
		Proxy:                  opts.proxyFunc,
		DialContext:            opts.dialFunc,
		ForceAttemptHTTP2:      true,
		MaxIdleConnsPerHost:    4,
		MaxConnsPerHost:        opts.maxConnsPerHost,
		IdleConnTimeout:        opts.idleConnTimeout,
		TLSHandshakeTimeout:    opts.tlsHandshakeTimeout,
		TLSClientConfig:        opts.tlsClientConfig,
		MaxResponseHeaderBytes: opts.maxResponseHeaderBytes,
		ExpectContinueTimeout:  1 * time.Second,
	}
	return roundTripperResult{roundTripper: transport, close: transport.CloseIdleConnections}
}
