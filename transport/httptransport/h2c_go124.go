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

//go:build go1.24

package httptransport

import (
	"net/http"
	"time"
)

// h2cTransport provides support for the "h2c" scheme, which is used to force
// HTTP/2 over clear-text (no TLS), aka H2C. As of Go 1.24, this basically
// looks just like simpleTransport (used for "http" and "https" schemes),
// except that it must adjust the transport's supported protocols (as well as
// transform the "h2c" scheme to "http").
type h2cTransport struct{}

func (h2cTransport) newRoundTripper(_ string, opts roundTripperOptions) roundTripperResult {
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)

	transport := &http.Transport{
		Proxy:                  opts.proxyFunc,
		DialContext:            opts.dialFunc,
		ForceAttemptHTTP2:      true,
		MaxIdleConnsPerHost:    4,
		MaxConnsPerHost:        opts.maxConnsPerHost,
		IdleConnTimeout:        opts.idleConnTimeout,
		MaxResponseHeaderBytes: opts.maxResponseHeaderBytes,
		ExpectContinueTimeout:  1 * time.Second,
		Protocols:              &protocols,
	}
	return roundTripperResult{roundTripper: transport, scheme: "http", close: transport.CloseIdleConnections}
}
