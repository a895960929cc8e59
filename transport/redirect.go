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

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bufbuild/discoverylb/resolver"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultMaxRedirects is the number of redirects followed per request
// unless WithMaxRedirects says otherwise.
const DefaultMaxRedirects = 10

// RedirectOption customizes NewRedirectFactory.
type RedirectOption func(*redirectFactory)

// WithMaxRedirects sets how many redirects a single request may follow.
func WithMaxRedirects(limit int) RedirectOption {
	return func(f *redirectFactory) {
		if limit >= 0 {
			f.maxRedirects = limit
		}
	}
}

// WithRedirectLogger sets the logger used to report followed redirects.
func WithRedirectLogger(logger log.Logger) RedirectOption {
	return func(f *redirectFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewRedirectFactory decorates the clients of delegate so they follow
// redirects (302, 303, 307 and 308). The base URL of the redirect target is
// the Location with the request path removed. Once a request succeeds on a
// redirect target, later requests go straight to that target; a failed
// exchange drops it again and starts over at the original endpoint.
func NewRedirectFactory(delegate Factory, options ...RedirectOption) Factory {
	factory := &redirectFactory{
		delegate:     delegate,
		maxRedirects: DefaultMaxRedirects,
		logger:       log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(factory)
	}
	return factory
}

type redirectFactory struct {
	delegate     Factory
	maxRedirects int
	logger       log.Logger
}

func (f *redirectFactory) New(endpoint resolver.Endpoint) Client {
	return &redirectClient{
		factory:  f,
		endpoint: endpoint,
		origin:   f.delegate.New(endpoint),
	}
}

func (f *redirectFactory) Close() error {
	return f.delegate.Close()
}

type redirectClient struct {
	factory  *redirectFactory
	endpoint resolver.Endpoint
	origin   Client

	mu     sync.Mutex
	pinned *pinnedTarget
	closed bool
}

type pinnedTarget struct {
	endpoint resolver.Endpoint
	client   Client
}

func (c *redirectClient) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	start := c.pinned
	c.mu.Unlock()

	current := pinnedTarget{endpoint: c.endpoint, client: c.origin}
	if start != nil {
		current = *start
	}
	for hops := 0; ; hops++ {
		resp, err := current.client.Do(ctx, req)
		if err != nil {
			c.release(current, start)
			c.unpin(start)
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			c.pin(current, start)
			return resp, nil
		}
		if hops == c.factory.maxRedirects {
			c.release(current, start)
			c.unpin(start)
			return nil, &RedirectLimitError{Hops: hops, Last: resp}
		}
		location, err := resp.Location()
		if err != nil {
			c.release(current, start)
			c.unpin(start)
			return nil, err
		}
		next := redirectTarget(current.endpoint, location, req.Path)
		level.Debug(c.factory.logger).Log(
			"msg", "following redirect",
			"operation", req.Operation,
			"status", resp.StatusCode,
			"from", current.endpoint.ServiceURL,
			"to", next.ServiceURL,
		)
		c.release(current, start)
		current = pinnedTarget{endpoint: next, client: c.factory.delegate.New(next)}
	}
}

func (c *redirectClient) Close() error {
	c.mu.Lock()
	pinned := c.pinned
	c.pinned = nil
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	var errs []error
	if pinned != nil {
		errs = append(errs, pinned.client.Close())
	}
	errs = append(errs, c.origin.Close())
	return errors.Join(errs...)
}

// pin makes target the starting point of later requests. The origin
// client is never pinned: it is used when nothing is.
func (c *redirectClient) pin(target pinnedTarget, start *pinnedTarget) {
	if start != nil && target.client == start.client {
		return
	}
	if target.client == c.origin {
		c.unpin(start)
		return
	}
	c.mu.Lock()
	if c.closed || c.pinned != start {
		// Closed meanwhile, or a concurrent request pinned something else.
		c.mu.Unlock()
		_ = target.client.Close()
		return
	}
	c.pinned = &target
	c.mu.Unlock()
	if start != nil {
		_ = start.client.Close()
	}
}

func (c *redirectClient) unpin(start *pinnedTarget) {
	if start == nil {
		return
	}
	c.mu.Lock()
	if c.pinned != start {
		c.mu.Unlock()
		return
	}
	c.pinned = nil
	c.mu.Unlock()
	_ = start.client.Close()
}

// release closes a client created for an intermediate hop.
func (c *redirectClient) release(target pinnedTarget, start *pinnedTarget) {
	if target.client == c.origin || (start != nil && target.client == start.client) {
		return
	}
	_ = target.client.Close()
}

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// redirectTarget computes the endpoint a redirect points at. A relative
// location is resolved against the current endpoint.
func redirectTarget(current resolver.Endpoint, location *url.URL, requestPath string) resolver.Endpoint {
	target := location
	if base, err := url.Parse(current.ServiceURL); err == nil {
		target = base.ResolveReference(location)
	}
	target.RawQuery = ""
	target.Fragment = ""
	target.RawPath = ""
	requestPath = strings.TrimSuffix(requestPath, "/")
	switch {
	case requestPath != "" && strings.HasSuffix(strings.TrimSuffix(target.Path, "/"), requestPath):
		target.Path = strings.TrimSuffix(strings.TrimSuffix(target.Path, "/"), requestPath)
	default:
		target.Path = target.Path[:strings.LastIndex(target.Path, "/")+1]
	}
	return resolver.Endpoint{ServiceURL: withTrailingSlash(target.String()), Zone: current.Zone}
}
