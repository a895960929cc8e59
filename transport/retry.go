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
	"sync"

	"github.com/bufbuild/discoverylb/internal/endpointset"
	"github.com/bufbuild/discoverylb/resolver"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultQuarantineRefreshPercentage is the share of candidates that may
// be quarantined before the quarantine is forgotten.
const DefaultQuarantineRefreshPercentage = 0.66

// RetryOption customizes NewRetryFactory.
type RetryOption func(*retryFactory)

// WithStatusEvaluator sets the evaluator that decides which outcomes are
// final. It defaults to NonFatalEvaluator.
func WithStatusEvaluator(evaluator StatusEvaluator) RetryOption {
	return func(f *retryFactory) {
		if evaluator != nil {
			f.evaluator = evaluator
		}
	}
}

// WithMaxAttempts bounds the number of attempts per operation. Zero, the
// default, allows one attempt per candidate endpoint.
func WithMaxAttempts(attempts int) RetryOption {
	return func(f *retryFactory) {
		f.maxAttempts = attempts
	}
}

// WithQuarantineRefreshPercentage sets the share of the candidate list
// that may be quarantined. Once as many endpoints as that have failed, the
// quarantine is cleared and all candidates are tried again.
func WithQuarantineRefreshPercentage(percentage float64) RetryOption {
	return func(f *retryFactory) {
		f.quarantinePercentage = percentage
	}
}

// WithRetryLogger sets the logger used to report failed attempts.
func WithRetryLogger(logger log.Logger) RetryOption {
	return func(f *retryFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewRetryFactory returns a factory of clients that fail over between the
// endpoints of res. Each operation first tries the endpoint of the last
// success, then the resolved endpoints in order, skipping quarantined
// ones. Endpoints whose attempt fails are quarantined.
//
// The resolver and the delegate factory are not owned: closing the
// returned factory does not close them.
func NewRetryFactory(res resolver.Resolver, delegate Factory, options ...RetryOption) ClientFactory {
	factory := &retryFactory{
		resolver:             res,
		delegate:             delegate,
		evaluator:            NonFatalEvaluator,
		quarantinePercentage: DefaultQuarantineRefreshPercentage,
		logger:               log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(factory)
	}
	return factory
}

type retryFactory struct {
	resolver             resolver.Resolver
	delegate             Factory
	evaluator            StatusEvaluator
	maxAttempts          int
	quarantinePercentage float64
	logger               log.Logger
}

func (f *retryFactory) NewClient() Client {
	return &retryClient{
		factory:    f,
		quarantine: endpointset.Set{},
	}
}

func (f *retryFactory) Close() error {
	return nil
}

type retryClient struct {
	factory *retryFactory

	mu         sync.Mutex
	sticky     *stickyClient
	quarantine endpointset.Set
	closed     bool
}

type stickyClient struct {
	endpoint resolver.Endpoint
	client   Client
}

func (c *retryClient) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	sticky := c.sticky
	c.mu.Unlock()

	var (
		candidates []resolver.Endpoint
		resolved   bool
		next       int
		attempts   int
		lastErr    error
		lastStatus int
		// attempted keeps an operation from trying an endpoint twice, even
		// when clearing the quarantine brings a failed one back.
		attempted = endpointset.Set{}
	)
	for c.factory.maxAttempts <= 0 || attempts < c.factory.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, fromSticky := sticky, sticky != nil
		sticky = nil
		if current == nil {
			if !resolved {
				candidates = c.candidates(ctx)
				resolved = true
			}
			for next < len(candidates) && attempted.Contains(candidates[next]) {
				next++
			}
			if next >= len(candidates) {
				break
			}
			endpoint := candidates[next]
			next++
			current = &stickyClient{endpoint: endpoint, client: c.factory.delegate.New(endpoint)}
		}
		attempts++
		attempted.Add(current.endpoint)

		resp, err := current.client.Do(ctx, req)
		if err != nil && ctx.Err() != nil {
			// Cancellation says nothing about the endpoint.
			if !fromSticky {
				_ = current.client.Close()
			}
			return nil, ctx.Err()
		}
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		if c.factory.evaluator.Acceptable(req.Operation, statusCode, err != nil) {
			c.keep(current, fromSticky)
			if attempts > 1 {
				level.Info(c.factory.logger).Log(
					"msg", "request succeeded after retrying",
					"operation", req.Operation,
					"attempt", attempts,
					"endpoint", current.endpoint,
				)
			}
			return resp, err
		}
		lastErr, lastStatus = err, statusCode
		level.Warn(c.factory.logger).Log(
			"msg", "request failed, retrying on another server if available",
			"operation", req.Operation,
			"endpoint", current.endpoint,
			"status", statusCode,
			"err", err,
		)
		c.drop(current, fromSticky)
		c.mu.Lock()
		c.quarantine.Add(current.endpoint)
		c.mu.Unlock()
	}
	if attempts == 0 {
		return nil, ErrNoEndpoints
	}
	return nil, &ExhaustedError{
		Operation:  req.Operation,
		Attempts:   attempts,
		Last:       lastErr,
		LastStatus: lastStatus,
	}
}

func (c *retryClient) Close() error {
	c.mu.Lock()
	sticky := c.sticky
	c.sticky = nil
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed || sticky == nil {
		return nil
	}
	return sticky.client.Close()
}

// candidates resolves the endpoints to try, without the quarantined ones.
// The quarantine only remembers current endpoints, and is cleared once it
// holds too large a share of them.
func (c *retryClient) candidates(ctx context.Context) []resolver.Endpoint {
	endpoints := c.factory.resolver.Endpoints(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quarantine.RetainAll(endpoints)
	if len(c.quarantine) == 0 {
		return endpoints
	}
	threshold := int(float64(len(endpoints)) * c.factory.quarantinePercentage)
	if threshold > len(endpoints) {
		threshold = len(endpoints)
	}
	if len(c.quarantine) >= threshold {
		level.Debug(c.factory.logger).Log(
			"msg", "clearing quarantined endpoints",
			"quarantined", len(c.quarantine),
			"threshold", threshold,
		)
		c.quarantine.Clear()
		return endpoints
	}
	return c.quarantine.Without(endpoints)
}

// keep makes the client the sticky one, closing the one it replaces. A
// client taken from the sticky slot is only kept if no concurrent request
// replaced or dropped it meanwhile.
func (c *retryClient) keep(current *stickyClient, fromSticky bool) {
	if fromSticky {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = current.client.Close()
		return
	}
	previous := c.sticky
	c.sticky = current
	c.mu.Unlock()
	if previous != nil {
		_ = previous.client.Close()
	}
}

// drop closes the client of a failed attempt. A client taken from the
// sticky slot is closed by whoever removes it from there.
func (c *retryClient) drop(current *stickyClient, fromSticky bool) {
	if fromSticky {
		c.mu.Lock()
		isSticky := c.sticky == current
		if isSticky {
			c.sticky = nil
		}
		c.mu.Unlock()
		if !isSticky {
			return
		}
	}
	_ = current.client.Close()
}
