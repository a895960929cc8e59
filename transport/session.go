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
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/discoverylb/internal"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// SessionOption customizes NewSessionClient.
type SessionOption func(*SessionClient)

// WithSessionJitter randomizes the length of each session by up to half of
// fraction times the interval, in either direction. Spreading session ends
// keeps a fleet of clients from reconnecting in lockstep. The default of
// zero makes every session last exactly the interval.
func WithSessionJitter(fraction float64) SessionOption {
	return func(c *SessionClient) {
		if fraction > 0 {
			c.jitter = fraction
		}
	}
}

// WithSessionClock sets the clock used to time sessions.
func WithSessionClock(clock internal.Clock) SessionOption {
	return func(c *SessionClient) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSessionLogger sets the logger used to report session changes.
func WithSessionLogger(logger log.Logger) SessionOption {
	return func(c *SessionClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// SessionClient bounds how long requests keep going to the same client.
// Each session uses a client from the factory; once the session interval
// has passed, the next request closes it and starts a new session with a
// fresh client, so that load rebalances across servers over time.
//
// Requests in flight when a session ends complete on the old client.
type SessionClient struct {
	factory  ClientFactory
	interval time.Duration
	jitter   float64
	clock    internal.Clock
	logger   log.Logger
	rnd      *rand.Rand

	current atomic.Pointer[session]
	renewal singleflight.Group
	// renewMu orders session creation against Close, so that no session
	// is started after Close has released the last one.
	renewMu sync.Mutex
	closed  atomic.Bool
}

type session struct {
	id        uuid.UUID
	client    Client
	expiresAt time.Time
}

var _ Client = (*SessionClient)(nil)

// NewSessionClient returns a client that renews its underlying client
// every interval. The first session starts with the first request.
func NewSessionClient(factory ClientFactory, interval time.Duration, options ...SessionOption) *SessionClient {
	client := &SessionClient{
		factory:  factory,
		interval: interval,
		clock:    internal.NewRealClock(),
		logger:   log.NewNopLogger(),
		rnd:      internal.NewRand(),
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// Do executes the request on the current session's client.
func (c *SessionClient) Do(ctx context.Context, req *Request) (*Response, error) {
	current, err := c.session()
	if err != nil {
		return nil, err
	}
	return current.client.Do(ctx, req)
}

// Close ends the current session. Later calls to Do fail with
// ErrClientClosed. Close is idempotent.
func (c *SessionClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.renewMu.Lock()
	last := c.current.Swap(nil)
	c.renewMu.Unlock()
	if last == nil {
		return nil
	}
	level.Debug(c.logger).Log("msg", "session closed", "session", last.id)
	return last.client.Close()
}

func (c *SessionClient) session() (*session, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if current := c.current.Load(); current != nil && c.clock.Now().Before(current.expiresAt) {
		return current, nil
	}
	result, err, _ := c.renewal.Do("renew", func() (any, error) {
		c.renewMu.Lock()
		defer c.renewMu.Unlock()
		if c.closed.Load() {
			return nil, ErrClientClosed
		}
		now := c.clock.Now()
		previous := c.current.Load()
		if previous != nil && now.Before(previous.expiresAt) {
			return previous, nil
		}
		next := &session{
			id:        uuid.New(),
			client:    c.factory.NewClient(),
			expiresAt: now.Add(c.sessionLength()),
		}
		c.current.Store(next)
		if previous != nil {
			level.Debug(c.logger).Log("msg", "session ended", "session", previous.id)
			_ = previous.client.Close()
		}
		level.Debug(c.logger).Log("msg", "session started", "session", next.id, "expires", next.expiresAt)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*session), nil //nolint:forcetypeassert
}

// sessionLength is only called from within the renewal flight, which
// serializes use of rnd.
func (c *SessionClient) sessionLength() time.Duration {
	if c.jitter == 0 {
		return c.interval
	}
	delta := float64(c.interval) * c.jitter * (c.rnd.Float64() - 0.5)
	return c.interval + time.Duration(delta)
}
