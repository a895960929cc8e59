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

package resolver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/discoverylb/internal"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// DefaultRefreshInterval is how often an AsyncResolver refreshes its
	// snapshot when no other interval is configured.
	DefaultRefreshInterval = 5 * time.Minute
	// defaultMaxBackoffMultiplier bounds the delay between failed
	// refreshes, as a multiple of the refresh interval.
	defaultMaxBackoffMultiplier = 10
)

// AsyncOption customizes an AsyncResolver.
type AsyncOption func(*AsyncResolver)

// WithRefreshInterval sets how often the snapshot is refreshed after a
// successful refresh. It defaults to DefaultRefreshInterval.
func WithRefreshInterval(interval time.Duration) AsyncOption {
	return func(r *AsyncResolver) {
		if interval > 0 {
			r.refreshInterval = interval
		}
	}
}

// WithMaxBackoff bounds the delay between consecutive failed refreshes.
// Failed refreshes are retried with exponential backoff, starting at the
// refresh interval. It defaults to ten times the refresh interval.
func WithMaxBackoff(maxBackoff time.Duration) AsyncOption {
	return func(r *AsyncResolver) {
		if maxBackoff > 0 {
			r.maxBackoff = maxBackoff
		}
	}
}

// WithWarmUpTimeout makes NewAsync fetch the first snapshot synchronously,
// waiting at most the given duration for it. If the warm-up fails or times
// out, the resolver starts cold and keeps refreshing in the background.
//
// By default there is no warm-up: the resolver returns an empty list (or
// the initial endpoints, see WithInitialEndpoints) until the first
// background refresh completes.
func WithWarmUpTimeout(timeout time.Duration) AsyncOption {
	return func(r *AsyncResolver) {
		r.warmUpTimeout = timeout
	}
}

// WithInitialEndpoints seeds the snapshot that is reported until the first
// successful refresh.
func WithInitialEndpoints(endpoints ...Endpoint) AsyncOption {
	return func(r *AsyncResolver) {
		r.initial = append([]Endpoint(nil), endpoints...)
	}
}

// WithLogger sets the logger used to report failed refreshes.
func WithLogger(logger log.Logger) AsyncOption {
	return func(r *AsyncResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func withClock(clock internal.Clock) AsyncOption {
	return func(r *AsyncResolver) {
		r.clock = clock
	}
}

// AsyncResolver serves endpoints from an in-memory snapshot that a
// background goroutine refreshes from a delegate resolver. Reads never
// block on the delegate.
//
// A refresh that yields no endpoints, or that panics, is a failure: the
// previous snapshot is kept and the refresh is retried with backoff.
type AsyncResolver struct {
	delegate        Resolver
	refreshInterval time.Duration
	maxBackoff      time.Duration
	warmUpTimeout   time.Duration
	initial         []Endpoint
	logger          log.Logger
	clock           internal.Clock

	snapshot atomic.Pointer[snapshot]

	cancel    context.CancelFunc
	tasks     sync.WaitGroup
	closeOnce sync.Once
}

type snapshot struct {
	endpoints []Endpoint
	fetchedAt time.Time
}

var _ ClosableResolver = (*AsyncResolver)(nil)

// NewAsync starts an AsyncResolver over delegate. The caller must Close
// it to stop the background refresh.
func NewAsync(delegate Resolver, options ...AsyncOption) *AsyncResolver {
	res := &AsyncResolver{
		delegate:        delegate,
		refreshInterval: DefaultRefreshInterval,
		logger:          log.NewNopLogger(),
		clock:           internal.NewRealClock(),
	}
	for _, opt := range options {
		opt(res)
	}
	if res.maxBackoff < res.refreshInterval {
		res.maxBackoff = defaultMaxBackoffMultiplier * res.refreshInterval
	}
	res.snapshot.Store(&snapshot{endpoints: res.initial})

	ctx, cancel := context.WithCancel(context.Background())
	res.cancel = cancel
	warm := res.warmUpTimeout > 0 && res.warmUp(ctx)
	res.tasks.Add(1)
	go res.run(ctx, warm)
	return res
}

// Region returns the delegate's region.
func (r *AsyncResolver) Region() string {
	return r.delegate.Region()
}

// Endpoints returns the latest snapshot.
func (r *AsyncResolver) Endpoints(context.Context) []Endpoint {
	current := r.snapshot.Load()
	return append([]Endpoint(nil), current.endpoints...)
}

// Snapshot returns the cached endpoints together with the time of the
// refresh that produced them. The time is zero until a refresh succeeds.
func (r *AsyncResolver) Snapshot() ([]Endpoint, time.Time) {
	current := r.snapshot.Load()
	return append([]Endpoint(nil), current.endpoints...), current.fetchedAt
}

// Close stops the background refresh and waits for it to exit. The last
// snapshot remains readable. Close is idempotent.
func (r *AsyncResolver) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.tasks.Wait()
	})
	return nil
}

func (r *AsyncResolver) warmUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.warmUpTimeout)
	defer cancel()
	result := make(chan bool, 1)
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		result <- r.refresh(ctx)
	}()
	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		level.Warn(r.logger).Log("msg", "endpoint warm-up timed out", "timeout", r.warmUpTimeout)
		return false
	}
}

func (r *AsyncResolver) run(ctx context.Context, skipFirst bool) {
	defer r.tasks.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = r.refreshInterval
	retry.Multiplier = 2
	retry.MaxInterval = r.maxBackoff
	retry.RandomizationFactor = 0
	retry.Reset()

	timer := r.clock.NewTimer(0)
	internal.StopTimer(timer)

	for {
		delay := r.refreshInterval
		if !skipFirst {
			if r.refresh(ctx) {
				retry.Reset()
			} else {
				delay = retry.NextBackOff()
			}
		}
		skipFirst = false
		timer.Reset(delay)

		select {
		case <-ctx.Done():
			internal.StopTimer(timer)
			return
		case <-timer.Chan():
		}
	}
}

func (r *AsyncResolver) refresh(ctx context.Context) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			level.Error(r.logger).Log("msg", "endpoint refresh panicked", "panic", fmt.Sprint(recovered))
			ok = false
		}
	}()
	endpoints := r.delegate.Endpoints(ctx)
	if len(endpoints) == 0 {
		if ctx.Err() == nil {
			level.Warn(r.logger).Log(
				"msg", "endpoint refresh returned no endpoints, keeping previous snapshot",
				"region", r.delegate.Region(),
				"previous", len(r.snapshot.Load().endpoints),
			)
		}
		return false
	}
	if ctx.Err() != nil {
		// Too late: a timed out warm-up must not overwrite the snapshot of
		// a later refresh.
		return false
	}
	r.snapshot.Store(&snapshot{
		endpoints: append([]Endpoint(nil), endpoints...),
		fetchedAt: r.clock.Now(),
	})
	return true
}
