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
	"sync/atomic"
	"testing"
	"time"

	"github.com/bufbuild/discoverylb/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRefreshInterval = 30 * time.Second

var (
	endpointsA = []Endpoint{{ServiceURL: "http://a:8080/eureka/v2/", Zone: "z1"}}
	endpointsB = []Endpoint{{ServiceURL: "http://b:8080/eureka/v2/", Zone: "z2"}}
)

// sequenceResolver answers each call with the next function in the list,
// repeating the last one.
type sequenceResolver struct {
	calls   atomic.Int32
	answers []func(ctx context.Context) []Endpoint
}

func (s *sequenceResolver) Region() string {
	return "us-east-1"
}

func (s *sequenceResolver) Endpoints(ctx context.Context) []Endpoint {
	call := int(s.calls.Add(1)) - 1
	if call >= len(s.answers) {
		call = len(s.answers) - 1
	}
	return s.answers[call](ctx)
}

func answer(endpoints []Endpoint) func(context.Context) []Endpoint {
	return func(context.Context) []Endpoint {
		return endpoints
	}
}

func TestAsyncStartsCold(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	release := make(chan struct{})
	delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{
		func(ctx context.Context) []Endpoint {
			select {
			case <-release:
				return endpointsA
			case <-ctx.Done():
				return nil
			}
		},
	}}
	testClock := clocktest.NewFakeClock()
	res := NewAsync(delegate, withClock(testClock), WithRefreshInterval(testRefreshInterval))
	t.Cleanup(func() {
		require.NoError(t, res.Close())
	})

	assert.Empty(t, res.Endpoints(ctx))
	_, fetchedAt := res.Snapshot()
	assert.True(t, fetchedAt.IsZero())

	close(release)
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, endpointsA, res.Endpoints(ctx))
	assert.Equal(t, "us-east-1", res.Region())
}

func TestAsyncInitialEndpoints(t *testing.T) {
	t.Parallel()
	delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{
		func(ctx context.Context) []Endpoint {
			<-ctx.Done()
			return nil
		},
	}}
	res := NewAsync(delegate, WithInitialEndpoints(endpointsB...))
	assert.Equal(t, endpointsB, res.Endpoints(context.Background()))
	require.NoError(t, res.Close())
}

func TestAsyncRefresh(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{
		answer(endpointsA),
		answer(nil),
		func(context.Context) []Endpoint {
			panic("registry exploded")
		},
		answer(endpointsB),
	}}
	testClock := clocktest.NewFakeClock()
	res := NewAsync(delegate, withClock(testClock), WithRefreshInterval(testRefreshInterval))
	t.Cleanup(func() {
		require.NoError(t, res.Close())
	})

	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, endpointsA, res.Endpoints(ctx))
	_, firstFetch := res.Snapshot()
	assert.Equal(t, testClock.Now(), firstFetch)

	// An empty answer keeps the previous snapshot.
	testClock.Advance(testRefreshInterval)
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), delegate.calls.Load())
	assert.Equal(t, endpointsA, res.Endpoints(ctx))

	// So does a panic. Consecutive failures back off: the first retry
	// comes after one interval, the next after two.
	testClock.Advance(testRefreshInterval)
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(3), delegate.calls.Load())
	assert.Equal(t, endpointsA, res.Endpoints(ctx))

	testClock.Advance(testRefreshInterval)
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(3), delegate.calls.Load())

	testClock.Advance(testRefreshInterval)
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(4), delegate.calls.Load())
	assert.Equal(t, endpointsB, res.Endpoints(ctx))
	_, lastFetch := res.Snapshot()
	assert.Equal(t, firstFetch.Add(4*testRefreshInterval), lastFetch)
}

func TestAsyncWarmUp(t *testing.T) {
	t.Parallel()

	t.Run("warm", func(t *testing.T) {
		t.Parallel()
		delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{answer(endpointsA)}}
		res := NewAsync(delegate, WithWarmUpTimeout(5*time.Second), WithRefreshInterval(time.Hour))
		t.Cleanup(func() {
			require.NoError(t, res.Close())
		})
		// The warm-up fetch is complete before NewAsync returns.
		assert.Equal(t, endpointsA, res.Endpoints(context.Background()))
		assert.Equal(t, int32(1), delegate.calls.Load())
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{
			func(ctx context.Context) []Endpoint {
				<-ctx.Done()
				return nil
			},
		}}
		res := NewAsync(delegate, WithWarmUpTimeout(10*time.Millisecond))
		t.Cleanup(func() {
			require.NoError(t, res.Close())
		})
		assert.Empty(t, res.Endpoints(context.Background()))
	})
	t.Run("late", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)
		late := make(chan struct{})
		delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{
			func(ctx context.Context) []Endpoint {
				// Only the warm-up runs under a deadline.
				if _, ok := ctx.Deadline(); ok {
					<-late
					return endpointsA
				}
				return endpointsB
			},
		}}
		testClock := clocktest.NewFakeClock()
		res := NewAsync(delegate, withClock(testClock), WithWarmUpTimeout(10*time.Millisecond))
		require.NoError(t, testClock.BlockUntilContext(ctx, 1))
		assert.Equal(t, endpointsB, res.Endpoints(ctx))

		// The timed out warm-up answers after the background refresh.
		close(late)
		require.NoError(t, res.Close())
		assert.Equal(t, endpointsB, res.Endpoints(ctx))
		assert.Equal(t, int32(2), delegate.calls.Load())
	})
}

func TestAsyncClose(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	delegate := &sequenceResolver{answers: []func(context.Context) []Endpoint{answer(endpointsA)}}
	testClock := clocktest.NewFakeClock()
	res := NewAsync(delegate, withClock(testClock), WithRefreshInterval(testRefreshInterval))
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	// The last snapshot stays readable and no more refreshes happen.
	assert.Equal(t, endpointsA, res.Endpoints(ctx))
	testClock.Advance(10 * testRefreshInterval)
	assert.Equal(t, int32(1), delegate.calls.Load())
}
