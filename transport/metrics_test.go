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
	"strings"
	"testing"

	"github.com/bufbuild/discoverylb/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsFactory(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	delegate := newFakeFactory()
	delegate.handle("http://ok/", respond(200))
	delegate.handle("http://broken/", respond(503))
	factory := NewMetricsFactory(delegate, metrics)

	ctx := context.Background()
	resp, err := factory.New(resolver.Endpoint{ServiceURL: "http://ok/"}).Do(ctx, getApps())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	resp, err = factory.New(resolver.Endpoint{ServiceURL: "http://broken/"}).Do(ctx, getApps())
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	_, err = factory.New(resolver.Endpoint{ServiceURL: "http://down/"}).Do(ctx, getApps())
	require.ErrorIs(t, err, errConnectionRefused)

	op := string(OpGetApplications)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.requests.WithLabelValues(op, outcomeSuccess, "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.requests.WithLabelValues(op, outcomeFailure, "503")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.requests.WithLabelValues(op, outcomeError, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.transportErrors.WithLabelValues(op)), 0)

	expected := `
# HELP discovery_client_transport_errors_total Total number of registry requests that failed without a response.
# TYPE discovery_client_transport_errors_total counter
discovery_client_transport_errors_total{operation="GetApplications"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "discovery_client_transport_errors_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))

	// Closing unregisters, so the collectors can be created again.
	metrics.Close()
	assert.NotPanics(t, func() {
		NewMetrics(reg).Close()
	})
}
