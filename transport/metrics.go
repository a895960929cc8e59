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
	"strconv"

	"github.com/bufbuild/discoverylb/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeError   = "error"
)

// Metrics holds the collectors recorded by clients of NewMetricsFactory.
type Metrics struct {
	reg             prometheus.Registerer
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	transportErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		reg: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Total number of registry requests that got a response, by operation, outcome and status code.",
		}, []string{"operation", "outcome", "status_code"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "discovery",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Time spent on registry requests, including failed ones.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transportErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "client",
			Name:      "transport_errors_total",
			Help:      "Total number of registry requests that failed without a response.",
		}, []string{"operation"}),
	}
}

// Close unregisters the collectors.
func (m *Metrics) Close() {
	if m.reg == nil {
		return
	}
	m.reg.Unregister(m.requests)
	m.reg.Unregister(m.duration)
	m.reg.Unregister(m.transportErrors)
}

func (m *Metrics) observe(op Operation, resp *Response, err error) {
	if err != nil {
		m.transportErrors.WithLabelValues(string(op)).Inc()
		m.requests.WithLabelValues(string(op), outcomeError, "").Inc()
		return
	}
	outcome := outcomeFailure
	if isSuccess(resp.StatusCode) {
		outcome = outcomeSuccess
	}
	m.requests.WithLabelValues(string(op), outcome, strconv.Itoa(resp.StatusCode)).Inc()
}

// NewMetricsFactory decorates the clients of delegate so every exchange is
// recorded in m. Results pass through unchanged.
func NewMetricsFactory(delegate Factory, m *Metrics) Factory {
	return &metricsFactory{delegate: delegate, metrics: m}
}

type metricsFactory struct {
	delegate Factory
	metrics  *Metrics
}

func (f *metricsFactory) New(endpoint resolver.Endpoint) Client {
	return &metricsClient{delegate: f.delegate.New(endpoint), metrics: f.metrics}
}

func (f *metricsFactory) Close() error {
	return f.delegate.Close()
}

type metricsClient struct {
	delegate Client
	metrics  *Metrics
}

func (c *metricsClient) Do(ctx context.Context, req *Request) (*Response, error) {
	timer := prometheus.NewTimer(c.metrics.duration.WithLabelValues(string(req.Operation)))
	resp, err := c.delegate.Do(ctx, req)
	timer.ObserveDuration()
	c.metrics.observe(req.Operation, resp, err)
	return resp, err
}

func (c *metricsClient) Close() error {
	return c.delegate.Close()
}
