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

package discoverylb

import (
	"time"

	"github.com/bufbuild/discoverylb/config"
	"github.com/bufbuild/discoverylb/internal"
	"github.com/bufbuild/discoverylb/transport"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// FactoryOption is an option used to customize a ClientFactory.
type FactoryOption interface {
	apply(*factoryOptions)
}

// WithLogger configures the logger used by the factory and every component
// of its client pipeline. If not specified, nothing is logged.
func WithLogger(logger log.Logger) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.logger = logger
	})
}

// WithRegisterer configures where the request metrics are registered. If
// not specified, they are registered with a private registry, which is
// the same as not exporting them.
//
// The collectors are unregistered when the factory is closed, so another
// factory may register with the same registerer afterwards. Two factories
// that are open at the same time need different registerers.
func WithRegisterer(reg prometheus.Registerer) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.registerer = reg
	})
}

// WithStatusEvaluator configures which outcomes end an operation and which
// make it fail over to another server. If not specified,
// transport.LegacyEvaluator is used.
func WithStatusEvaluator(evaluator transport.StatusEvaluator) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.evaluator = evaluator
	})
}

// WithSessionInterval configures how long a client keeps talking to the
// same servers before it starts over. If zero or not specified,
// config.DefaultSessionReconnectInterval is used.
func WithSessionInterval(interval time.Duration) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.sessionInterval = interval
	})
}

// WithSessionJitter randomizes session lengths. See
// transport.WithSessionJitter.
func WithSessionJitter(fraction float64) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.sessionJitter = fraction
	})
}

// WithMaxAttempts bounds the number of servers tried per operation. If zero
// or not specified, every resolved server may be tried once.
func WithMaxAttempts(attempts int) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.maxAttempts = attempts
	})
}

// WithQuarantineRefreshPercentage configures the share of servers that may
// be quarantined after failures before all of them are tried again. If
// zero or not specified, 0.66 is used.
func WithQuarantineRefreshPercentage(percentage float64) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.quarantinePercentage = percentage
	})
}

// WithMaxRedirects configures how many redirects one request may follow.
// If not specified, transport.DefaultMaxRedirects is used.
func WithMaxRedirects(limit int) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.maxRedirects = limit
		opts.maxRedirectsSet = true
	})
}

func withClock(clock internal.Clock) FactoryOption {
	return factoryOptionFunc(func(opts *factoryOptions) {
		opts.clock = clock
	})
}

type factoryOptionFunc func(*factoryOptions)

func (f factoryOptionFunc) apply(opts *factoryOptions) {
	f(opts)
}

type factoryOptions struct {
	logger               log.Logger
	registerer           prometheus.Registerer
	evaluator            transport.StatusEvaluator
	sessionInterval      time.Duration
	sessionJitter        float64
	maxAttempts          int
	quarantinePercentage float64
	maxRedirects         int
	maxRedirectsSet      bool
	clock                internal.Clock
}

func newFactoryOptions(options []FactoryOption) *factoryOptions {
	var opts factoryOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	return &opts
}

func (opts *factoryOptions) applyDefaults() {
	if opts.logger == nil {
		opts.logger = log.NewNopLogger()
	}
	if opts.registerer == nil {
		opts.registerer = prometheus.NewRegistry()
	}
	if opts.evaluator == nil {
		opts.evaluator = transport.LegacyEvaluator
	}
	if opts.sessionInterval <= 0 {
		opts.sessionInterval = config.DefaultSessionReconnectInterval
	}
	if opts.quarantinePercentage == 0 {
		opts.quarantinePercentage = transport.DefaultQuarantineRefreshPercentage
	}
	if !opts.maxRedirectsSet {
		opts.maxRedirects = transport.DefaultMaxRedirects
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}

// configOptions translates the pipeline settings of cfg into options. They
// go before the caller's own options, which therefore take precedence.
func configOptions(cfg *config.Config, options []FactoryOption) []FactoryOption {
	fromConfig := []FactoryOption{
		WithSessionInterval(cfg.SessionReconnectInterval),
		WithSessionJitter(cfg.SessionJitter),
		WithMaxAttempts(cfg.RetryMaxAttempts),
		WithQuarantineRefreshPercentage(cfg.QuarantineRefreshPercentage),
		WithMaxRedirects(cfg.MaxRedirects),
	}
	return append(fromConfig, options...)
}
