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
	"context"
	"errors"
	"sync"

	"github.com/bufbuild/discoverylb/config"
	"github.com/bufbuild/discoverylb/registry"
	"github.com/bufbuild/discoverylb/resolver"
	"github.com/bufbuild/discoverylb/transport"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ClientFactory creates registry clients that share a resolver and a
// transport. Every client is a session over a retrying, redirect-following,
// instrumented pipeline:
//
//	Session(Retry(resolver, Redirect(Metrics(raw))))
//
// The factory owns the resolver and the raw transport factory and releases
// both on Close.
type ClientFactory struct {
	resolver resolver.ClosableResolver
	// pipeline is Redirect(Metrics(raw)), shared by all clients.
	pipeline transport.Factory
	metrics  *transport.Metrics
	opts     *factoryOptions
	logger   log.Logger
	// shared is set for factories that borrow the pipeline of another
	// factory, which then remains responsible for closing it.
	shared    bool
	closeOnce sync.Once
}

var _ transport.ClientFactory = (*ClientFactory)(nil)

// NewClientFactory returns a factory of clients that resolve their servers
// with res and send requests through raw.
func NewClientFactory(res resolver.ClosableResolver, raw transport.Factory, options ...FactoryOption) *ClientFactory {
	opts := newFactoryOptions(options)
	metrics := transport.NewMetrics(opts.registerer)
	pipeline := transport.NewRedirectFactory(
		transport.NewMetricsFactory(raw, metrics),
		transport.WithMaxRedirects(opts.maxRedirects),
		transport.WithRedirectLogger(log.With(opts.logger, "component", "redirect")),
	)
	return &ClientFactory{
		resolver: res,
		pipeline: pipeline,
		metrics:  metrics,
		opts:     opts,
		logger:   opts.logger,
	}
}

// borrow returns a factory over another resolver that shares the pipeline
// of f. Closing it closes only res.
func (f *ClientFactory) borrow(res resolver.ClosableResolver) *ClientFactory {
	return &ClientFactory{
		resolver: res,
		pipeline: f.pipeline,
		metrics:  f.metrics,
		opts:     f.opts,
		logger:   f.logger,
		shared:   true,
	}
}

// NewClient returns a new client. It must be closed when no longer needed.
func (f *ClientFactory) NewClient() transport.Client {
	retry := transport.NewRetryFactory(
		f.resolver,
		f.pipeline,
		transport.WithStatusEvaluator(f.opts.evaluator),
		transport.WithMaxAttempts(f.opts.maxAttempts),
		transport.WithQuarantineRefreshPercentage(f.opts.quarantinePercentage),
		transport.WithRetryLogger(log.With(f.logger, "component", "retry")),
	)
	return transport.NewSessionClient(
		retry,
		f.opts.sessionInterval,
		transport.WithSessionJitter(f.opts.sessionJitter),
		transport.WithSessionClock(f.opts.clock),
		transport.WithSessionLogger(log.With(f.logger, "component", "session")),
	)
}

// Endpoints returns the servers the clients of f currently resolve, in the
// order they would try them.
func (f *ClientFactory) Endpoints(ctx context.Context) []resolver.Endpoint {
	return f.resolver.Endpoints(ctx)
}

// Close releases the resolver, then the transport, then the metrics. It
// is safe to call more than once. Errors are logged, not returned.
func (f *ClientFactory) Close() error {
	f.closeOnce.Do(func() {
		if err := f.resolver.Close(); err != nil {
			level.Warn(f.logger).Log("msg", "failed to close resolver", "err", err)
		}
		if f.shared {
			return
		}
		if err := f.pipeline.Close(); err != nil {
			level.Warn(f.logger).Log("msg", "failed to close transport", "err", err)
		}
		f.metrics.Close()
	})
	return nil
}

// NewRegistrationClientFactory returns a factory of clients for the
// registration calls of the given instance (register, heartbeat, cancel
// and status updates). They talk to the configured servers, starting in
// the instance's zone.
func NewRegistrationClientFactory(
	cfg *config.Config,
	me *registry.Instance,
	raw transport.Factory,
	options ...FactoryOption,
) (*ClientFactory, error) {
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	bootstrap := bootstrapResolver(cfg, me)
	return NewClientFactory(resolver.WrapClosable(bootstrap), raw, configOptions(cfg, options)...), nil
}

// NewQueryClientFactory returns a factory of clients for registry queries.
//
// When cfg names a read cluster VIP, queries go to the servers of that
// VIP. They are looked up in the caller's own applications snapshot from
// source, or when that has none, by asking the configured servers. The
// result is refreshed in the background and ordered by zone affinity.
// Without a read cluster VIP, queries go to the configured servers.
func NewQueryClientFactory(
	cfg *config.Config,
	me *registry.Instance,
	source registry.ApplicationsSource,
	raw transport.Factory,
	options ...FactoryOption,
) (*ClientFactory, error) {
	cfg, err := withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	options = configOptions(cfg, options)
	bootstrap := bootstrapResolver(cfg, me)
	if cfg.ReadClusterVIP == "" {
		return NewClientFactory(resolver.WrapClosable(bootstrap), raw, options...), nil
	}

	// The query pipeline is built around a placeholder and completed below,
	// because the remote resolver needs a factory sharing that pipeline.
	pending := &queryResolver{region: cfg.Region}
	factory := NewClientFactory(pending, raw, options...)
	logger := factory.logger

	instanceOptions := []resolver.InstanceOption{
		resolver.WithUseIP(cfg.UseIP),
		resolver.WithSecure(cfg.Secure),
		resolver.WithPath(cfg.ServerPath),
		resolver.WithAvailabilityZones(cfg.Zones()...),
		resolver.WithStalenessThreshold(cfg.ApplicationsStalenessThreshold),
	}
	var local resolver.Resolver = resolver.NewStatic(cfg.Region)
	if source != nil {
		local = resolver.NewApplicationsResolver(cfg.Region, cfg.ReadClusterVIP, source, instanceOptions...)
	}
	remote := NewRemoteResolver(
		cfg.Region,
		factory.borrow(resolver.WrapClosable(bootstrap)),
		cfg.ReadClusterVIP,
		WithQueryTimeout(cfg.QueryTimeout),
		WithSecureVIP(cfg.Secure),
		WithInstanceOptions(instanceOptions...),
		WithRemoteLogger(log.With(logger, "component", "remote-resolver")),
	)
	myZone := registry.ZoneOf(cfg.Zones(), me)
	pending.async = resolver.NewAsync(
		resolver.NewZoneAffinity(resolver.NewFallback(cfg.Region, local, remote), myZone, cfg.ZoneAffinity),
		resolver.WithRefreshInterval(cfg.AsyncRefreshInterval),
		resolver.WithWarmUpTimeout(cfg.AsyncWarmUpTimeout),
		resolver.WithLogger(log.With(logger, "component", "async-resolver")),
	)
	pending.remote = remote
	return factory, nil
}

// queryResolver is the resolver pipeline of query clients. Closing it
// stops the background refresh before releasing the remote resolver.
type queryResolver struct {
	region string
	async  *resolver.AsyncResolver
	remote *RemoteResolver
}

func (q *queryResolver) Region() string {
	return q.region
}

func (q *queryResolver) Endpoints(ctx context.Context) []resolver.Endpoint {
	return q.async.Endpoints(ctx)
}

func (q *queryResolver) Close() error {
	return errors.Join(q.async.Close(), q.remote.Close())
}

// withDefaults returns a validated copy of cfg with zero values replaced
// by defaults. cfg itself is not modified.
func withDefaults(cfg *config.Config) (*config.Config, error) {
	copied := *cfg
	copied.ApplyDefaults()
	if err := copied.Validate(); err != nil {
		return nil, err
	}
	return &copied, nil
}

// bootstrapResolver lists the configured servers as seen from the zone of
// me. Servers within a zone are shuffled per instance, so that a fleet of
// instances spreads over them.
func bootstrapResolver(cfg *config.Config, me *registry.Instance) resolver.Resolver {
	var options []resolver.ConfigOption
	if me != nil && me.InstanceID != "" {
		options = append(options, resolver.WithShuffleSeed(me.InstanceID))
	}
	return resolver.NewConfigResolver(resolver.StaticConfig{
		Region:            cfg.Region,
		AvailabilityZones: cfg.Zones(),
		ServiceURLs:       cfg.ServiceURLs,
		PreferSameZone:    cfg.PreferSameZone,
	}, registry.ZoneOf(cfg.Zones(), me), options...)
}
