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
	"sync/atomic"
	"time"

	"github.com/bufbuild/discoverylb/registry"
	"github.com/bufbuild/discoverylb/registryapi"
	"github.com/bufbuild/discoverylb/resolver"
	"github.com/bufbuild/discoverylb/transport"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultQueryTimeout bounds a single lookup of a RemoteResolver.
const DefaultQueryTimeout = 30 * time.Second

// RemoteOption is an option used to customize a RemoteResolver.
type RemoteOption func(*RemoteResolver)

// WithQueryTimeout bounds each lookup. If zero or not specified,
// DefaultQueryTimeout is used.
func WithQueryTimeout(timeout time.Duration) RemoteOption {
	return func(r *RemoteResolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithSecureVIP looks up the secure VIP and addresses instances on their
// secure port.
func WithSecureVIP(secure bool) RemoteOption {
	return func(r *RemoteResolver) {
		r.secure = secure
	}
}

// WithInstanceOptions configures how the instances found are turned into
// endpoints.
func WithInstanceOptions(options ...resolver.InstanceOption) RemoteOption {
	return func(r *RemoteResolver) {
		r.instanceOptions = append(r.instanceOptions, options...)
	}
}

// WithRemoteLogger configures the logger for failed lookups.
func WithRemoteLogger(logger log.Logger) RemoteOption {
	return func(r *RemoteResolver) {
		r.logger = logger
	}
}

// RemoteResolver resolves the servers of a VIP by asking a registry for
// the instances registered under it. Only instances that are up are
// returned. A failed lookup resolves to nothing.
type RemoteResolver struct {
	region          string
	factory         transport.ClientFactory
	vip             string
	timeout         time.Duration
	instanceOptions []resolver.InstanceOption
	secure          bool
	logger          log.Logger
	closed          atomic.Bool
}

var _ resolver.ClosableResolver = (*RemoteResolver)(nil)

// NewRemoteResolver returns a resolver that looks up vip through clients
// of factory. The resolver owns factory and closes it on Close.
func NewRemoteResolver(region string, factory transport.ClientFactory, vip string, options ...RemoteOption) *RemoteResolver {
	r := &RemoteResolver{
		region:  region,
		factory: factory,
		vip:     vip,
		timeout: DefaultQueryTimeout,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(r)
	}
	r.instanceOptions = append(r.instanceOptions, resolver.WithSecure(r.secure))
	return r
}

func (r *RemoteResolver) Region() string {
	return r.region
}

func (r *RemoteResolver) Endpoints(ctx context.Context) []resolver.Endpoint {
	if r.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	client := r.factory.NewClient()
	defer func() {
		_ = client.Close()
	}()
	api := registryapi.New(client)
	var (
		apps *registry.Applications
		err  error
	)
	if r.secure {
		apps, err = api.GetSecureVIP(ctx, r.vip)
	} else {
		apps, err = api.GetVIP(ctx, r.vip)
	}
	if err != nil {
		level.Error(r.logger).Log("msg", "failed to look up vip", "vip", r.vip, "err", err)
		return nil
	}
	if apps == nil {
		return nil
	}
	return resolver.InstanceEndpoints(apps.InstancesByVIP(r.vip, r.secure), r.instanceOptions...)
}

// Close releases the client factory. It is safe to call more than once.
func (r *RemoteResolver) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.factory.Close()
}
