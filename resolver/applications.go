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
	"time"

	"github.com/bufbuild/discoverylb/registry"
)

const (
	// DefaultServerPath is the context path of the registry API on servers
	// discovered through the registry itself.
	DefaultServerPath = "/eureka/v2/"
	// DefaultStalenessThreshold is how old an applications snapshot may be
	// before NewApplicationsResolver stops trusting it.
	DefaultStalenessThreshold = 5 * time.Minute
)

// InstanceOption controls how registry instances are turned into endpoints.
type InstanceOption func(*instanceOptions)

type instanceOptions struct {
	useIP              bool
	secure             bool
	path               string
	availabilityZones  []string
	stalenessThreshold time.Duration
}

func newInstanceOptions(options []InstanceOption) instanceOptions {
	opts := instanceOptions{
		path:               DefaultServerPath,
		stalenessThreshold: DefaultStalenessThreshold,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// WithUseIP addresses instances by IP address instead of host name.
func WithUseIP(useIP bool) InstanceOption {
	return func(opts *instanceOptions) {
		opts.useIP = useIP
	}
}

// WithSecure uses the secure VIP and the secure port of instances.
func WithSecure(secure bool) InstanceOption {
	return func(opts *instanceOptions) {
		opts.secure = secure
	}
}

// WithPath sets the context path of the registry API on the instances. It
// defaults to DefaultServerPath.
func WithPath(path string) InstanceOption {
	return func(opts *instanceOptions) {
		opts.path = path
	}
}

// WithAvailabilityZones sets the zones of the region. The first one is the
// zone of instances that don't advertise their own.
func WithAvailabilityZones(zones ...string) InstanceOption {
	return func(opts *instanceOptions) {
		opts.availabilityZones = zones
	}
}

// WithStalenessThreshold sets the maximum age of the applications snapshot
// read by NewApplicationsResolver.
func WithStalenessThreshold(threshold time.Duration) InstanceOption {
	return func(opts *instanceOptions) {
		opts.stalenessThreshold = threshold
	}
}

// InstanceEndpoints converts the UP instances in the list to endpoints,
// preserving their order. Other instances are skipped.
func InstanceEndpoints(instances []*registry.Instance, options ...InstanceOption) []Endpoint {
	return newInstanceOptions(options).endpoints(instances)
}

func (opts instanceOptions) endpoints(instances []*registry.Instance) []Endpoint {
	var endpoints []Endpoint
	for _, instance := range instances {
		if instance == nil || instance.Status != registry.StatusUp {
			continue
		}
		host := instance.HostName
		if opts.useIP && instance.IPAddr != "" {
			host = instance.IPAddr
		}
		port := instance.Port
		if opts.secure {
			port = instance.SecurePort
		}
		zone := registry.ZoneOf(opts.availabilityZones, instance)
		endpoints = append(endpoints, NewEndpoint(host, port, opts.secure, opts.path, zone))
	}
	return endpoints
}

// NewApplicationsResolver returns a resolver over the registry client's own
// applications snapshot: the servers are the UP instances registered under
// the given VIP. When the snapshot is missing or older than the staleness
// threshold, the resolver returns no endpoints.
func NewApplicationsResolver(
	region, vip string,
	source registry.ApplicationsSource,
	options ...InstanceOption,
) Resolver {
	return &applicationsResolver{
		region: region,
		vip:    vip,
		source: source,
		opts:   newInstanceOptions(options),
	}
}

type applicationsResolver struct {
	region string
	vip    string
	source registry.ApplicationsSource
	opts   instanceOptions
}

func (a *applicationsResolver) Region() string {
	return a.region
}

func (a *applicationsResolver) Endpoints(context.Context) []Endpoint {
	apps, ok := a.source.Applications(a.opts.stalenessThreshold)
	if !ok || apps == nil {
		return nil
	}
	return a.opts.endpoints(apps.InstancesByVIP(a.vip, a.opts.secure))
}
