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
	"strings"

	"github.com/bufbuild/discoverylb/internal"
	"github.com/bufbuild/discoverylb/registry"
)

// StaticConfig describes the registry servers of a region as configured,
// rather than discovered.
type StaticConfig struct {
	// Region the servers belong to.
	Region string
	// AvailabilityZones of the region, in configured order. If empty, a
	// single zone named registry.DefaultZone is assumed.
	AvailabilityZones []string
	// ServiceURLs maps each zone to the base URLs of the servers in it.
	ServiceURLs map[string][]string
	// PreferSameZone, when true, lists the servers of the caller's zone
	// first. When false, the traversal starts at the first zone that is
	// not the caller's.
	PreferSameZone bool
}

// ConfigOption customizes a resolver created with NewConfigResolver.
type ConfigOption func(*configOptions)

type configOptions struct {
	shuffleIdentity string
}

// WithShuffleSeed shuffles the servers within each zone, using a sequence
// derived from the given identity (typically the caller's instance ID or
// address). Every caller keeps a stable order across restarts, while
// different callers spread their first choice over the zone's servers.
func WithShuffleSeed(identity string) ConfigOption {
	return func(opts *configOptions) {
		opts.shuffleIdentity = identity
	}
}

// NewConfigResolver returns a resolver for the servers listed in cfg, as
// seen from a caller in myZone. Zones are visited starting at the
// caller's own (see StaticConfig.PreferSameZone), wrapping around the
// configured zone list, and each zone's servers are listed in configured
// order. The result is computed once; configuration is not reloaded.
func NewConfigResolver(cfg StaticConfig, myZone string, options ...ConfigOption) Resolver {
	var opts configOptions
	for _, opt := range options {
		opt(&opts)
	}
	zones := cfg.AvailabilityZones
	if len(zones) == 0 {
		zones = []string{registry.DefaultZone}
	}
	offset := zoneOffset(zones, myZone, cfg.PreferSameZone)
	var endpoints []Endpoint
	for i := range zones {
		zone := zones[(offset+i)%len(zones)]
		zoneEndpoints := make([]Endpoint, 0, len(cfg.ServiceURLs[zone]))
		for _, serviceURL := range cfg.ServiceURLs[zone] {
			serviceURL = strings.TrimSpace(serviceURL)
			if serviceURL == "" {
				continue
			}
			zoneEndpoints = append(zoneEndpoints, Endpoint{ServiceURL: withTrailingSlash(serviceURL), Zone: zone})
		}
		if opts.shuffleIdentity != "" {
			rnd := internal.NewSeededRand(opts.shuffleIdentity + "/" + zone)
			rnd.Shuffle(len(zoneEndpoints), func(i, j int) {
				zoneEndpoints[i], zoneEndpoints[j] = zoneEndpoints[j], zoneEndpoints[i]
			})
		}
		endpoints = append(endpoints, zoneEndpoints...)
	}
	return NewStatic(cfg.Region, endpoints...)
}

// zoneOffset returns the index of the zone to start from: the first zone
// whose match against myZone equals preferSameZone, or zero.
func zoneOffset(zones []string, myZone string, preferSameZone bool) int {
	if strings.TrimSpace(myZone) == "" {
		return 0
	}
	for i, zone := range zones {
		if SameZone(zone, myZone) == preferSameZone {
			return i
		}
	}
	return 0
}
