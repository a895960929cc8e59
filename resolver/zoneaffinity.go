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

import "context"

// NewZoneAffinity decorates the given resolver so endpoints in myZone come
// first. The partition is stable: within each half the delegate's order is
// kept. When enabled is false, the delegate's list is returned unchanged.
func NewZoneAffinity(delegate Resolver, myZone string, enabled bool) Resolver {
	return &zoneAffinityResolver{delegate: delegate, myZone: myZone, enabled: enabled}
}

type zoneAffinityResolver struct {
	delegate Resolver
	myZone   string
	enabled  bool
}

func (z *zoneAffinityResolver) Region() string {
	return z.delegate.Region()
}

func (z *zoneAffinityResolver) Endpoints(ctx context.Context) []Endpoint {
	endpoints := z.delegate.Endpoints(ctx)
	if !z.enabled || len(endpoints) < 2 {
		return endpoints
	}
	// The delegate's slice may be shared, so build a new one.
	ordered := make([]Endpoint, 0, len(endpoints))
	var others []Endpoint
	for _, endpoint := range endpoints {
		if SameZone(endpoint.Zone, z.myZone) {
			ordered = append(ordered, endpoint)
		} else {
			others = append(others, endpoint)
		}
	}
	return append(ordered, others...)
}
