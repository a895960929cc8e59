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

// Package endpointset contains a small set type for endpoints, keyed by
// their service URL, which is how endpoints are compared for equality.
package endpointset

import "github.com/bufbuild/discoverylb/resolver"

// Set is a set of endpoints. Since service URLs are map keys in the
// underlying type, membership follows resolver.Endpoint equality.
type Set map[string]resolver.Endpoint

// Contains returns true if the set contains the given endpoint.
func (s Set) Contains(e resolver.Endpoint) bool {
	_, ok := s[e.ServiceURL]
	return ok
}

// Add puts the given endpoint into the set.
func (s Set) Add(e resolver.Endpoint) {
	s[e.ServiceURL] = e
}

// RetainAll removes every member of s that is not present in the given
// slice.
func (s Set) RetainAll(endpoints []resolver.Endpoint) {
	keep := FromSlice(endpoints)
	for key := range s {
		if _, ok := keep[key]; !ok {
			delete(s, key)
		}
	}
}

// Clear empties the set.
func (s Set) Clear() {
	for key := range s {
		delete(s, key)
	}
}

// Without returns the endpoints in the given slice that are not members
// of s, preserving their order.
func (s Set) Without(endpoints []resolver.Endpoint) []resolver.Endpoint {
	result := make([]resolver.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if !s.Contains(e) {
			result = append(result, e)
		}
	}
	return result
}

// FromSlice converts a []resolver.Endpoint into a Set.
func FromSlice(endpoints []resolver.Endpoint) Set {
	set := make(Set, len(endpoints))
	for _, e := range endpoints {
		set.Add(e)
	}
	return set
}
