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

// NewFallback returns a resolver that answers with the local resolver's
// endpoints, or with the remote resolver's when the local one has none.
// The remote resolver is not consulted while the local one has results.
func NewFallback(region string, local, remote Resolver) Resolver {
	return &fallbackResolver{region: region, local: local, remote: remote}
}

type fallbackResolver struct {
	region        string
	local, remote Resolver
}

func (f *fallbackResolver) Region() string {
	return f.region
}

func (f *fallbackResolver) Endpoints(ctx context.Context) []Endpoint {
	if endpoints := f.local.Endpoints(ctx); len(endpoints) > 0 {
		return endpoints
	}
	return f.remote.Endpoints(ctx)
}
