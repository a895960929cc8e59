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
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint identifies one reachable registry server. It is an immutable
// value: two endpoints are the same endpoint when their service URLs are
// equal, regardless of zone.
type Endpoint struct {
	// ServiceURL is the base URL of the server, always ending in a slash.
	// Request paths are resolved relative to it.
	ServiceURL string
	// Zone is the topology zone the server runs in.
	Zone string
}

// NewEndpoint assembles an endpoint from its parts. The path is the
// context path under which the registry API is served, e.g. "/eureka/v2/".
func NewEndpoint(host string, port int, secure bool, path, zone string) Endpoint {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	serviceURL := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return Endpoint{ServiceURL: withTrailingSlash(serviceURL.String()), Zone: zone}
}

// SameZone reports whether two zone names denote the same zone. Names are
// compared case-insensitively, ignoring surrounding space.
func SameZone(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Equal reports whether e and other denote the same server.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.ServiceURL == other.ServiceURL
}

func (e Endpoint) String() string {
	return e.ServiceURL
}

// Resolver produces the ordered list of candidate endpoints for a logical
// target, such as the registry's read cluster.
type Resolver interface {
	// Region returns the region the endpoints belong to.
	Region() string
	// Endpoints returns the current candidates, most preferred first. An
	// empty result means nothing could be resolved; it is not an error.
	//
	// Implementations must be safe for concurrent use and must return
	// within bounded time. Only resolvers that talk to the network use the
	// given context, to bound that work.
	Endpoints(ctx context.Context) []Endpoint
}

// ClosableResolver is a Resolver that owns resources, like background
// goroutines or network clients, which Close releases. Endpoints may still
// be called after Close; it then returns whatever the resolver last knew.
type ClosableResolver interface {
	Resolver
	Close() error
}

// WrapClosable turns a resolver that owns nothing into a ClosableResolver
// whose Close does nothing.
func WrapClosable(res Resolver) ClosableResolver {
	return nopCloser{Resolver: res}
}

// Closable is the counterpart of WrapClosable for resolvers that already
// own resources: the resolver is returned as-is and closing it closes the
// resolver itself.
func Closable(res ClosableResolver) ClosableResolver {
	return res
}

type nopCloser struct {
	Resolver
}

func (nopCloser) Close() error {
	return nil
}

// NewStatic returns a resolver that always reports the given endpoints.
func NewStatic(region string, endpoints ...Endpoint) Resolver {
	return &staticResolver{region: region, endpoints: endpoints}
}

type staticResolver struct {
	region    string
	endpoints []Endpoint
}

func (s *staticResolver) Region() string {
	return s.region
}

func (s *staticResolver) Endpoints(context.Context) []Endpoint {
	return append([]Endpoint(nil), s.endpoints...)
}

func withTrailingSlash(serviceURL string) string {
	if strings.HasSuffix(serviceURL, "/") {
		return serviceURL
	}
	return serviceURL + "/"
}
