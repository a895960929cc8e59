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

// Package resolver provides the endpoint resolvers that decide which
// registry servers a client talks to, and in which order.
//
// A [Resolver] returns an ordered list of [Endpoint] values. Resolvers
// never fail: an empty list means nothing could be resolved, and it is up
// to the caller (usually the retry wrapper of package transport) to turn
// that into an error.
//
// # Sources
//
// Endpoints come from static configuration ([NewConfigResolver]), from
// the caller's own copy of the registry contents
// ([NewApplicationsResolver]), or from a query against the registry
// itself (RemoteResolver, in the root package).
//
// # Decorators
//
// Resolvers compose. [NewFallback] consults a second resolver when the
// first has nothing, [NewZoneAffinity] moves the caller's zone to the
// front, and [NewAsync] serves a periodically refreshed snapshot so that
// reads never wait on the network. Resolvers that own background
// goroutines implement [ClosableResolver]; plain ones can be adapted with
// [WrapClosable].
package resolver
