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

// Package discoverylb provides clients for a service registry cluster that
// keep working while individual registry servers fail, restart or move.
//
// A client is created by a [ClientFactory]. Every request of a client goes
// through a pipeline of layers, each adding one behavior:
//
//  1. A session layer, which periodically replaces the layers below with
//     fresh ones, so that a client does not stay attached to one server
//     forever. See [WithSessionInterval].
//  2. A retry layer, which asks a resolver for the candidate servers and
//     tries them in order until one gives an acceptable answer. A server
//     that failed is quarantined and skipped by later requests, until too
//     many servers are quarantined and all of them get another chance.
//     The server that last answered is tried first. See
//     [WithStatusEvaluator] and [WithQuarantineRefreshPercentage].
//  3. A redirect layer, which follows redirects between registry servers
//     and keeps talking to the server it was redirected to.
//  4. A metrics layer, which records every exchange in Prometheus
//     collectors. See [WithRegisterer].
//  5. The transport, which actually talks to a server. The
//     [github.com/bufbuild/discoverylb/transport/httptransport] package
//     provides the HTTP one.
//
// The registry protocol itself, meaning which requests to send for an
// operation and how to decode the answers, is implemented by the
// [github.com/bufbuild/discoverylb/registryapi] package, on top of any
// client of this package.
//
// # Registration and Queries
//
// Instances registering themselves and sending heartbeats should use
// [NewRegistrationClientFactory]. Its clients talk to the registry servers
// listed in the configuration, starting in the caller's own zone.
//
// Queries should use [NewQueryClientFactory]. When the configuration names
// a read cluster VIP, query clients talk to the servers registered under
// that VIP instead. They are found in the caller's own copy of the
// registry when it has a recent one, and otherwise by asking the
// configured servers. The list is refreshed in the background.
//
// Both factories must be closed when no longer needed. Closing a factory
// stops its background work, releases its connections and unregisters its
// metrics.
package discoverylb
