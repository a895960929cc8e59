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

// Package transport contains the client pipeline that carries registry
// requests to a server.
//
// The pipeline is built from decorators. From the bottom up:
//
//   - a raw per-endpoint client, such as the one of package httptransport;
//   - [NewMetricsFactory], which records every exchange;
//   - [NewRedirectFactory], which follows redirects and remembers where
//     they led;
//   - [NewRetryFactory], which picks endpoints from a resolver and fails
//     over between them, quarantining the ones that fail;
//   - [NewSessionClient], which replaces its client periodically so that
//     load spreads across servers over time.
//
// Whether an outcome counts as a failure is decided by a [StatusEvaluator].
package transport
