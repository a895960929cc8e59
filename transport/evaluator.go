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

package transport

import "net/http"

// StatusEvaluator decides whether the outcome of an attempt is final.
// networkErr is true when no response was received at all, in which case
// statusCode is zero. Unacceptable outcomes are retried on another
// endpoint.
type StatusEvaluator interface {
	Acceptable(op Operation, statusCode int, networkErr bool) bool
}

// StatusEvaluatorFunc adapts a function to the StatusEvaluator interface.
type StatusEvaluatorFunc func(op Operation, statusCode int, networkErr bool) bool

// Acceptable implements StatusEvaluator.
func (f StatusEvaluatorFunc) Acceptable(op Operation, statusCode int, networkErr bool) bool {
	return f(op, statusCode, networkErr)
}

//nolint:gochecknoglobals
var (
	// NonFatalEvaluator accepts every response that is not a server error.
	NonFatalEvaluator StatusEvaluator = StatusEvaluatorFunc(func(_ Operation, statusCode int, networkErr bool) bool {
		return !networkErr && statusCode < http.StatusInternalServerError
	})

	// HTTPSuccessEvaluator accepts 2xx responses only.
	HTTPSuccessEvaluator StatusEvaluator = StatusEvaluatorFunc(func(_ Operation, statusCode int, networkErr bool) bool {
		return !networkErr && isSuccess(statusCode)
	})

	// LegacyEvaluator accepts 2xx and 302 responses, plus the answers that
	// are meaningful for specific operations: a 404 tells a registering or
	// heartbeating instance it is unknown, a 403 or 404 on a delta fetch
	// asks for a full fetch instead, and any answer at all ends a cancel.
	LegacyEvaluator StatusEvaluator = StatusEvaluatorFunc(legacyAcceptable)
)

func legacyAcceptable(op Operation, statusCode int, networkErr bool) bool {
	switch {
	case networkErr:
		return false
	case isSuccess(statusCode), statusCode == http.StatusFound:
		return true
	case op == OpRegister && statusCode == http.StatusNotFound:
		return true
	case op == OpSendHeartbeat && statusCode == http.StatusNotFound:
		return true
	case op == OpCancel:
		return true
	case op == OpGetDelta && (statusCode == http.StatusForbidden || statusCode == http.StatusNotFound):
		return true
	default:
		return false
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
