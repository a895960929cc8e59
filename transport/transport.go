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

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bufbuild/discoverylb/resolver"
)

// Operation names a registry request, independently of how it is encoded.
// Status evaluators and metrics key off the operation.
type Operation string

const (
	OpRegister             Operation = "Register"
	OpCancel               Operation = "Cancel"
	OpSendHeartbeat        Operation = "SendHeartBeat"
	OpStatusUpdate         Operation = "StatusUpdate"
	OpDeleteStatusOverride Operation = "DeleteStatusOverride"
	OpGetApplications      Operation = "GetApplications"
	OpGetDelta             Operation = "GetDelta"
	OpGetVIP               Operation = "GetVip"
	OpGetSecureVIP         Operation = "GetSecureVip"
	OpGetApplication       Operation = "GetApplication"
	OpGetInstance          Operation = "GetInstance"
)

var (
	// ErrNoEndpoints is returned when the resolver has no endpoints to try.
	ErrNoEndpoints = errors.New("no known registry server: resolved endpoint list is empty")
	// ErrExhaustedEndpoints matches the *ExhaustedError returned when every
	// attempt of an operation failed.
	ErrExhaustedEndpoints = errors.New("request failed on all attempted registry servers")
	// ErrRedirectLimitExceeded matches the *RedirectLimitError returned
	// when a server keeps redirecting.
	ErrRedirectLimitExceeded = errors.New("redirect limit exceeded")
	// ErrClientClosed is returned by clients that were already closed.
	ErrClientClosed = errors.New("client is closed")
)

// Request is one registry call. Path is relative to the endpoint's
// service URL and must not start with a slash.
type Request struct {
	Operation Operation
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      []byte
}

// Response is the answer to a Request. Any status code is a response; only
// failures to exchange the request at all are reported as errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Location returns the parsed "Location" header of the response.
func (r *Response) Location() (*url.URL, error) {
	location := r.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("response with status %d has no Location header", r.StatusCode)
	}
	return url.Parse(location)
}

// Client executes requests. Implementations are safe for concurrent use.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Factory creates clients bound to a single endpoint.
type Factory interface {
	New(endpoint resolver.Endpoint) Client
	Close() error
}

// ClientFactory creates clients that pick their endpoints themselves.
type ClientFactory interface {
	NewClient() Client
	Close() error
}

// ExhaustedError reports that all attempts of an operation failed.
type ExhaustedError struct {
	Operation Operation
	Attempts  int
	// Last is the error of the last attempt, or nil if it ended with an
	// unacceptable status, which is then held in LastStatus.
	Last       error
	LastStatus int
}

func (e *ExhaustedError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s: %v after %d attempt(s)", e.Operation, ErrExhaustedEndpoints, e.Attempts)
	switch {
	case e.Last != nil:
		fmt.Fprintf(&builder, ", last error: %v", e.Last)
	case e.LastStatus != 0:
		fmt.Fprintf(&builder, ", last status: %d", e.LastStatus)
	}
	return builder.String()
}

// Is makes errors.Is(err, ErrExhaustedEndpoints) true.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhaustedEndpoints
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// RedirectLimitError reports that a request was redirected more often than
// allowed. Last is the final redirect response.
type RedirectLimitError struct {
	Hops int
	Last *Response
}

func (e *RedirectLimitError) Error() string {
	return fmt.Sprintf("%v: gave up after %d redirects", ErrRedirectLimitExceeded, e.Hops)
}

// Is makes errors.Is(err, ErrRedirectLimitExceeded) true.
func (e *RedirectLimitError) Is(target error) bool {
	return target == ErrRedirectLimitExceeded
}

func withTrailingSlash(serviceURL string) string {
	if strings.HasSuffix(serviceURL, "/") {
		return serviceURL
	}
	return serviceURL + "/"
}
