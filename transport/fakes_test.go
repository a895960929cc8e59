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
	"sync"
	"testing"

	"github.com/bufbuild/discoverylb/resolver"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errConnectionRefused = errors.New("connection refused")

type handlerFunc func(req *Request) (*Response, error)

func respond(statusCode int) handlerFunc {
	return func(*Request) (*Response, error) {
		return &Response{StatusCode: statusCode}, nil
	}
}

func fail(err error) handlerFunc {
	return func(*Request) (*Response, error) {
		return nil, err
	}
}

// fakeFactory answers requests with per-endpoint handlers and records the
// endpoints it was called on, in order.
type fakeFactory struct {
	mu          sync.Mutex
	handlers    map[string]handlerFunc
	calls       []string
	created     int
	closed      int
	doubleClose int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{handlers: map[string]handlerFunc{}}
}

func (f *fakeFactory) handle(serviceURL string, handler handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[serviceURL] = handler
}

func (f *fakeFactory) New(endpoint resolver.Endpoint) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &fakeClient{factory: f, endpoint: endpoint}
}

func (f *fakeFactory) Close() error {
	return nil
}

func (f *fakeFactory) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// open returns the number of created clients that were not closed.
func (f *fakeFactory) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created - f.closed
}

type fakeClient struct {
	factory  *fakeFactory
	endpoint resolver.Endpoint
	closed   bool
}

func (c *fakeClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.factory.mu.Lock()
	c.factory.calls = append(c.factory.calls, c.endpoint.ServiceURL)
	handler := c.factory.handlers[c.endpoint.ServiceURL]
	c.factory.mu.Unlock()
	if handler == nil {
		return nil, errConnectionRefused
	}
	return handler(req)
}

func (c *fakeClient) Close() error {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	if c.closed {
		c.factory.doubleClose++
		return nil
	}
	c.closed = true
	c.factory.closed++
	return nil
}

func endpoints(serviceURLs ...string) []resolver.Endpoint {
	result := make([]resolver.Endpoint, len(serviceURLs))
	for i, serviceURL := range serviceURLs {
		result[i] = resolver.Endpoint{ServiceURL: serviceURL}
	}
	return result
}

func getApps() *Request {
	return &Request{Operation: OpGetApplications, Method: "GET", Path: "apps/"}
}
