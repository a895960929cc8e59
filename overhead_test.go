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

package discoverylb_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/bufbuild/discoverylb"
	"github.com/bufbuild/discoverylb/resolver"
	"github.com/bufbuild/discoverylb/transport"
)

type noopFactory struct{}

func (noopFactory) New(resolver.Endpoint) transport.Client {
	return okClient{}
}

func (noopFactory) Close() error {
	return nil
}

func BenchmarkNoOpTransportPipeline(b *testing.B) {
	res := resolver.WrapClosable(resolver.NewStatic(region,
		resolver.Endpoint{ServiceURL: "http://registry-1.invalid/eureka/v2/"},
		resolver.Endpoint{ServiceURL: "http://registry-2.invalid/eureka/v2/"},
	))
	factory := discoverylb.NewClientFactory(res, noopFactory{})
	b.Cleanup(func() {
		_ = factory.Close()
	})
	client := factory.NewClient()
	b.Cleanup(func() {
		_ = client.Close()
	})
	req := &transport.Request{Operation: transport.OpGetApplications, Method: http.MethodGet, Path: "apps/"}
	b.SetParallelism(100)
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		for p.Next() {
			if _, err := client.Do(context.Background(), req); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkNoOpTransportDirect(b *testing.B) {
	client := noopFactory{}.New(resolver.Endpoint{ServiceURL: "http://registry-1.invalid/eureka/v2/"})
	req := &transport.Request{Operation: transport.OpGetApplications, Method: http.MethodGet, Path: "apps/"}
	b.SetParallelism(100)
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		for p.Next() {
			if _, err := client.Do(context.Background(), req); err != nil {
				b.Fatal(err)
			}
		}
	})
}
