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

package internal

import (
	"hash/maphash"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// NewRand returns a properly seeded *rand.Rand. The seed is computed using
// the "hash/maphash" package, which can be used concurrently and is
// lock-free. Effectively, we're using the runtime's internal per-thread
// RNG to seed a new rand.Rand.
//
// The returned value is not thread-safe.
func NewRand() *rand.Rand {
	var hash maphash.Hash
	return rand.New(rand.NewSource(int64(hash.Sum64()))) //nolint:gosec // don't need cryptographic RNG
}

// NewSeededRand returns a *rand.Rand whose sequence is fully determined by
// the given identity string. Two processes using the same identity observe
// the same sequence; different identities are spread apart by hashing.
//
// The returned value is not thread-safe.
func NewSeededRand(identity string) *rand.Rand {
	return rand.New(rand.NewSource(int64(xxhash.Sum64String(identity)))) //nolint:gosec // don't need cryptographic RNG
}
