// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package casing converts structured log keys to the lowerCamelCase form
// expected by Cloud Logging payloads.
package casing

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/iancoleman/strcase"
)

// maxCached bounds the conversion cache so adversarial key sets cannot grow
// it without limit.
const maxCached = 4096

var (
	cache  sync.Map // map[string]string
	cached atomic.Int64
)

// Camel converts snake_case (and dot or dash separated) keys to
// lowerCamelCase. Keys without separators are returned unchanged, so
// already-camelCased and single-word keys pass through.
func Camel(key string) string {
	if !hasSeparator(key) {
		return key
	}
	if v, ok := cache.Load(key); ok {
		return v.(string)
	}
	out := strcase.ToLowerCamel(key)
	if cached.Load() < maxCached {
		if _, loaded := cache.LoadOrStore(key, out); !loaded {
			cached.Add(1)
		}
	}
	return out
}

// hasSeparator reports whether key contains a word separator understood by
// the camelCase conversion.
func hasSeparator(key string) bool {
	return strings.ContainsAny(key, "_.- ")
}
