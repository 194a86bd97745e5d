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

package span

import (
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Extensions is a bag of values keyed by their Go type. A span's registry
// populates it; formatters read it with [Get].
type Extensions struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// Get returns the value of type T stored in e.
func Get[T any](e *Extensions) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	e.mu.RLock()
	v, ok := e.values[reflect.TypeFor[T]()]
	e.mu.RUnlock()
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Insert stores v in e, replacing any earlier value of the same type.
func Insert[T any](e *Extensions, v T) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.values == nil {
		e.values = make(map[reflect.Type]any, 2)
	}
	e.values[reflect.TypeFor[T]()] = v
	e.mu.Unlock()
}

// Len reports the number of values stored in e.
func (e *Extensions) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

// FormattedFields holds a span's fields rendered as a JSON object with
// camelCased keys. It is refreshed whenever fields are recorded.
type FormattedFields struct {
	Fields string
}

// String returns the rendered JSON object.
func (f FormattedFields) String() string {
	return f.Fields
}

// TraceData links a span to OpenTelemetry.
//
// Parent is the span context that was active when the span started, which
// may be a remote context extracted from request headers. SpanID and TraceID
// describe the OpenTelemetry span started alongside the registry span; both
// are zero when no tracer provider is configured.
type TraceData struct {
	Parent  trace.SpanContext
	SpanID  trace.SpanID
	TraceID trace.TraceID
}
