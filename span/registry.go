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
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pjscruggs/slogsd/span"

// Option configures a [Registry].
type Option func(*Registry)

// WithTracerProvider starts an OpenTelemetry span next to every registry
// span and records a [TraceData] attachment describing it.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// Registry owns live spans and answers lookups for formatters. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	spans  map[ID]*Span
	tracer trace.Tracer
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{spans: make(map[ID]*Span)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start opens a span named name as a child of the current span in ctx and
// returns a context in which the new span is current.
//
// When the registry has a tracer the OpenTelemetry span is started from ctx
// as well, so the returned context also carries its span context. Without a
// tracer, a valid span context already present in ctx (for example one
// extracted from inbound headers) is still attached as the parent.
func (r *Registry) Start(ctx context.Context, name string, attrs ...slog.Attr) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Span{
		id:       newID(),
		name:     name,
		registry: r,
	}
	if parent, ok := r.current(ctx); ok {
		s.parent = parent
	}
	s.fields = mergeFields(nil, "", attrs)
	Insert(&s.ext, FormattedFields{Fields: renderFields(s.fields)})

	parentSC := trace.SpanContextFromContext(ctx)
	if r.tracer != nil {
		var otelSpan trace.Span
		ctx, otelSpan = r.tracer.Start(ctx, name)
		sc := otelSpan.SpanContext()
		Insert(&s.ext, TraceData{Parent: parentSC, SpanID: sc.SpanID(), TraceID: sc.TraceID()})
		s.otelSpan = otelSpan
	} else if parentSC.IsValid() {
		Insert(&s.ext, TraceData{Parent: parentSC})
	}

	r.mu.Lock()
	r.spans[s.id] = s
	r.mu.Unlock()

	return ContextWithSpan(ctx, s), s
}

// Lookup resolves a live span by identifier.
func (r *Registry) Lookup(id ID) (Ref, bool) {
	r.mu.RLock()
	s, ok := r.spans[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s, true
}

// Current returns the innermost live span entered in ctx.
func (r *Registry) Current(ctx context.Context) (Ref, bool) {
	s, ok := r.current(ctx)
	if !ok {
		return nil, false
	}
	return s, true
}

// current returns the span stored in ctx when it belongs to r and has not
// ended.
func (r *Registry) current(ctx context.Context) (*Span, bool) {
	s, ok := FromContext(ctx)
	if !ok || s.registry != r || s.ended.Load() {
		return nil, false
	}
	return s, true
}

// Len reports the number of live spans.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spans)
}

// Span is a named scope of execution owned by a [Registry].
type Span struct {
	id       ID
	name     string
	parent   *Span
	registry *Registry
	ext      Extensions
	otelSpan trace.Span
	ended    atomic.Bool

	mu     sync.Mutex
	fields []field
}

// ID returns the span's identifier.
func (s *Span) ID() ID { return s.id }

// Name returns the span's name.
func (s *Span) Name() string { return s.name }

// Parent returns the enclosing span.
func (s *Span) Parent() (Ref, bool) {
	if s.parent == nil {
		return nil, false
	}
	return s.parent, true
}

// Extensions returns the span's extension bag.
func (s *Span) Extensions() *Extensions { return &s.ext }

// Record adds or replaces fields on the span and refreshes its
// [FormattedFields].
func (s *Span) Record(attrs ...slog.Attr) {
	if len(attrs) == 0 {
		return
	}
	s.mu.Lock()
	s.fields = mergeFields(s.fields, "", attrs)
	Insert(&s.ext, FormattedFields{Fields: renderFields(s.fields)})
	s.mu.Unlock()
}

// End removes the span from its registry and ends the OpenTelemetry span
// started with it. Calling End more than once has no effect.
func (s *Span) End() {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.registry.mu.Lock()
	delete(s.registry.spans, s.id)
	s.registry.mu.Unlock()
	if s.otelSpan != nil {
		s.otelSpan.End()
	}
}

// Scope yields ref followed by each of its ancestors, ending at the root.
func Scope(ref Ref) iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for cur, ok := ref, ref != nil; ok; cur, ok = cur.Parent() {
			if !yield(cur) {
				return
			}
		}
	}
}

// FromRoot yields the ancestors of ref starting at the root and ending with
// ref itself.
func FromRoot(ref Ref) iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		chain := slices.Collect(Scope(ref))
		for _, s := range slices.Backward(chain) {
			if !yield(s) {
				return
			}
		}
	}
}
