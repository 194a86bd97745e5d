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

// Package span maintains the nested execution scopes that log events occur
// inside. A [Registry] owns every live [Span]; formatters only read spans
// through the [LookupSpan] and [Ref] interfaces and never mutate them.
//
// Each span carries an [Extensions] bag of typed side-channel values. The
// registry stores the span's rendered fields there as [FormattedFields] and,
// when OpenTelemetry integration is configured, a [TraceData] attachment.
//
//	reg := span.NewRegistry()
//	ctx, s := reg.Start(ctx, "checkout", slog.String("cart_id", id))
//	defer s.End()
//	logger.InfoContext(ctx, "charging card")
package span

import (
	"context"

	"github.com/google/uuid"
)

// ID identifies a span within its registry.
type ID uuid.UUID

// String returns the canonical textual form of the identifier.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero identifier.
func (id ID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// newID allocates a fresh random identifier.
func newID() ID {
	return ID(uuid.New())
}

// Ref is a read-only handle to a span, valid for the duration of one
// formatting call.
type Ref interface {
	// ID returns the registry scoped identifier of the span.
	ID() ID
	// Name returns the span's name.
	Name() string
	// Parent returns the enclosing span, or false for root spans.
	Parent() (Ref, bool)
	// Extensions exposes the span's typed extension bag.
	Extensions() *Extensions
}

// LookupSpan is the read-only view of a span registry consumed by
// formatters.
type LookupSpan interface {
	// Lookup resolves a live span by identifier.
	Lookup(id ID) (Ref, bool)
	// Current returns the innermost span entered in ctx.
	Current(ctx context.Context) (Ref, bool)
}

type contextKey struct{}

// ContextWithSpan returns a child context in which s is the current span.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the span stored in ctx by [ContextWithSpan].
func FromContext(ctx context.Context) (*Span, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(contextKey{}).(*Span)
	return s, ok && s != nil
}

// ContextLookup resolves the current span from the context alone, whichever
// registry started it. It cannot resolve spans by identifier.
var ContextLookup LookupSpan = contextLookup{}

type contextLookup struct{}

func (contextLookup) Lookup(ID) (Ref, bool) { return nil, false }

func (contextLookup) Current(ctx context.Context) (Ref, bool) {
	s, ok := FromContext(ctx)
	if !ok || s.ended.Load() {
		return nil, false
	}
	return s, true
}
