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
	"testing"

	"github.com/google/go-cmp/cmp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// names collects span names from a sequence of references.
func names(seq iter.Seq[Ref]) []string {
	var out []string
	for ref := range seq {
		out = append(out, ref.Name())
	}
	return out
}

// TestStartNestsUnderCurrentSpan verifies parent links and chain traversal
// in both directions.
func TestStartNestsUnderCurrentSpan(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ctx, root := reg.Start(context.Background(), "root")
	ctx, mid := reg.Start(ctx, "mid")
	ctx, leaf := reg.Start(ctx, "leaf")
	t.Cleanup(func() {
		leaf.End()
		mid.End()
		root.End()
	})

	cur, ok := reg.Current(ctx)
	if !ok || cur.ID() != leaf.ID() {
		t.Fatalf("Current() = %v, %v; want leaf span", cur, ok)
	}
	if diff := cmp.Diff([]string{"leaf", "mid", "root"}, names(Scope(cur))); diff != "" {
		t.Fatalf("Scope() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"root", "mid", "leaf"}, names(FromRoot(cur))); diff != "" {
		t.Fatalf("FromRoot() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := root.Parent(); ok {
		t.Fatalf("root.Parent() reported a parent")
	}
	if reg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", reg.Len())
	}
}

// TestEndRemovesSpan ensures ended spans disappear from lookups and stop
// being current.
func TestEndRemovesSpan(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ctx, s := reg.Start(context.Background(), "work")
	if _, ok := reg.Lookup(s.ID()); !ok {
		t.Fatalf("Lookup() missed live span")
	}

	s.End()
	s.End()

	if _, ok := reg.Lookup(s.ID()); ok {
		t.Fatalf("Lookup() found ended span")
	}
	if _, ok := reg.Current(ctx); ok {
		t.Fatalf("Current() returned ended span")
	}
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", reg.Len())
	}
}

// TestCurrentIgnoresForeignRegistry checks that spans from another registry
// are not treated as current.
func TestCurrentIgnoresForeignRegistry(t *testing.T) {
	t.Parallel()

	ctx, s := NewRegistry().Start(context.Background(), "other")
	defer s.End()

	if _, ok := NewRegistry().Current(ctx); ok {
		t.Fatalf("Current() accepted span from a different registry")
	}
}

// TestFormattedFieldsRendering covers key casing, group flattening and
// in-place replacement on Record.
func TestFormattedFieldsRendering(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, s := reg.Start(context.Background(), "render",
		slog.String("foo", "bar"),
		slog.Int("retry_count", 2),
		slog.Group("user", slog.String("id", "u-1")),
	)
	defer s.End()

	ff, ok := Get[FormattedFields](s.Extensions())
	if !ok {
		t.Fatalf("FormattedFields missing")
	}
	if want := `{"foo":"bar","retryCount":2,"userId":"u-1"}`; ff.Fields != want {
		t.Fatalf("Fields = %s, want %s", ff.Fields, want)
	}

	s.Record(slog.String("foo", "baz"), slog.Bool("done", true))
	ff, _ = Get[FormattedFields](s.Extensions())
	if want := `{"foo":"baz","retryCount":2,"userId":"u-1","done":true}`; ff.Fields != want {
		t.Fatalf("Fields after Record = %s, want %s", ff.Fields, want)
	}
}

// TestExtensionsTypedAccess verifies typed storage and replacement.
func TestExtensionsTypedAccess(t *testing.T) {
	t.Parallel()

	var ext Extensions
	if _, ok := Get[FormattedFields](&ext); ok {
		t.Fatalf("Get() on empty bag reported a value")
	}
	Insert(&ext, FormattedFields{Fields: "{}"})
	Insert(&ext, FormattedFields{Fields: `{"a":1}`})
	got, ok := Get[FormattedFields](&ext)
	if !ok || got.Fields != `{"a":1}` {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if ext.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ext.Len())
	}
	if _, ok := Get[TraceData](&ext); ok {
		t.Fatalf("Get[TraceData]() reported a value")
	}
}

// TestTracerProviderAttachesTraceData verifies the OpenTelemetry attachment
// for root and child spans.
func TestTracerProviderAttachesTraceData(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := NewRegistry(WithTracerProvider(tp))
	ctx, root := reg.Start(context.Background(), "root")
	defer root.End()
	_, child := reg.Start(ctx, "child")
	defer child.End()

	rootData, ok := Get[TraceData](root.Extensions())
	if !ok {
		t.Fatalf("root TraceData missing")
	}
	if rootData.Parent.IsValid() {
		t.Fatalf("root parent context should be invalid")
	}
	if !rootData.TraceID.IsValid() || !rootData.SpanID.IsValid() {
		t.Fatalf("root TraceData ids invalid: %+v", rootData)
	}

	childData, ok := Get[TraceData](child.Extensions())
	if !ok {
		t.Fatalf("child TraceData missing")
	}
	if !childData.Parent.IsValid() || childData.Parent.SpanID() != rootData.SpanID {
		t.Fatalf("child parent = %v, want root span %v", childData.Parent.SpanID(), rootData.SpanID)
	}
	if childData.TraceID != rootData.TraceID {
		t.Fatalf("child trace %v, want %v", childData.TraceID, rootData.TraceID)
	}
}

// TestRemoteParentWithoutTracer ensures a remote span context is attached
// even when no tracer provider is configured.
func TestRemoteParentWithoutTracer(t *testing.T) {
	t.Parallel()

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), remote)

	_, s := NewRegistry().Start(ctx, "inbound")
	defer s.End()

	data, ok := Get[TraceData](s.Extensions())
	if !ok {
		t.Fatalf("TraceData missing")
	}
	if data.Parent.TraceID() != traceID || data.SpanID.IsValid() {
		t.Fatalf("TraceData = %+v", data)
	}
}

// TestScopeStopsEarly ensures iteration honours an early break.
func TestScopeStopsEarly(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ctx, a := reg.Start(context.Background(), "a")
	defer a.End()
	_, b := reg.Start(ctx, "b")
	defer b.End()

	var seen []string
	for ref := range FromRoot(b) {
		seen = append(seen, ref.Name())
		break
	}
	if !slices.Equal(seen, []string{"a"}) {
		t.Fatalf("FromRoot() early break saw %v", seen)
	}
}
