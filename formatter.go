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

package slogsd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pjscruggs/slogsd/span"
)

// maxPooledBuffer bounds the capacity of buffers returned to the pool.
const maxPooledBuffer = 64 << 10

type boundAttr struct {
	prefix string
	attr   slog.Attr
}

// formatState is the per-record scratch space reused across records.
type formatState struct {
	buf    bytes.Buffer
	w      jsonWriter
	fields fieldClassifier
	http   entries
}

var formatStatePool = sync.Pool{
	New: func() any {
		return new(formatState)
	},
}

func (st *formatState) recycle() {
	if st.buf.Cap() > maxPooledBuffer {
		return
	}
	st.buf.Reset()
	st.fields.reset(false)
	st.http.reset()
	formatStatePool.Put(st)
}

// formatHandler renders records as single-line Cloud Logging JSON entries.
type formatHandler struct {
	mu *sync.Mutex

	cfg            *handlerConfig
	leveler        slog.Leveler
	writer         io.Writer
	internalLogger *slog.Logger
	spans          span.LookupSpan
	trace          traceExtractor
	metrics        *formatMetrics

	bound  []boundAttr
	prefix string
}

func newFormatHandler(cfg *handlerConfig, leveler slog.Leveler, internalLogger *slog.Logger) *formatHandler {
	if leveler == nil {
		leveler = slog.LevelInfo
	}
	h := &formatHandler{
		mu:             &sync.Mutex{},
		cfg:            cfg,
		leveler:        leveler,
		writer:         cfg.Writer,
		internalLogger: internalLogger,
		spans:          cfg.Spans,
		trace:          noTrace{},
		metrics:        cfg.Metrics,
	}
	if h.spans == nil {
		h.spans = span.ContextLookup
	}
	if cfg.CloudTrace {
		h.trace = cloudTrace{projectID: cfg.TraceProjectID}
	}
	for _, g := range cfg.InitialGroups {
		h.prefix = joinKey(h.prefix, g)
	}
	for _, a := range cfg.InitialAttrs {
		h.bound = append(h.bound, boundAttr{prefix: h.prefix, attr: a})
	}
	return h
}

// Enabled reports whether level meets the handler's minimum level.
func (h *formatHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.leveler.Level()
}

// WithAttrs returns a handler that adds attrs, qualified by the current
// group, to every record.
func (h *formatHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.bound = make([]boundAttr, 0, len(h.bound)+len(attrs))
	clone.bound = append(clone.bound, h.bound...)
	for _, a := range attrs {
		clone.bound = append(clone.bound, boundAttr{prefix: h.prefix, attr: a})
	}
	return &clone
}

// WithGroup returns a handler that qualifies later attributes with name.
// Groups become dotted key prefixes, so WithGroup("http_request") routes
// into the httpRequest object like any other http_request.* field.
func (h *formatHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// Handle formats r into one JSON line and hands it to the writer in a
// single Write call. On failure nothing is written and a *FormatError is
// returned.
func (h *formatHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	st := formatStatePool.Get().(*formatState)
	defer st.recycle()

	fields := &st.fields
	fields.reset(h.cfg.GoogleFieldRouting)
	if r.Message != "" {
		fields.recordString("message", r.Message)
	}
	for _, b := range h.bound {
		visitAttr(fields, b.prefix, b.attr, h.cfg.StructuredValues)
	}
	r.Attrs(func(a slog.Attr) bool {
		visitAttr(fields, h.prefix, a, h.cfg.StructuredValues)
		return true
	})

	severity := SeverityFromLevel(r.Level)
	if fields.hasSeverity {
		severity = fields.severity
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	st.buf.Reset()
	w := &st.w
	w.reset(&st.buf)
	w.openObject()
	w.field("time", ts.UTC().Format(time.RFC3339Nano))
	w.field("target", h.target(r))
	if file, line, ok := h.sourceLocation(r); ok {
		w.key(SourceLocationKey)
		w.openObject()
		w.field("file", file)
		w.field("line", strconv.Itoa(line))
		w.closeObject()
	}
	if ref, ok := h.currentSpan(ctx, fields); ok {
		if err := writeSpans(w, ref, h.cfg.SpanList); err != nil {
			return h.fail(err)
		}
		if tf, ok := h.trace.extract(ref); ok {
			tf.writeTo(w)
		}
	}
	fields.writeTo(w, severity, &st.http)
	w.closeObject()
	if w.err != nil {
		return h.fail(&FormatError{Kind: KindEncoding, Err: w.err})
	}
	st.buf.WriteByte('\n')

	h.mu.Lock()
	_, err := h.writer.Write(st.buf.Bytes())
	h.mu.Unlock()
	if err != nil {
		return h.fail(&FormatError{Kind: KindWrite, Err: err})
	}

	h.metrics.observeEntry(severity)
	h.metrics.observeDropped(fields.dropped)
	return nil
}

func (h *formatHandler) fail(err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		h.metrics.observeFailure(fe.Kind)
	}
	h.internalLogger.Error("failed to emit log entry", slog.Any("error", err))
	return err
}

// currentSpan picks the event's explicit parent when it is still live and
// the context's current span otherwise.
func (h *formatHandler) currentSpan(ctx context.Context, fields *fieldClassifier) (span.Ref, bool) {
	if fields.hasParent {
		if ref, ok := h.spans.Lookup(fields.parent); ok {
			return ref, true
		}
	}
	return h.spans.Current(ctx)
}

func (h *formatHandler) target(r slog.Record) string {
	if h.cfg.Target != "" {
		return h.cfg.Target
	}
	return targetFromPC(r.PC)
}

func (h *formatHandler) sourceLocation(r slog.Record) (file string, line int, ok bool) {
	if !h.cfg.AddSource {
		return "", 0, false
	}
	src := r.Source()
	if src == nil || src.File == "" {
		return "", 0, false
	}
	return src.File, src.Line, true
}

var targetCache sync.Map // uintptr -> string

// targetFromPC returns the import path of the package containing pc.
func targetFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	if v, ok := targetCache.Load(pc); ok {
		return v.(string)
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	target := packagePath(frame.Function)
	targetCache.Store(pc, target)
	return target
}

// packagePath trims the symbol from a fully qualified function name such as
// "example.com/app/store.(*DB).Get".
func packagePath(fn string) string {
	slash := strings.LastIndexByte(fn, '/')
	if dot := strings.IndexByte(fn[slash+1:], '.'); dot >= 0 {
		return fn[:slash+1+dot]
	}
	return fn
}
