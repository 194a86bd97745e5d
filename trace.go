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
	"strings"

	"github.com/pjscruggs/slogsd/span"
)

// Entry keys recognized by Cloud Logging.
const (
	// TraceKey holds "projects/<project>/traces/<trace id>".
	TraceKey = "logging.googleapis.com/trace"
	// SpanKey holds the 16 hex digit span id.
	SpanKey = "logging.googleapis.com/spanId"
	// SampledKey is present, and true, only for sampled traces.
	SampledKey = "logging.googleapis.com/trace_sampled"
	// SourceLocationKey holds {"file", "line"}.
	SourceLocationKey = "logging.googleapis.com/sourceLocation"
	// LabelsKey holds the string-to-string labels map.
	LabelsKey = "logging.googleapis.com/labels"
	// InsertIDKey holds the entry's de-duplication id.
	InsertIDKey = "logging.googleapis.com/insertId"
	// HTTPRequestKey holds the nested HttpRequest object.
	HTTPRequestKey = "httpRequest"

	googleKeyPrefix = "logging.googleapis.com/"
)

// reservedKeys are produced by the formatter itself. Event fields that
// normalize to one of them are dropped.
var reservedKeys = map[string]struct{}{
	"time":            {},
	"target":          {},
	severityField:     {},
	"span":            {},
	"spans":           {},
	HTTPRequestKey:    {},
	TraceKey:          {},
	SpanKey:           {},
	SampledKey:        {},
	SourceLocationKey: {},
	LabelsKey:         {},
	InsertIDKey:       {},
}

func isReservedKey(k string) bool {
	_, ok := reservedKeys[k]
	return ok
}

// FormatTraceResource returns the fully qualified Cloud Trace resource name
// projects/<projectID>/traces/<traceID>.
func FormatTraceResource(projectID, traceID string) string {
	return "projects/" + projectID + "/traces/" + traceID
}

// traceFields are the correlation values derived from a span.
type traceFields struct {
	trace   string
	spanID  string
	sampled bool
}

func (tf traceFields) writeTo(w *jsonWriter) {
	if tf.spanID != "" {
		w.field(SpanKey, tf.spanID)
	}
	if tf.trace != "" {
		w.field(TraceKey, tf.trace)
	}
	if tf.sampled {
		w.field(SampledKey, true)
	}
}

// traceExtractor derives correlation values from the current span.
type traceExtractor interface {
	extract(ref span.Ref) (traceFields, bool)
}

// noTrace emits no correlation keys.
type noTrace struct{}

func (noTrace) extract(span.Ref) (traceFields, bool) { return traceFields{}, false }

// cloudTrace reads [span.TraceData] from the span's extensions. The parent
// context decides trace id and sampling when it is valid. Otherwise the
// trace id assigned at creation is used and the entry is unsampled. The
// trace resource needs a project id; without one only the span id is
// emitted.
type cloudTrace struct {
	projectID string
}

func (ct cloudTrace) extract(ref span.Ref) (traceFields, bool) {
	data, ok := span.Get[span.TraceData](ref.Extensions())
	if !ok {
		return traceFields{}, false
	}

	var tf traceFields
	if data.SpanID.IsValid() {
		tf.spanID = data.SpanID.String()
	}
	traceID := data.TraceID
	if data.Parent.IsValid() {
		traceID = data.Parent.TraceID()
		tf.sampled = data.Parent.IsSampled()
	}
	if traceID.IsValid() && ct.projectID != "" {
		tf.trace = FormatTraceResource(ct.projectID, traceID.String())
	}
	return tf, tf.spanID != "" || tf.trace != ""
}

// normalizeProjectID trims whitespace and an optional "projects/" prefix.
// It reports false for values that cannot be a project id.
func normalizeProjectID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) >= len("projects/") && strings.EqualFold(s[:len("projects/")], "projects/") {
		s = strings.TrimSpace(s[len("projects/"):])
	}
	if s == "" || strings.ContainsAny(s, "/ \t") {
		return "", false
	}
	return s, true
}
