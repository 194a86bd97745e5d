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
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pjscruggs/slogsd/internal/casing"
	"github.com/pjscruggs/slogsd/span"
)

// Raw field names with routing meaning.
const (
	severityField    = "severity"
	insertIDField    = "insert_id"
	httpRequestGroup = "http_request"
	labelsGroup      = "labels"
	googleGroup      = "google"
)

// fieldVisitor receives record attributes as a closed set of value kinds.
// Groups never reach a visitor; they are flattened into dotted keys first.
type fieldVisitor interface {
	recordInt64(key string, v int64)
	recordUint64(key string, v uint64)
	recordFloat64(key string, v float64)
	recordBool(key string, v bool)
	recordString(key string, v string)
	// recordDebug receives values with no scalar form, rendered with their
	// debug representation unless the visitor knows the type.
	recordDebug(key string, v any)
	// recordValue receives the same values as recordDebug when structured
	// values are enabled.
	recordValue(key string, v any)
}

// formatterValue marks values the formatter consumes itself. They bypass
// LogValuer resolution so the visitor sees the original type.
type formatterValue interface {
	formatterValue()
}

// visitAttr flattens a into dotted keys below prefix and dispatches each
// leaf to v.
func visitAttr(v fieldVisitor, prefix string, a slog.Attr, structured bool) {
	val := a.Value
	if val.Kind() == slog.KindLogValuer {
		if fv, ok := val.LogValuer().(formatterValue); ok {
			v.recordDebug(joinKey(prefix, a.Key), fv)
			return
		}
		val = val.Resolve()
	}
	if val.Kind() == slog.KindAny {
		if fv, ok := val.Any().(formatterValue); ok {
			v.recordDebug(joinKey(prefix, a.Key), fv)
			return
		}
	}

	if val.Kind() == slog.KindGroup {
		attrs := val.Group()
		if len(attrs) == 0 {
			return
		}
		if a.Key == "" {
			for _, ga := range attrs {
				visitAttr(v, prefix, ga, structured)
			}
			return
		}
		key := joinKey(prefix, a.Key)
		if key == severityField {
			v.recordValue(key, groupTag(attrs))
			return
		}
		for _, ga := range attrs {
			visitAttr(v, key, ga, structured)
		}
		return
	}

	if a.Equal(slog.Attr{}) {
		return
	}
	key := joinKey(prefix, a.Key)
	switch val.Kind() {
	case slog.KindString:
		v.recordString(key, val.String())
	case slog.KindInt64:
		v.recordInt64(key, val.Int64())
	case slog.KindUint64:
		v.recordUint64(key, val.Uint64())
	case slog.KindFloat64:
		v.recordFloat64(key, val.Float64())
	case slog.KindBool:
		v.recordBool(key, val.Bool())
	case slog.KindDuration:
		v.recordString(key, val.Duration().String())
	case slog.KindTime:
		v.recordString(key, val.Time().Format(time.RFC3339Nano))
	default:
		if structured {
			v.recordValue(key, val.Any())
		} else {
			v.recordDebug(key, val.Any())
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// groupTag turns a one-member group into a single-key object, the shape of
// an externally tagged enum value.
func groupTag(attrs []slog.Attr) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.String()
	}
	return m
}

// fieldClassifier routes event fields into the top-level entry, the
// httpRequest object, the labels map and reserved Google keys.
type fieldClassifier struct {
	googleRouting bool

	top    entries
	http   entries
	google entries
	labels map[string]string

	severity    Severity
	hasSeverity bool
	httpReq     *HTTPRequest
	parent      span.ID
	hasParent   bool
	dropped     int
}

func (c *fieldClassifier) reset(googleRouting bool) {
	c.googleRouting = googleRouting
	c.top.reset()
	c.http.reset()
	c.google.reset()
	clear(c.labels)
	c.severity = SeverityDefault
	c.hasSeverity = false
	c.httpReq = nil
	c.parent = span.ID{}
	c.hasParent = false
	c.dropped = 0
}

func (c *fieldClassifier) recordInt64(key string, v int64)     { c.route(key, v) }
func (c *fieldClassifier) recordUint64(key string, v uint64)   { c.route(key, v) }
func (c *fieldClassifier) recordBool(key string, v bool)       { c.route(key, v) }
func (c *fieldClassifier) recordString(key string, v string)   { c.route(key, v) }
func (c *fieldClassifier) recordFloat64(key string, v float64) { c.route(key, floatValue(v)) }

func (c *fieldClassifier) recordDebug(key string, v any) {
	if c.consume(v) {
		return
	}
	if key == severityField {
		c.route(key, v)
		return
	}
	c.route(key, debugString(v))
}

func (c *fieldClassifier) recordValue(key string, v any) {
	if c.consume(v) {
		return
	}
	if key == severityField {
		c.route(key, v)
		return
	}
	c.route(key, structuredValue(v))
}

// consume handles values whose type, not key, decides their destination.
func (c *fieldClassifier) consume(v any) bool {
	switch tv := v.(type) {
	case *HTTPRequest:
		if tv != nil {
			c.httpReq = tv
		}
		return true
	case parentRef:
		c.parent = tv.id
		c.hasParent = true
		return true
	}
	return false
}

func (c *fieldClassifier) route(key string, v any) {
	switch key {
	case severityField:
		c.severity = severityFromAny(v)
		c.hasSeverity = true
		return
	case insertIDField:
		c.google.set(InsertIDKey, labelString(v))
		return
	}

	if head, rest, ok := strings.Cut(key, "."); ok && rest != "" {
		switch head {
		case httpRequestGroup:
			c.http.set(casing.Camel(rest), v)
			return
		case labelsGroup:
			c.setLabel(rest, v)
			return
		case googleGroup:
			if c.googleRouting {
				c.routeGoogle(rest, v)
				return
			}
		}
	}

	out := casing.Camel(key)
	if isReservedKey(out) {
		c.dropped++
		return
	}
	c.top.set(out, v)
}

// routeGoogle maps google.labels.* onto labels and any other google.* field
// onto its logging.googleapis.com/ equivalent. Keys the formatter writes
// itself are dropped, except insertId.
func (c *fieldClassifier) routeGoogle(rest string, v any) {
	if sub, label, ok := strings.Cut(rest, "."); ok && sub == labelsGroup && label != "" {
		c.setLabel(casing.Camel(label), v)
		return
	}
	key := googleKeyPrefix + casing.Camel(rest)
	switch {
	case key == InsertIDKey:
		c.google.set(InsertIDKey, labelString(v))
	case isReservedKey(key):
		c.dropped++
	default:
		c.google.set(key, v)
	}
}

func (c *fieldClassifier) setLabel(k string, v any) {
	if c.labels == nil {
		c.labels = make(map[string]string)
	}
	c.labels[k] = labelString(v)
}

// writeTo emits severity followed by the routed fields.
func (c *fieldClassifier) writeTo(w *jsonWriter, severity Severity, scratch *entries) {
	w.field(severityField, severity.String())
	for i, k := range c.top.keys {
		w.field(k, c.top.vals[i])
	}
	for i, k := range c.google.keys {
		w.field(k, c.google.vals[i])
	}
	if c.httpReq != nil || c.http.len() > 0 {
		scratch.reset()
		if c.httpReq != nil {
			c.httpReq.appendFields(scratch)
		}
		for i, k := range c.http.keys {
			scratch.set(k, c.http.vals[i])
		}
		w.key(HTTPRequestKey)
		w.object(scratch)
	}
	if len(c.labels) > 0 {
		w.field(LabelsKey, c.labels)
	}
}

// floatValue keeps finite floats numeric. NaN and the infinities have no
// JSON number form and are written as strings.
func floatValue(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func debugString(v any) string {
	switch tv := v.(type) {
	case nil:
		return "<nil>"
	case error:
		return tv.Error()
	case fmt.Stringer:
		return tv.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}

// structuredValue keeps v as nested JSON when it encodes cleanly and falls
// back to the debug form otherwise.
func structuredValue(v any) any {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		if _, isMarshaler := v.(json.Marshaler); !isMarshaler {
			return err.Error()
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return debugString(v)
	}
	return json.RawMessage(raw)
}

// labelString renders a label value. Strings pass through and every other
// value uses its textual form.
func labelString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case int64:
		return strconv.FormatInt(tv, 10)
	case uint64:
		return strconv.FormatUint(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case json.RawMessage:
		return string(tv)
	default:
		return debugString(v)
	}
}

// parentRef names the span an event belongs to explicitly.
type parentRef struct {
	id span.ID
}

func (p parentRef) LogValue() slog.Value { return slog.StringValue(p.id.String()) }

func (parentRef) formatterValue() {}

// Parent returns an attribute that attaches the record to the span with the
// given id instead of the span carried by the context. The attribute itself
// is never emitted. If the id is not live the context span is used.
func Parent(id span.ID) slog.Attr {
	return slog.Any("slogsd.parent", parentRef{id: id})
}
