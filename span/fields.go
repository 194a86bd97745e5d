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
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/pjscruggs/slogsd/internal/casing"
)

type field struct {
	key   string
	value slog.Value
}

// mergeFields flattens attrs into fields. Group members are keyed by their
// dotted path before camelCasing; a key that is already present is replaced
// in place so the original ordering is kept.
func mergeFields(fields []field, prefix string, attrs []slog.Attr) []field {
	for _, attr := range attrs {
		v := attr.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			next := prefix
			if attr.Key != "" {
				next = joinKey(prefix, attr.Key)
			}
			fields = mergeFields(fields, next, v.Group())
			continue
		}
		if attr.Key == "" {
			continue
		}
		key := casing.Camel(joinKey(prefix, attr.Key))
		replaced := false
		for i := range fields {
			if fields[i].key == key {
				fields[i].value = v
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, field{key: key, value: v})
		}
	}
	return fields
}

// joinKey joins a group prefix and key with a dot.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// renderFields encodes fields as a single JSON object.
func renderFields(fields []field) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeTrimmed(enc, &buf, f.key)
		buf.WriteByte(':')
		mark := buf.Len()
		if err := enc.Encode(fieldValue(f.value)); err != nil {
			buf.Truncate(mark)
			encodeTrimmed(enc, &buf, fmt.Sprintf("%+v", f.value.Any()))
			continue
		}
		trimNewline(&buf)
	}
	buf.WriteByte('}')
	return buf.String()
}

// encodeTrimmed writes v without the trailing newline added by Encode.
// Strings never fail to encode.
func encodeTrimmed(enc *json.Encoder, buf *bytes.Buffer, v string) {
	_ = enc.Encode(v)
	trimNewline(buf)
}

// trimNewline drops the newline json.Encoder appends after each value.
func trimNewline(buf *bytes.Buffer) {
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
}

// fieldValue converts a resolved slog value into a JSON friendly form.
func fieldValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindFloat64:
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return f
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch a := v.Any().(type) {
		case nil:
			return nil
		case error:
			return a.Error()
		case json.Marshaler:
			return a
		case fmt.Stringer:
			return a.String()
		default:
			return fmt.Sprintf("%+v", a)
		}
	default:
		return v.String()
	}
}
