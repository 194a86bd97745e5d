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
	"encoding/json"
)

// entries is an insertion-ordered string-keyed map. Setting an existing key
// replaces its value in place so the key keeps its first position.
type entries struct {
	keys  []string
	vals  []any
	index map[string]int
}

func (e *entries) set(k string, v any) {
	if i, ok := e.index[k]; ok {
		e.vals[i] = v
		return
	}
	if e.index == nil {
		e.index = make(map[string]int)
	}
	e.index[k] = len(e.keys)
	e.keys = append(e.keys, k)
	e.vals = append(e.vals, v)
}

func (e *entries) len() int { return len(e.keys) }

func (e *entries) reset() {
	clear(e.vals)
	e.keys = e.keys[:0]
	e.vals = e.vals[:0]
	clear(e.index)
}

// jsonWriter streams a JSON document into buf while keeping the member order
// chosen by the caller. The first encoding error is retained in err and the
// rest of the document is still written so callers check once at the end.
type jsonWriter struct {
	buf     *bytes.Buffer
	scratch bytes.Buffer
	enc     *json.Encoder
	first   []bool
	err     error
}

func (w *jsonWriter) reset(buf *bytes.Buffer) {
	w.buf = buf
	w.scratch.Reset()
	if w.enc == nil {
		w.enc = json.NewEncoder(&w.scratch)
		w.enc.SetEscapeHTML(false)
	}
	w.first = w.first[:0]
	w.err = nil
}

// next writes the separator that precedes a member or array element.
func (w *jsonWriter) next() {
	if n := len(w.first); n > 0 {
		if !w.first[n-1] {
			w.buf.WriteByte(',')
		}
		w.first[n-1] = false
	}
}

func (w *jsonWriter) openObject() {
	w.buf.WriteByte('{')
	w.first = append(w.first, true)
}

func (w *jsonWriter) closeObject() {
	w.buf.WriteByte('}')
	w.first = w.first[:len(w.first)-1]
}

func (w *jsonWriter) openArray() {
	w.buf.WriteByte('[')
	w.first = append(w.first, true)
}

func (w *jsonWriter) closeArray() {
	w.buf.WriteByte(']')
	w.first = w.first[:len(w.first)-1]
}

func (w *jsonWriter) key(k string) {
	w.next()
	w.value(k)
	w.buf.WriteByte(':')
}

// value encodes v without HTML escaping and without the encoder's trailing
// newline.
func (w *jsonWriter) value(v any) {
	w.scratch.Reset()
	if err := w.enc.Encode(v); err != nil {
		if w.err == nil {
			w.err = err
		}
		w.buf.WriteString("null")
		return
	}
	w.buf.Write(bytes.TrimSuffix(w.scratch.Bytes(), []byte{'\n'}))
}

func (w *jsonWriter) field(k string, v any) {
	w.key(k)
	w.value(v)
}

// raw writes pre-encoded JSON as the next value.
func (w *jsonWriter) raw(b []byte) {
	w.buf.Write(b)
}

func (w *jsonWriter) object(e *entries) {
	w.openObject()
	for i, k := range e.keys {
		w.field(k, e.vals[i])
	}
	w.closeObject()
}
