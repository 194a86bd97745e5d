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
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/pjscruggs/slogsd/span"
)

var spanParsers fastjson.ParserPool

// writeSpan emits the span's rendered fields in their stored order followed
// by its name. A user field called "name" is dropped in favor of the span
// name.
func writeSpan(w *jsonWriter, ref span.Ref) error {
	fields := "{}"
	if ff, ok := span.Get[span.FormattedFields](ref.Extensions()); ok && ff.Fields != "" {
		fields = ff.Fields
	}

	p := spanParsers.Get()
	defer spanParsers.Put(p)

	v, err := p.Parse(fields)
	if err != nil {
		return malformedSpan(ref, err)
	}
	obj, err := v.Object()
	if err != nil {
		return malformedSpan(ref, err)
	}

	w.openObject()
	var raw []byte
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if string(key) == "name" {
			return
		}
		w.key(string(key))
		raw = val.MarshalTo(raw[:0])
		w.raw(raw)
	})
	w.field("name", ref.Name())
	w.closeObject()
	return nil
}

func malformedSpan(ref span.Ref, err error) error {
	return &FormatError{
		Kind: KindSpanFields,
		Err:  fmt.Errorf("%w: span %q (%s): %v", ErrMalformedSpanFields, ref.Name(), ref.ID(), err),
	}
}

// writeSpans emits the `span` entry for ref and, when chain is set, the
// `spans` array from the root down to ref.
func writeSpans(w *jsonWriter, ref span.Ref, chain bool) error {
	w.key("span")
	if err := writeSpan(w, ref); err != nil {
		return err
	}
	if !chain {
		return nil
	}
	w.key("spans")
	w.openArray()
	for s := range span.FromRoot(ref) {
		w.next()
		if err := writeSpan(w, s); err != nil {
			return err
		}
	}
	w.closeArray()
	return nil
}
