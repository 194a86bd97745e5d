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
	"errors"
	"fmt"
)

var (
	// ErrFormat is matched by every error returned from formatting a record.
	// Callers that only need to know that an entry was lost can test for it
	// with errors.Is.
	ErrFormat = errors.New("slogsd: formatting failed")

	// ErrMalformedSpanFields reports a span whose rendered fields are not a
	// JSON object. It indicates a bug in the span field renderer.
	ErrMalformedSpanFields = errors.New("slogsd: malformed span fields")

	// ErrInvalidRedirectTarget indicates an unsupported value for
	// SLOGSD_TARGET, the config file output key or an output option.
	ErrInvalidRedirectTarget = errors.New("slogsd: invalid redirect target")
)

// ErrorKind classifies formatting failures for diagnostics.
type ErrorKind int

const (
	// KindEncoding is a JSON encoding failure.
	KindEncoding ErrorKind = iota + 1
	// KindWrite is a failure reported by the output writer.
	KindWrite
	// KindSpanFields is a span whose rendered fields could not be parsed.
	KindSpanFields
)

// String returns a short lowercase label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindEncoding:
		return "encoding"
	case KindWrite:
		return "write"
	case KindSpanFields:
		return "span_fields"
	default:
		return "unknown"
	}
}

// FormatError is returned by the handler when a record could not be
// emitted. Nothing is written for that record.
type FormatError struct {
	Kind ErrorKind
	Err  error
}

// Error implements error.
func (e *FormatError) Error() string {
	return fmt.Sprintf("slogsd: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FormatError) Unwrap() error { return e.Err }

// Is reports true for [ErrFormat] so all kinds collapse into one signal.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}
