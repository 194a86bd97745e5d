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
	"strings"
)

// LevelTrace is a slog level below [slog.LevelDebug] for very chatty
// diagnostics. It is reported with DEBUG severity.
const LevelTrace slog.Level = -8

// Severity is the Cloud Logging LogSeverity of an entry, ordered by
// increasing urgency.
//
// See https://cloud.google.com/logging/docs/reference/v2/rest/v2/LogEntry#LogSeverity
type Severity int

const (
	SeverityDefault Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityAlert
	SeverityEmergency
)

var severityNames = [...]string{
	SeverityDefault:   "DEFAULT",
	SeverityDebug:     "DEBUG",
	SeverityInfo:      "INFO",
	SeverityNotice:    "NOTICE",
	SeverityWarning:   "WARNING",
	SeverityError:     "ERROR",
	SeverityCritical:  "CRITICAL",
	SeverityAlert:     "ALERT",
	SeverityEmergency: "EMERGENCY",
}

// String returns the uppercase Cloud Logging name. Values outside the
// enumeration report DEFAULT.
func (s Severity) String() string {
	if s < SeverityDefault || int(s) >= len(severityNames) {
		return severityNames[SeverityDefault]
	}
	return severityNames[s]
}

// MarshalJSON renders the severity as its uppercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// LogValue lets a Severity be attached as the `severity` field of a record,
// for example slog.Any("severity", slogsd.SeverityNotice).
func (s Severity) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// SeverityFromLevel maps a slog level onto the four severities reachable
// from levels: trace and debug levels report DEBUG, info INFO, warn WARNING
// and anything at or above error ERROR.
func SeverityFromLevel(level slog.Level) Severity {
	switch {
	case level < slog.LevelInfo:
		return SeverityDebug
	case level < slog.LevelWarn:
		return SeverityInfo
	case level < slog.LevelError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// ParseSeverity interprets free text case-insensitively. Unrecognized input
// yields [SeverityDefault]; parsing never fails.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "notice":
		return SeverityNotice
	case "warn", "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "critical":
		return SeverityCritical
	case "alert":
		return SeverityAlert
	case "emergency":
		return SeverityEmergency
	default:
		return SeverityDefault
	}
}

// severityFromAny resolves a severity override recorded on an event. Plain
// strings and Stringers are parsed. Other values are resolved from their
// JSON encoding: an encoded string is parsed, and a single-key object (an
// externally tagged enum) is parsed by its key. Anything else is DEFAULT.
func severityFromAny(v any) Severity {
	switch sv := v.(type) {
	case Severity:
		return sv
	case string:
		return ParseSeverity(sv)
	case map[string]any:
		return severityFromTag(sv)
	case json.RawMessage:
		return severityFromJSON(sv)
	case json.Marshaler:
		return severityFromEncoded(v)
	case fmt.Stringer:
		return ParseSeverity(sv.String())
	default:
		return severityFromEncoded(v)
	}
}

func severityFromEncoded(v any) Severity {
	if v == nil {
		return SeverityDefault
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return SeverityDefault
	}
	return severityFromJSON(raw)
}

func severityFromJSON(raw []byte) Severity {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return SeverityDefault
	}
	switch dv := decoded.(type) {
	case string:
		return ParseSeverity(dv)
	case map[string]any:
		return severityFromTag(dv)
	default:
		return SeverityDefault
	}
}

func severityFromTag(m map[string]any) Severity {
	if len(m) != 1 {
		return SeverityDefault
	}
	for k := range m {
		return ParseSeverity(k)
	}
	return SeverityDefault
}
