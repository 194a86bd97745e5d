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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// isolateEnv clears every variable the handler reads and forces the
// environment cache to reload.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		envLogLevel, envLogSource, envSpanList, envCloudTrace, envTraceProjectID,
		envProjectID, envTarget, envStructuredValues, envGoogleFieldRoutes,
		"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT",
	} {
		t.Setenv(name, "")
	}
	resetHandlerConfigCache()
	t.Cleanup(resetHandlerConfigCache)
}

// TestEnvironmentConfig reads defaults from SLOGSD_* variables.
func TestEnvironmentConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envSpanList, "true")
	t.Setenv(envCloudTrace, "1")
	t.Setenv(envTraceProjectID, "projects/env-proj")
	resetHandlerConfigCache()

	var buf bytes.Buffer
	h, err := NewHandler(&buf)
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	if h.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", h.Level())
	}
	if !h.cfg.SpanList || !h.cfg.CloudTrace || h.cfg.TraceProjectID != "env-proj" {
		t.Fatalf("environment not applied: %+v", h.cfg)
	}

	h2, err := NewHandler(&buf, WithLevel(slog.LevelError), WithSpanList(false))
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	if h2.Level() != slog.LevelError || h2.cfg.SpanList {
		t.Fatalf("options must override the environment: %+v", h2.cfg)
	}
}

// TestEnvironmentInvalidValues keeps defaults for unparsable values and
// rejects unknown output targets.
func TestEnvironmentInvalidValues(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envLogLevel, "loud")
	t.Setenv(envLogSource, "maybe")
	resetHandlerConfigCache()

	var diag bytes.Buffer
	h, err := NewHandler(io.Discard, WithInternalLogger(slog.New(slog.NewTextHandler(&diag, nil))))
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	if h.Level() != slog.LevelInfo || h.cfg.AddSource {
		t.Fatalf("invalid values should keep defaults: %+v", h.cfg)
	}
	if !strings.Contains(diag.String(), "invalid log level") {
		t.Fatalf("invalid level not diagnosed: %q", diag.String())
	}

	t.Setenv(envTarget, "syslog")
	resetHandlerConfigCache()
	if _, err := NewHandler(io.Discard); !errors.Is(err, ErrInvalidRedirectTarget) {
		t.Fatalf("NewHandler error = %v, want ErrInvalidRedirectTarget", err)
	}
	t.Setenv(envTarget, "file:  ")
	resetHandlerConfigCache()
	if _, err := NewHandler(io.Discard); !errors.Is(err, ErrInvalidRedirectTarget) {
		t.Fatalf("NewHandler error = %v, want ErrInvalidRedirectTarget", err)
	}
}

// TestEnvironmentFileTarget writes to the file named by SLOGSD_TARGET.
func TestEnvironmentFileTarget(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "app.json")
	t.Setenv(envTarget, "file:"+path)
	resetHandlerConfigCache()

	h, err := NewHandler(io.Discard, WithTarget("test"))
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	slog.New(h).Info("to file")
	if err := h.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"to file"`)) {
		t.Fatalf("log file content %q", data)
	}
}

// TestParseLevel covers names and numbers.
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"-2":      slog.Level(-2),
	}
	for in, want := range tests {
		got, ok := parseLevel(in)
		if !ok || got != want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := parseLevel("verbose"); ok {
		t.Errorf("parseLevel accepted an unknown name")
	}
}

// TestRedirectToFileAndReopen rotates the output file.
func TestRedirectToFileAndReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	h, err := NewHandler(nil, WithRedirectToFile(path), WithTarget("test"))
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	logger := slog.New(h)

	logger.Info("before rotation")
	rotated := filepath.Join(dir, "app.json.1")
	if err := os.Rename(path, rotated); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := h.ReopenLogFile(); err != nil {
		t.Fatalf("ReopenLogFile returned %v", err)
	}
	logger.Info("after rotation")

	if err := h.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close returned %v", err)
	}

	for file, msg := range map[string]string{rotated: "before rotation", path: "after rotation"} {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if bytes.Count(data, []byte{'\n'}) != 1 || !bytes.Contains(data, []byte(msg)) {
			t.Fatalf("%s content %q, want one entry %q", file, data, msg)
		}
	}

	err = h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "closed", 0))
	if !errors.Is(err, ErrFormat) || !errors.Is(err, os.ErrClosed) {
		t.Fatalf("write after Close = %v, want ErrFormat wrapping os.ErrClosed", err)
	}
}

// TestReopenWithoutFileIsNoop covers handlers writing to a caller's writer.
func TestReopenWithoutFileIsNoop(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(io.Discard)
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	if err := h.ReopenLogFile(); err != nil {
		t.Fatalf("ReopenLogFile returned %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
}

// TestWithAttrsAndGroupOptions binds attributes at construction.
func TestWithAttrsAndGroupOptions(t *testing.T) {
	t.Parallel()

	logger, _, buf := newTestLogger(t,
		WithAttrs([]slog.Attr{slog.String("service_name", "api")}),
		WithGroup("http_request"),
	)
	logger.Info("x", "status", 204)
	entry := decodeOne(t, buf)
	if entry["serviceName"] != "api" {
		t.Fatalf("bound attribute missing: %v", entry)
	}
	if got := entry[HTTPRequestKey].(map[string]any)["status"]; got != float64(204) {
		t.Fatalf("grouped attribute not routed: %v", entry)
	}
}

// TestMetrics counts entries and failures and shares collectors between
// handlers on one registry.
func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	logger, h, _ := newTestLogger(t, WithMetrics(reg))
	logger.Info("a")
	logger.Warn("b")
	logger.Info("c", "time", "dropped")

	failing, err := NewHandler(failingWriter{err: errors.New("nope")}, WithMetrics(reg))
	if err != nil {
		t.Fatalf("second handler on the same registry: %v", err)
	}
	slog.New(failing).Error("lost")

	m := h.cfg.Metrics
	if got := testutil.ToFloat64(m.entries.WithLabelValues("INFO")); got != 2 {
		t.Fatalf("INFO entries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.entries.WithLabelValues("WARNING")); got != 1 {
		t.Fatalf("WARNING entries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("write")); got != 1 {
		t.Fatalf("write failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Fatalf("dropped fields = %v, want 1", got)
	}
}

// TestDetectProjectID prefers the environment over the metadata server.
func TestDetectProjectID(t *testing.T) {
	isolateEnv(t)
	orig := metadataProjectID
	t.Cleanup(func() { metadataProjectID = orig })
	metadataProjectID = func(context.Context) (string, error) { return "meta-proj", nil }

	ctx := context.Background()
	if got := DetectProjectID(ctx); got != "meta-proj" {
		t.Fatalf("metadata fallback = %q", got)
	}
	t.Setenv("GOOGLE_CLOUD_PROJECT", " gcp-proj ")
	if got := DetectProjectID(ctx); got != "gcp-proj" {
		t.Fatalf("GOOGLE_CLOUD_PROJECT = %q", got)
	}
	t.Setenv(envTraceProjectID, "projects/trace-proj")
	if got := DetectProjectID(ctx); got != "trace-proj" {
		t.Fatalf("SLOGSD_TRACE_PROJECT_ID = %q", got)
	}

	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv(envTraceProjectID, "")
	metadataProjectID = func(context.Context) (string, error) { return "", errors.New("offline") }
	if got := DetectProjectID(ctx); got != "" {
		t.Fatalf("DetectProjectID = %q, want empty", got)
	}
}

// TestCloudTraceDetectsProject resolves an empty project through detection.
func TestCloudTraceDetectsProject(t *testing.T) {
	isolateEnv(t)
	orig := metadataProjectID
	t.Cleanup(func() { metadataProjectID = orig })
	metadataProjectID = func(context.Context) (string, error) { return "", nil }
	t.Setenv("GCP_PROJECT", "detected")

	h, err := NewHandler(io.Discard, WithCloudTrace(""))
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	if h.cfg.TraceProjectID != "detected" {
		t.Fatalf("TraceProjectID = %q, want detected", h.cfg.TraceProjectID)
	}
}
