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

package slogsdhttp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pjscruggs/slogsd"
)

const instrumentationName = "github.com/pjscruggs/slogsd/slogsdhttp"

// Middleware returns an http.Handler middleware that runs each request
// inside a span of the configured registry. Log calls made with the
// request context inherit the span's fields, and trace context extracted
// by otelhttp flows into the Cloud Trace keys of every entry.
//
// Once the handler returns, the span records the response status and a
// completion entry carrying an httpRequest payload is logged.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return wrapWithOTel(cfg, serveInSpan(cfg, next))
	}
}

// serveInSpan constructs the span-scoped handler around next.
func serveInSpan(cfg *config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, s := cfg.registry.Start(r.Context(), cfg.spanName(r), requestSpanAttrs(cfg, r)...)
		defer s.End()

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.Record(slog.Int("status", rec.Status()))
		if !cfg.logRequests {
			return
		}
		req := slogsd.HTTPRequestFromRequest(r)
		req.Status = rec.Status()
		req.ResponseSize = rec.BytesWritten()
		req.Latency = time.Since(start)
		cfg.logger.LogAttrs(ctx, levelForStatus(req.Status), "request finished",
			slog.Any("http_request", req))
	})
}

// requestSpanAttrs returns the initial fields of a request span.
func requestSpanAttrs(cfg *config, r *http.Request) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if cfg.includeQuery && r.URL.RawQuery != "" {
		attrs = append(attrs, slog.String("query", r.URL.RawQuery))
	}
	if cfg.includeClientIP {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			attrs = append(attrs, slog.String("remote_ip", host))
		}
	}
	return attrs
}

// levelForStatus maps server errors to ERROR and client errors to WARN.
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// wrapWithOTel wraps handler with otelhttp middleware when enabled.
func wrapWithOTel(cfg *config, handler http.Handler) http.Handler {
	if !cfg.enableOTel {
		return handler
	}
	return otelhttp.NewHandler(handler, instrumentationName, otelOptions(cfg)...)
}

// otelOptions builds OpenTelemetry handler options from configuration.
func otelOptions(cfg *config) []otelhttp.Option {
	otelOpts := []otelhttp.Option{
		otelhttp.WithTracerProvider(cfg.tracerProvider),
		otelhttp.WithPropagators(cfg.propagators),
	}
	if cfg.spanNameFormatter != nil {
		format := cfg.spanNameFormatter
		otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return format(r)
		}))
	}
	for _, filter := range cfg.filters {
		otelOpts = append(otelOpts, otelhttp.WithFilter(filter))
	}
	return otelOpts
}

type responseRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	wroteHeader  bool
}

// WriteHeader records the first status code written.
func (rr *responseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

// Write counts response bytes, implying a 200 when no header was written.
func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.bytesWritten += int64(n)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

// ReadFrom keeps the underlying writer's sendfile path while counting bytes.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	var (
		n   int64
		err error
	)
	if rf, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(src)
	} else {
		n, err = io.Copy(rr.ResponseWriter, src)
	}
	rr.bytesWritten += n
	if err != nil {
		return n, fmt.Errorf("read response body: %w", err)
	}
	return n, nil
}

// Status returns the recorded status, defaulting to 200.
func (rr *responseRecorder) Status() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// BytesWritten reports the number of body bytes written.
func (rr *responseRecorder) BytesWritten() int64 {
	return rr.bytesWritten
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Flush forwards to the underlying writer when it supports flushing.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the underlying writer when it supports hijacking.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack connection: %w", err)
	}
	return conn, rw, nil
}
