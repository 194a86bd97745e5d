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
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogsd"
	"github.com/pjscruggs/slogsd/span"
)

// Option configures the HTTP middleware and transport.
type Option func(*config)

type config struct {
	logger            *slog.Logger
	registry          *span.Registry
	enableOTel        bool
	tracerProvider    trace.TracerProvider
	propagators       propagation.TextMapPropagator
	spanNameFormatter func(*http.Request) string
	filters           []otelhttp.Filter
	logRequests       bool
	includeQuery      bool
	includeClientIP   bool
}

// defaultConfig returns the baseline configuration.
func defaultConfig() *config {
	return &config{
		logger:          slog.Default(),
		enableOTel:      true,
		propagators:     slogsd.Propagator(),
		logRequests:     true,
		includeClientIP: true,
	}
}

// applyOptions applies opts on top of defaultConfig and fills in the
// registry and tracer provider when the caller left them unset.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.registry == nil {
		cfg.registry = span.NewRegistry()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	return cfg
}

// WithLogger sets the logger that records request completion. When nil,
// slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			logger = slog.Default()
		}
		cfg.logger = logger
	}
}

// WithRegistry sets the span registry request spans are started in. Pass
// the same registry to slogsd.WithSpans so the handler can resolve
// slogsd.Parent references.
func WithRegistry(reg *span.Registry) Option {
	return func(cfg *config) {
		cfg.registry = reg
	}
}

// WithOTel toggles the otelhttp wrapper. Enabled by default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithTracerProvider sets the tracer provider handed to otelhttp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithPropagators replaces the propagator used to extract and inject trace
// context. Defaults to slogsd.Propagator().
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		if p != nil {
			cfg.propagators = p
		}
	}
}

// WithSpanNameFormatter overrides the span name, which defaults to
// "METHOD /path".
func WithSpanNameFormatter(fn func(*http.Request) string) Option {
	return func(cfg *config) {
		cfg.spanNameFormatter = fn
	}
}

// WithFilter skips instrumentation for requests the filter rejects.
func WithFilter(filter otelhttp.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithRequestLog toggles the completion entry logged for each request.
func WithRequestLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.logRequests = enabled
	}
}

// WithIncludeQuery records the raw query string on request spans.
func WithIncludeQuery(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeQuery = enabled
	}
}

// WithClientIP toggles the remote_ip span field.
func WithClientIP(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeClientIP = enabled
	}
}

// spanName returns the configured or default span name for r.
func (cfg *config) spanName(r *http.Request) string {
	if cfg.spanNameFormatter != nil {
		if name := cfg.spanNameFormatter(r); name != "" {
			return name
		}
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}
