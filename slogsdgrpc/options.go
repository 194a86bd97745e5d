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

package slogsdgrpc

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogsd"
	"github.com/pjscruggs/slogsd/span"
)

// Option configures gRPC interceptors and helper functions.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	registry       *span.Registry
	enableOTel     bool
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator
	filters        []otelgrpc.Filter
	includePeer    bool
	includeSizes   bool
	logRPCs        bool
}

// defaultConfig returns the baseline configuration for the gRPC helpers.
func defaultConfig() *config {
	return &config{
		logger:       slog.Default(),
		enableOTel:   true,
		propagators:  slogsd.Propagator(),
		includePeer:  true,
		includeSizes: true,
		logRPCs:      true,
	}
}

// applyOptions applies the provided options on top of defaultConfig.
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

// WithLogger sets the logger used for completion entries. When nil,
// slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			logger = slog.Default()
		}
		cfg.logger = logger
	}
}

// WithRegistry sets the span registry RPC spans are started in. Pass the
// same registry to slogsd.WithSpans so parent references resolve.
func WithRegistry(reg *span.Registry) Option {
	return func(cfg *config) {
		cfg.registry = reg
	}
}

// WithOTel toggles installation of otelgrpc stats handlers.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithTracerProvider sets the tracer provider handed to otelgrpc.
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

// WithFilter excludes RPCs from otelgrpc instrumentation.
func WithFilter(filter otelgrpc.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithPeerInfo toggles the peer span field.
func WithPeerInfo(enabled bool) Option {
	return func(cfg *config) {
		cfg.includePeer = enabled
	}
}

// WithPayloadSizes toggles the request and response byte counts logged on
// completion.
func WithPayloadSizes(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeSizes = enabled
	}
}

// WithRPCLog toggles the completion entry logged for each RPC.
func WithRPCLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.logRPCs = enabled
	}
}
