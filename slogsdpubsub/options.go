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

package slogsdpubsub

import (
	"go.opentelemetry.io/otel/propagation"

	"github.com/pjscruggs/slogsd"
	"github.com/pjscruggs/slogsd/span"
)

// Option configures Pub/Sub helpers.
type Option func(*config)

type config struct {
	registry       *span.Registry
	propagators    propagation.TextMapPropagator
	propagateTrace bool
	subscriptionID string
	topicID        string
	spanName       string
	logMessageID   bool
	logOrderingKey bool
}

// defaultConfig returns the baseline configuration.
func defaultConfig() *config {
	return &config{
		propagators:    slogsd.Propagator(),
		propagateTrace: true,
		spanName:       "pubsub.process",
		logMessageID:   true,
		logOrderingKey: true,
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
	return cfg
}

// WithRegistry sets the registry message spans are started in.
func WithRegistry(reg *span.Registry) Option {
	return func(cfg *config) {
		cfg.registry = reg
	}
}

// WithPropagators replaces the propagator used for message attributes.
// Defaults to slogsd.Propagator().
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		if p != nil {
			cfg.propagators = p
		}
	}
}

// WithTracePropagation toggles injection and extraction of trace context.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithSubscriptionID records the subscription on message spans.
func WithSubscriptionID(subscriptionID string) Option {
	return func(cfg *config) {
		cfg.subscriptionID = subscriptionID
	}
}

// WithTopicID records the topic on message spans.
func WithTopicID(topicID string) Option {
	return func(cfg *config) {
		cfg.topicID = topicID
	}
}

// WithSpanName overrides the message span name, "pubsub.process" by
// default.
func WithSpanName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.spanName = name
		}
	}
}

// WithMessageIDField toggles the message id span field.
func WithMessageIDField(enabled bool) Option {
	return func(cfg *config) {
		cfg.logMessageID = enabled
	}
}

// WithOrderingKeyField toggles the ordering key span field.
func WithOrderingKeyField(enabled bool) Option {
	return func(cfg *config) {
		cfg.logOrderingKey = enabled
	}
}
