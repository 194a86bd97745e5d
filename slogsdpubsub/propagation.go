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
	"context"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel/trace"
)

// Inject copies trace context from ctx into msg.Attributes, creating the
// map when necessary.
func Inject(ctx context.Context, msg *pubsub.Message, opts ...Option) {
	if msg == nil {
		return
	}
	msg.Attributes = injectAttributes(ctx, msg.Attributes, applyOptions(opts))
}

// InjectAttributes copies trace context from ctx into attrs and returns the
// map. attrs is returned unchanged when ctx carries no span context.
func InjectAttributes(ctx context.Context, attrs map[string]string, opts ...Option) map[string]string {
	return injectAttributes(ctx, attrs, applyOptions(opts))
}

func injectAttributes(ctx context.Context, attrs map[string]string, cfg *config) map[string]string {
	if !cfg.propagateTrace || ctx == nil || !trace.SpanContextFromContext(ctx).IsValid() {
		return attrs
	}
	cfg.propagators.Inject(ctx, attributeCarrier{attrs: &attrs})
	return attrs
}

// Extract returns ctx with the span context found in msg.Attributes, plus
// that span context.
func Extract(ctx context.Context, msg *pubsub.Message, opts ...Option) (context.Context, trace.SpanContext) {
	var attrs map[string]string
	if msg != nil {
		attrs = msg.Attributes
	}
	return extractAttributes(ctx, attrs, applyOptions(opts))
}

// ExtractAttributes returns ctx with the span context found in attrs, plus
// that span context.
func ExtractAttributes(ctx context.Context, attrs map[string]string, opts ...Option) (context.Context, trace.SpanContext) {
	return extractAttributes(ctx, attrs, applyOptions(opts))
}

// extractAttributes treats message attributes as the source of truth even
// when ctx already carries a span context.
func extractAttributes(ctx context.Context, attrs map[string]string, cfg *config) (context.Context, trace.SpanContext) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.propagateTrace || len(attrs) == 0 {
		return ctx, trace.SpanContextFromContext(ctx)
	}
	extracted := cfg.propagators.Extract(ctx, attributeCarrier{attrs: &attrs})
	if sc := trace.SpanContextFromContext(extracted); sc.IsValid() {
		return extracted, sc
	}
	return ctx, trace.SpanContextFromContext(ctx)
}

// attributeCarrier adapts message attributes to a TextMapCarrier. Keys are
// written in lower case and matched case-insensitively on read.
type attributeCarrier struct {
	attrs *map[string]string
}

func (c attributeCarrier) Get(key string) string {
	m := *c.attrs
	if v, ok := m[key]; ok {
		return v
	}
	lower := strings.ToLower(key)
	if v, ok := m[lower]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (c attributeCarrier) Set(key, value string) {
	if *c.attrs == nil {
		*c.attrs = make(map[string]string)
	}
	(*c.attrs)[strings.ToLower(key)] = value
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.attrs))
	for k := range *c.attrs {
		keys = append(keys, k)
	}
	return keys
}
