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
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// WrapReceiveHandler wraps a Subscriber.Receive callback. Each message is
// handled inside a registry span whose parent trace is taken from the
// message attributes.
func WrapReceiveHandler(handler func(context.Context, *pubsub.Message), opts ...Option) func(context.Context, *pubsub.Message) {
	cfg := applyOptions(opts)

	return func(ctx context.Context, msg *pubsub.Message) {
		if handler == nil {
			return
		}
		var attrs map[string]string
		if msg != nil {
			attrs = msg.Attributes
		}
		ctx, _ = extractAttributes(ctx, attrs, cfg)
		ctx, s := cfg.registry.Start(ctx, cfg.spanName, messageFields(cfg, msg)...)
		defer s.End()

		handler(ctx, msg)
	}
}

// messageFields describes msg using the OpenTelemetry messaging attribute
// names.
func messageFields(cfg *config, msg *pubsub.Message) []slog.Attr {
	system := semconv.MessagingSystemGCPPubsub
	fields := []slog.Attr{
		slog.String(string(system.Key), system.Value.AsString()),
	}
	if cfg.subscriptionID != "" {
		fields = append(fields, slog.String(string(semconv.MessagingDestinationNameKey), cfg.subscriptionID))
	}
	if cfg.topicID != "" {
		fields = append(fields, slog.String(string(semconv.MessagingDestinationPublishNameKey), cfg.topicID))
	}
	if msg == nil {
		return fields
	}
	if cfg.logMessageID && msg.ID != "" {
		fields = append(fields, slog.String(string(semconv.MessagingMessageIDKey), msg.ID))
	}
	if len(msg.Data) > 0 {
		kv := semconv.MessagingMessageBodySize(len(msg.Data))
		fields = append(fields, slog.Int64(string(kv.Key), kv.Value.AsInt64()))
	}
	if cfg.logOrderingKey && msg.OrderingKey != "" {
		kv := semconv.MessagingGCPPubsubMessageOrderingKey(msg.OrderingKey)
		fields = append(fields, slog.String(string(kv.Key), msg.OrderingKey))
	}
	if msg.DeliveryAttempt != nil {
		kv := semconv.MessagingGCPPubsubMessageDeliveryAttempt(*msg.DeliveryAttempt)
		fields = append(fields, slog.Int64(string(kv.Key), kv.Value.AsInt64()))
	}
	return fields
}
