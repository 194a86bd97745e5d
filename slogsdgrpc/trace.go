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
	"context"

	"google.golang.org/grpc/metadata"
)

type metadataCarrier struct {
	metadata.MD
}

// Get returns the first value for the provided metadata key.
func (mc metadataCarrier) Get(key string) string {
	values := mc.MD.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set stores the value under the provided metadata key.
func (mc metadataCarrier) Set(key string, value string) {
	mc.MD.Set(key, value)
}

// Keys reports all metadata keys present in the carrier.
func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.MD))
	for k := range mc.MD {
		keys = append(keys, k)
	}
	return keys
}

// extractIncoming attaches the remote span context found in the incoming
// metadata. otelgrpc does this itself when enabled.
func extractIncoming(ctx context.Context, cfg *config) context.Context {
	if cfg.enableOTel {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return cfg.propagators.Extract(ctx, metadataCarrier{md})
}

// injectOutgoing writes the current trace context into the outgoing
// metadata when otelgrpc is not installed to do so.
func injectOutgoing(ctx context.Context, cfg *config) context.Context {
	if cfg.enableOTel {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	cfg.propagators.Inject(ctx, metadataCarrier{md})
	return metadata.NewOutgoingContext(ctx, md)
}
