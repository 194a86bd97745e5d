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
	gcppropagator "github.com/GoogleCloudPlatform/opentelemetry-operations-go/propagator"
	"go.opentelemetry.io/otel/propagation"
)

// Propagator returns the text map propagator used by the slogsdhttp and
// slogsdgrpc middleware. It accepts Google's X-Cloud-Trace-Context header
// on ingress, then W3C traceparent/tracestate and baggage. Only the W3C
// headers are injected on egress.
//
// The global OpenTelemetry propagator is left untouched. Install it
// explicitly if outbound clients should use the same formats:
//
//	otel.SetTextMapPropagator(slogsd.Propagator())
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		gcppropagator.CloudTraceOneWayPropagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}
