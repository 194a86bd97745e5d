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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pjscruggs/slogsd"
)

// Transport returns an http.RoundTripper that runs each outbound request
// inside a child span of the caller's current span and injects trace
// context into the request headers.
func Transport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	cfg := applyOptions(opts)
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.enableOTel {
		base = otelhttp.NewTransport(base,
			otelhttp.WithTracerProvider(cfg.tracerProvider),
			otelhttp.WithPropagators(cfg.propagators),
		)
	}
	return roundTripper{base: base, cfg: cfg}
}

type roundTripper struct {
	base http.RoundTripper
	cfg  *config
}

// RoundTrip opens a client span, forwards req and logs the outcome.
func (t roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cfg := t.cfg
	start := time.Now()
	ctx, s := cfg.registry.Start(req.Context(), "HTTP "+req.Method,
		slog.String("method", req.Method),
		slog.String("host", req.URL.Host),
	)
	defer s.End()

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		s.Record(slog.String("error", err.Error()))
		if cfg.logRequests {
			cfg.logger.LogAttrs(ctx, slog.LevelError, "outbound request failed", slog.Any("error", err))
		}
		return nil, fmt.Errorf("round trip %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	s.Record(slog.Int("status", resp.StatusCode))
	if cfg.logRequests {
		summary := slogsd.HTTPRequestFromRequest(req)
		summary.RemoteIP = ""
		summary.Status = resp.StatusCode
		if resp.ContentLength > 0 {
			summary.ResponseSize = resp.ContentLength
		}
		summary.Latency = time.Since(start)
		cfg.logger.LogAttrs(ctx, levelForStatus(resp.StatusCode), "outbound request finished",
			slog.Any("http_request", summary))
	}
	return resp, nil
}
