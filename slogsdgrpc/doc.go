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

// Package slogsdgrpc provides gRPC interceptors that run each RPC inside a
// span of a [span.Registry], so entries logged by handlers carry the RPC's
// span fields and Cloud Trace correlation keys.
//
// Server interceptors name the span after the full method and record the
// service, method, stream kind and peer address on it. When the RPC returns,
// the status code is recorded on the span and a completion entry is logged
// with latency and, optionally, payload sizes. Client interceptors do the
// same for outbound calls as children of the caller's current span.
//
// When [WithOTel] is enabled (the default) [ServerOptions] and [DialOptions]
// also install otelgrpc stats handlers, which extract and inject trace
// context using slogsd.Propagator(). With OTel disabled the interceptors
// extract and inject the same headers themselves.
//
//	reg := span.NewRegistry()
//	h, _ := slogsd.NewHandler(os.Stdout, slogsd.WithSpans(reg), slogsd.WithCloudTrace(""))
//	server := grpc.NewServer(
//	    slogsdgrpc.ServerOptions(
//	        slogsdgrpc.WithLogger(slog.New(h)),
//	        slogsdgrpc.WithRegistry(reg),
//	    )...,
//	)
package slogsdgrpc
