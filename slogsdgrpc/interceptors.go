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
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/pjscruggs/slogsd/span"
)

// UnaryServerInterceptor runs unary RPCs inside a registry span.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	return unaryServer(applyOptions(opts))
}

func unaryServer(cfg *config) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractIncoming(ctx, cfg)
		ctx, s, call := startCall(ctx, cfg, info.FullMethod, "unary", false)
		defer s.End()

		call.recordRequest(req)
		resp, err := handler(ctx, req)
		if err == nil {
			call.recordResponse(resp)
		}
		call.finish(ctx, s, err)
		return resp, err
	}
}

// StreamServerInterceptor runs streaming RPCs inside a registry span.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	return streamServer(applyOptions(opts))
}

func streamServer(cfg *config) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractIncoming(ss.Context(), cfg)
		ctx, s, call := startCall(ctx, cfg, info.FullMethod, streamKind(info.IsClientStream, info.IsServerStream), false)
		defer s.End()

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx, call: call})
		call.finish(ctx, s, err)
		return err
	}
}

// UnaryClientInterceptor runs outbound unary RPCs inside a child span of
// the caller's current span.
func UnaryClientInterceptor(opts ...Option) grpc.UnaryClientInterceptor {
	return unaryClient(applyOptions(opts))
}

func unaryClient(cfg *config) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, s, call := startCall(ctx, cfg, method, "unary", true)
		defer s.End()

		call.recordRequest(req)
		err := invoker(injectOutgoing(ctx, cfg), method, req, reply, cc, opts...)
		if err == nil {
			call.recordResponse(reply)
		}
		call.finish(ctx, s, err)
		return err
	}
}

// StreamClientInterceptor runs outbound streaming RPCs inside a child span
// that ends when the stream completes.
func StreamClientInterceptor(opts ...Option) grpc.StreamClientInterceptor {
	return streamClient(applyOptions(opts))
}

func streamClient(cfg *config) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, s, call := startCall(ctx, cfg, method, streamKind(desc.ClientStreams, desc.ServerStreams), true)
		cs, err := streamer(injectOutgoing(ctx, cfg), desc, cc, method, opts...)
		if err != nil {
			call.finish(ctx, s, err)
			s.End()
			return nil, err
		}
		return &clientStream{ClientStream: cs, ctx: ctx, span: s, call: call, serverStreams: desc.ServerStreams}, nil
	}
}

// ServerOptions returns grpc.ServerOptions that install the otelgrpc stats
// handler and the server interceptors.
func ServerOptions(opts ...Option) []grpc.ServerOption {
	cfg := applyOptions(opts)
	var serverOpts []grpc.ServerOption
	if cfg.enableOTel {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(statsHandlerOptions(cfg)...)))
	}
	return append(serverOpts,
		grpc.ChainUnaryInterceptor(unaryServer(cfg)),
		grpc.ChainStreamInterceptor(streamServer(cfg)),
	)
}

// DialOptions returns grpc.DialOptions that install the otelgrpc stats
// handler and the client interceptors.
func DialOptions(opts ...Option) []grpc.DialOption {
	cfg := applyOptions(opts)
	var dialOpts []grpc.DialOption
	if cfg.enableOTel {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler(statsHandlerOptions(cfg)...)))
	}
	return append(dialOpts,
		grpc.WithChainUnaryInterceptor(unaryClient(cfg)),
		grpc.WithChainStreamInterceptor(streamClient(cfg)),
	)
}

// statsHandlerOptions configures otelgrpc instrumentation.
func statsHandlerOptions(cfg *config) []otelgrpc.Option {
	opts := []otelgrpc.Option{
		otelgrpc.WithTracerProvider(cfg.tracerProvider),
		otelgrpc.WithPropagators(cfg.propagators),
	}
	for _, filter := range cfg.filters {
		opts = append(opts, otelgrpc.WithFilter(filter))
	}
	return opts
}

// rpcCall tracks one RPC from start to completion.
type rpcCall struct {
	cfg       *config
	client    bool
	start     time.Time
	reqBytes  atomic.Int64
	respBytes atomic.Int64
	once      sync.Once
}

// startCall opens the RPC span and returns the context it is current in.
func startCall(ctx context.Context, cfg *config, fullMethod, kind string, client bool) (context.Context, *span.Span, *rpcCall) {
	service, method := splitFullMethod(fullMethod)
	attrs := []slog.Attr{
		slog.String("service", service),
		slog.String("method", method),
		slog.String("kind", kind),
	}
	if !client && cfg.includePeer {
		if addr, ok := peerAddress(ctx); ok {
			attrs = append(attrs, slog.String("peer", addr))
		}
	}
	ctx, s := cfg.registry.Start(ctx, fullMethod, attrs...)
	return ctx, s, &rpcCall{cfg: cfg, client: client, start: time.Now()}
}

func (c *rpcCall) recordRequest(msg any) {
	c.reqBytes.Add(messageSize(msg))
}

func (c *rpcCall) recordResponse(msg any) {
	c.respBytes.Add(messageSize(msg))
}

// finish records the status code on s and logs the completion entry. Only
// the first call has an effect.
func (c *rpcCall) finish(ctx context.Context, s *span.Span, err error) {
	c.once.Do(func() {
		code := status.Code(err)
		s.Record(slog.String("code", code.String()))
		if !c.cfg.logRPCs {
			return
		}
		attrs := []slog.Attr{
			slog.String("code", code.String()),
			slog.Duration("latency", time.Since(c.start)),
		}
		if c.cfg.includeSizes {
			attrs = append(attrs,
				slog.Int64("request_bytes", c.reqBytes.Load()),
				slog.Int64("response_bytes", c.respBytes.Load()),
			)
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", status.Convert(err).Message()))
		}
		msg := "rpc finished"
		if c.client {
			msg = "outbound rpc finished"
		}
		c.cfg.logger.LogAttrs(ctx, levelForCode(code), msg, attrs...)
	})
}

// levelForCode maps caller errors to WARN and everything else that is not
// OK to ERROR.
func levelForCode(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.Canceled, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.OutOfRange, codes.ResourceExhausted, codes.Aborted:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// splitFullMethod splits "/pkg.Service/Method" into its parts.
func splitFullMethod(full string) (service, method string) {
	if !strings.HasPrefix(full, "/") {
		return "", strings.TrimSpace(full)
	}
	service, method, _ = strings.Cut(strings.TrimPrefix(full, "/"), "/")
	return service, method
}

// messageSize returns the encoded size of a gRPC message when possible.
func messageSize(msg any) int64 {
	switch m := msg.(type) {
	case proto.Message:
		return int64(proto.Size(m))
	case interface{ Size() int }:
		return int64(m.Size())
	default:
		return 0
	}
}

// peerAddress extracts the host portion of the peer address in ctx.
func peerAddress(ctx context.Context) (string, bool) {
	pr, ok := peer.FromContext(ctx)
	if !ok || pr == nil || pr.Addr == nil {
		return "", false
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host, true
	}
	return addr, true
}

// streamKind converts stream direction flags into a kind string.
func streamKind(clientStreams, serverStreams bool) string {
	switch {
	case clientStreams && serverStreams:
		return "bidi_stream"
	case clientStreams:
		return "client_stream"
	case serverStreams:
		return "server_stream"
	default:
		return "unary"
	}
}

type serverStream struct {
	grpc.ServerStream
	ctx  context.Context
	call *rpcCall
}

// Context returns the span-scoped context for the wrapped stream.
func (s *serverStream) Context() context.Context {
	return s.ctx
}

// RecvMsg counts inbound payload bytes.
func (s *serverStream) RecvMsg(m any) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.call.recordRequest(m)
	}
	return err
}

// SendMsg counts outbound payload bytes.
func (s *serverStream) SendMsg(m any) error {
	s.call.recordResponse(m)
	return s.ServerStream.SendMsg(m)
}

type clientStream struct {
	grpc.ClientStream
	ctx           context.Context
	span          *span.Span
	call          *rpcCall
	serverStreams bool
}

// SendMsg counts outbound payload bytes and finishes the call on error.
func (c *clientStream) SendMsg(m any) error {
	c.call.recordRequest(m)
	err := c.ClientStream.SendMsg(m)
	if err != nil && !errors.Is(err, io.EOF) {
		c.end(err)
	}
	return err
}

// RecvMsg counts inbound payload bytes and finishes the call when the
// stream ends. Calls with a single response end after receiving it.
func (c *clientStream) RecvMsg(m any) error {
	err := c.ClientStream.RecvMsg(m)
	switch {
	case err == nil:
		c.call.recordResponse(m)
		if !c.serverStreams {
			c.end(nil)
		}
	case errors.Is(err, io.EOF):
		c.end(nil)
	default:
		c.end(err)
	}
	return err
}

func (c *clientStream) end(err error) {
	c.call.finish(c.ctx, c.span, err)
	c.span.End()
}
