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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pjscruggs/slogsd"
	"github.com/pjscruggs/slogsd/span"
)

const remoteTraceID = "105445aa7843bc8bf206b12000100000"

// newLogger builds a slogsd logger resolving spans through reg.
func newLogger(t *testing.T, reg *span.Registry) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h, err := slogsd.NewHandler(&buf,
		slogsd.WithTarget("test"),
		slogsd.WithSpans(reg),
		slogsd.WithCloudTrace("proj"),
	)
	if err != nil {
		t.Fatalf("NewHandler returned %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return slog.New(h), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// TestUnaryServerInterceptorSpan ensures handler entries carry the RPC span
// and the trace extracted from incoming metadata.
func TestUnaryServerInterceptorSpan(t *testing.T) {
	reg := span.NewRegistry()
	logger, buf := newLogger(t, reg)
	interceptor := UnaryServerInterceptor(WithLogger(logger), WithRegistry(reg), WithOTel(false))

	md := metadata.New(map[string]string{
		"X-Cloud-Trace-Context": remoteTraceID + "/10;o=1",
	})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx = peer.NewContext(ctx, &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("198.51.100.10"), Port: 443},
	})

	handler := func(ctx context.Context, req any) (any, error) {
		logger.InfoContext(ctx, "inside")
		return nil, status.Error(codes.NotFound, "missing")
	}
	_, err := interceptor(ctx, &struct{}{}, &grpc.UnaryServerInfo{FullMethod: "/example.Service/Lookup"}, handler)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error = %v, want NotFound", err)
	}

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	wantSpan := map[string]any{
		"service": "example.Service",
		"method":  "Lookup",
		"kind":    "unary",
		"peer":    "198.51.100.10",
		"name":    "/example.Service/Lookup",
	}
	if diff := cmp.Diff(wantSpan, entries[0]["span"]); diff != "" {
		t.Errorf("span mismatch (-want +got):\n%s", diff)
	}
	if got, want := entries[0][slogsd.TraceKey], "projects/proj/traces/"+remoteTraceID; got != want {
		t.Errorf("trace = %v, want %q", got, want)
	}
	if entries[0][slogsd.SampledKey] != true {
		t.Errorf("trace_sampled = %v, want true", entries[0][slogsd.SampledKey])
	}

	done := entries[1]
	if done["message"] != "rpc finished" || done["severity"] != "WARNING" {
		t.Errorf("completion entry = %v", done)
	}
	if done["code"] != "NotFound" || done["error"] != "missing" {
		t.Errorf("code/error = %v/%v", done["code"], done["error"])
	}
	if s, _ := done["span"].(map[string]any); s["code"] != "NotFound" {
		t.Errorf("span code = %v", s["code"])
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %d spans", reg.Len())
	}
}

// TestUnaryClientInterceptorInjectsTrace verifies outgoing metadata carries
// the caller's trace when otelgrpc is disabled.
func TestUnaryClientInterceptorInjectsTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := span.NewRegistry()
	logger, buf := newLogger(t, reg)
	interceptor := UnaryClientInterceptor(WithLogger(logger), WithRegistry(reg), WithOTel(false))

	ctx, root := tp.Tracer("test").Start(context.Background(), "root")
	defer root.End()
	traceID := root.SpanContext().TraceID().String()

	var traceparent string
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		if values := md.Get("traceparent"); len(values) > 0 {
			traceparent = values[0]
		}
		return nil
	}
	if err := interceptor(ctx, "/example.Service/Lookup", &struct{}{}, &struct{}{}, nil, invoker); err != nil {
		t.Fatalf("interceptor returned %v", err)
	}

	if !strings.Contains(traceparent, traceID) {
		t.Errorf("traceparent = %q, want trace %s", traceparent, traceID)
	}
	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "outbound rpc finished" || entries[0]["code"] != "OK" {
		t.Errorf("entry = %v", entries[0])
	}
	if got, want := entries[0][slogsd.TraceKey], "projects/proj/traces/"+traceID; got != want {
		t.Errorf("trace = %v, want %q", got, want)
	}
}

type fakeClientStream struct {
	grpc.ClientStream
	recv []error
}

// RecvMsg pops the next scripted result.
func (f *fakeClientStream) RecvMsg(any) error {
	err := f.recv[0]
	f.recv = f.recv[1:]
	return err
}

// TestStreamClientInterceptorEndsSpan checks the stream span ends once the
// server closes the stream.
func TestStreamClientInterceptorEndsSpan(t *testing.T) {
	reg := span.NewRegistry()
	logger, buf := newLogger(t, reg)
	interceptor := StreamClientInterceptor(WithLogger(logger), WithRegistry(reg), WithOTel(false))

	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return &fakeClientStream{recv: []error{nil, nil, io.EOF}}, nil
	}
	desc := &grpc.StreamDesc{ServerStreams: true}
	cs, err := interceptor(context.Background(), desc, nil, "/example.Service/Watch", streamer)
	if err != nil {
		t.Fatalf("interceptor returned %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry holds %d spans while streaming, want 1", reg.Len())
	}
	for {
		if err := cs.RecvMsg(&struct{}{}); err != nil {
			break
		}
	}

	if reg.Len() != 0 {
		t.Errorf("registry still holds %d spans", reg.Len())
	}
	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	s, _ := entries[0]["span"].(map[string]any)
	if s["kind"] != "server_stream" || s["code"] != "OK" {
		t.Errorf("span = %v", s)
	}
}

type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	logger *slog.Logger
}

// Check logs inside the RPC and reports SERVING.
func (s *healthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	s.logger.InfoContext(ctx, "checking health")
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// TestServerAndDialOptionsCorrelateTrace runs a real RPC over bufconn and
// checks client and server entries share one Cloud Trace id.
func TestServerAndDialOptionsCorrelateTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	serverReg := span.NewRegistry()
	serverLogger, serverBuf := newLogger(t, serverReg)
	clientReg := span.NewRegistry()
	clientLogger, clientBuf := newLogger(t, clientReg)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOptions(
		WithLogger(serverLogger),
		WithRegistry(serverReg),
		WithTracerProvider(tp),
	)...)
	grpc_health_v1.RegisterHealthServer(srv, &healthServer{logger: serverLogger})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialOpts := append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, DialOptions(WithLogger(clientLogger), WithRegistry(clientReg), WithTracerProvider(tp))...)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialOpts...)
	if err != nil {
		t.Fatalf("NewClient returned %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, root := tp.Tracer("test").Start(context.Background(), "root")
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	root.End()
	if err != nil {
		t.Fatalf("Check returned %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}

	wantTrace := "projects/proj/traces/" + root.SpanContext().TraceID().String()

	serverEntries := decodeLines(t, serverBuf)
	if len(serverEntries) != 2 {
		t.Fatalf("got %d server entries, want 2", len(serverEntries))
	}
	for _, entry := range serverEntries {
		if entry[slogsd.TraceKey] != wantTrace {
			t.Errorf("server entry %q trace = %v, want %s", entry["message"], entry[slogsd.TraceKey], wantTrace)
		}
	}
	if s, _ := serverEntries[0]["span"].(map[string]any); s["name"] != "/grpc.health.v1.Health/Check" {
		t.Errorf("server span = %v", s)
	}
	if got := serverEntries[1]["responseBytes"]; got != float64(2) {
		t.Errorf("responseBytes = %v, want 2", got)
	}

	clientEntries := decodeLines(t, clientBuf)
	if len(clientEntries) != 1 {
		t.Fatalf("got %d client entries, want 1", len(clientEntries))
	}
	if clientEntries[0][slogsd.TraceKey] != wantTrace {
		t.Errorf("client trace = %v, want %s", clientEntries[0][slogsd.TraceKey], wantTrace)
	}
}

// TestStreamKindVariants ensures stream kinds are categorised correctly.
func TestStreamKindVariants(t *testing.T) {
	tests := []struct {
		client, server bool
		want           string
	}{
		{false, false, "unary"},
		{true, false, "client_stream"},
		{false, true, "server_stream"},
		{true, true, "bidi_stream"},
	}
	for _, tt := range tests {
		if got := streamKind(tt.client, tt.server); got != tt.want {
			t.Errorf("streamKind(%v, %v) = %q, want %q", tt.client, tt.server, got, tt.want)
		}
	}
}

// TestSplitFullMethod covers well-formed and bare method names.
func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/pkg.Service/Call")
	if service != "pkg.Service" || method != "Call" {
		t.Errorf("got %q %q", service, method)
	}
	service, method = splitFullMethod("Call")
	if service != "" || method != "Call" {
		t.Errorf("got %q %q", service, method)
	}
}

// TestLevelForCode maps status codes to severities.
func TestLevelForCode(t *testing.T) {
	tests := map[codes.Code]slog.Level{
		codes.OK:               slog.LevelInfo,
		codes.NotFound:         slog.LevelWarn,
		codes.Unauthenticated:  slog.LevelWarn,
		codes.Internal:         slog.LevelError,
		codes.Unavailable:      slog.LevelError,
		codes.DeadlineExceeded: slog.LevelError,
	}
	for code, want := range tests {
		if got := levelForCode(code); got != want {
			t.Errorf("levelForCode(%v) = %v, want %v", code, got, want)
		}
	}
}
