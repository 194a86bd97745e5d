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
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPRequest is the Cloud Logging httpRequest payload. Attach it to a
// record with slog.Any under any key and the formatter nests its fields
// under the `httpRequest` entry key. Dotted `http_request.*` fields on the
// same record are merged into the same object and win on conflict.
//
// See https://cloud.google.com/logging/docs/reference/v2/rest/v2/LogEntry#HttpRequest
type HTTPRequest struct {
	RequestMethod string
	RequestURL    string
	RequestSize   int64
	Status        int
	ResponseSize  int64
	UserAgent     string
	RemoteIP      string
	ServerIP      string
	Referer       string
	// Latency is rendered as a protobuf Duration string such as "0.250s".
	Latency  time.Duration
	Protocol string

	CacheLookup                    bool
	CacheHit                       bool
	CacheValidatedWithOriginServer bool
	CacheFillBytes                 int64
}

// HTTPRequestFromRequest captures the request-side fields of r. The body is
// never read. Response fields are left for the caller to fill in.
func HTTPRequestFromRequest(r *http.Request) *HTTPRequest {
	if r == nil {
		return nil
	}
	req := &HTTPRequest{
		RequestMethod: r.Method,
		UserAgent:     r.UserAgent(),
		Referer:       r.Referer(),
		Protocol:      r.Proto,
		RemoteIP:      hostOnly(r.RemoteAddr),
	}
	if r.URL != nil {
		req.RequestURL = r.URL.String()
	}
	if r.ContentLength > 0 {
		req.RequestSize = r.ContentLength
	}
	return req
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// appendFields writes the populated members in schema order. Sizes and
// counters are strings because the LogEntry schema declares them as int64.
func (req *HTTPRequest) appendFields(e *entries) {
	addString := func(k, v string) {
		if v != "" {
			e.set(k, v)
		}
	}
	addInt := func(k string, v int64) {
		if v > 0 {
			e.set(k, strconv.FormatInt(v, 10))
		}
	}
	addBool := func(k string, v bool) {
		if v {
			e.set(k, true)
		}
	}

	addString("requestMethod", req.RequestMethod)
	addString("requestUrl", req.RequestURL)
	addInt("requestSize", req.RequestSize)
	if req.Status > 0 {
		e.set("status", int64(req.Status))
	}
	addInt("responseSize", req.ResponseSize)
	addString("userAgent", req.UserAgent)
	addString("remoteIp", req.RemoteIP)
	addString("serverIp", req.ServerIP)
	addString("referer", req.Referer)
	if req.Latency > 0 {
		e.set("latency", formatLatency(req.Latency))
	}
	addString("protocol", req.Protocol)
	addBool("cacheLookup", req.CacheLookup)
	addBool("cacheHit", req.CacheHit)
	addBool("cacheValidatedWithOriginServer", req.CacheValidatedWithOriginServer)
	addInt("cacheFillBytes", req.CacheFillBytes)
}

// formatLatency renders d in the protobuf Duration JSON form.
func formatLatency(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// LogValue renders the payload as a group so handlers other than this
// package still print something useful.
func (req *HTTPRequest) LogValue() slog.Value {
	if req == nil {
		return slog.Value{}
	}
	var e entries
	req.appendFields(&e)
	attrs := make([]slog.Attr, 0, len(e.keys))
	for i, k := range e.keys {
		attrs = append(attrs, slog.Any(k, e.vals[i]))
	}
	return slog.GroupValue(attrs...)
}

func (*HTTPRequest) formatterValue() {}
