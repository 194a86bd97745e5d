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

// Package slogsd is a [log/slog] handler that writes Google Cloud Logging
// structured JSON, one entry per line, and folds the span context each
// record was logged in into the entry.
//
// Every entry carries, in order: `time`, `target`, an optional
// `logging.googleapis.com/sourceLocation`, the current span as `span` (and
// with [WithSpanList] the whole chain as `spans`), trace correlation keys
// when [WithCloudTrace] is set, `severity`, and the record's fields. Field
// names are converted to lowerCamelCase. Fields under `http_request.` are
// collected into the `httpRequest` object and fields under `labels.` into
// `logging.googleapis.com/labels` with their values stringified. A field
// named `severity` overrides the severity derived from the level, and
// `insert_id` becomes `logging.googleapis.com/insertId`.
//
// Spans come from the [github.com/pjscruggs/slogsd/span] package:
//
//	reg := span.NewRegistry(span.WithTracerProvider(tp))
//	h, err := slogsd.NewHandler(os.Stdout,
//		slogsd.WithSpans(reg),
//		slogsd.WithCloudTrace("my-project"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := slog.New(h)
//
//	ctx, s := reg.Start(ctx, "checkout", slog.String("cart_id", id))
//	defer s.End()
//	logger.InfoContext(ctx, "charging card", slog.Int("http_request.status", 200))
//
// A record that cannot be formatted is not written at all. The handler
// returns an error matching [ErrFormat] and logs the cause to the logger
// given with [WithInternalLogger].
//
// # Configuration
//
// Defaults come from the environment, read once per process:
//
//	SLOGSD_LEVEL              trace, debug, info, warn, error or a number
//	SLOGSD_SOURCE_LOCATION    emit sourceLocation
//	SLOGSD_SPAN_LIST          emit the spans array
//	SLOGSD_CLOUD_TRACE        emit trace correlation keys
//	SLOGSD_TRACE_PROJECT_ID   project owning the traces (also SLOGSD_PROJECT_ID)
//	SLOGSD_TARGET             output: stdout, stderr or file:<path>
//	SLOGSD_STRUCTURED_VALUES  keep composite values as nested JSON
//	SLOGSD_GOOGLE_FIELDS      route google.* fields
//
// A YAML file given with [WithConfigFile] overrides the environment and
// options override both. [WatchConfigFile] applies level changes from that
// file while the process runs.
//
// # Subpackages
//
//   - [github.com/pjscruggs/slogsd/slogsdhttp] is net/http middleware that
//     runs each request in a span and logs its completion.
//   - [github.com/pjscruggs/slogsd/slogsdgrpc] does the same for gRPC
//     servers.
package slogsd
