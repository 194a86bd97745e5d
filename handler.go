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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pjscruggs/slogsd/span"
)

const (
	envLogLevel          = "SLOGSD_LEVEL"
	envLogSource         = "SLOGSD_SOURCE_LOCATION"
	envSpanList          = "SLOGSD_SPAN_LIST"
	envCloudTrace        = "SLOGSD_CLOUD_TRACE"
	envTraceProjectID    = "SLOGSD_TRACE_PROJECT_ID"
	envProjectID         = "SLOGSD_PROJECT_ID"
	envTarget            = "SLOGSD_TARGET"
	envStructuredValues  = "SLOGSD_STRUCTURED_VALUES"
	envGoogleFieldRoutes = "SLOGSD_GOOGLE_FIELDS"

	projectDetectTimeout = 2 * time.Second
)

var handlerEnvConfigCache atomic.Pointer[handlerConfig]

// Option mutates Handler construction behaviour when supplied to [NewHandler].
// Options are applied in order, after the environment and any configuration
// file.
type Option func(*options)

// Handler is a [slog.Handler] that writes Cloud Logging structured JSON,
// one entry per line, including the span context of each record.
type Handler struct {
	slog.Handler

	cfg            *handlerConfig
	internalLogger *slog.Logger
	sink           *fileSink
	levelVar       *slog.LevelVar

	mu        sync.Mutex
	closeOnce sync.Once
}

type handlerConfig struct {
	Level              slog.Level
	AddSource          bool
	SpanList           bool
	CloudTrace         bool
	TraceProjectID     string
	Target             string
	StructuredValues   bool
	GoogleFieldRouting bool

	Writer   io.Writer
	FilePath string

	Spans         span.LookupSpan
	Metrics       *formatMetrics
	InitialAttrs  []slog.Attr
	InitialGroups []string
}

type options struct {
	level              *slog.Level
	levelVar           *slog.LevelVar
	addSource          *bool
	spanList           *bool
	cloudTrace         *bool
	traceProjectID     *string
	target             *string
	structuredValues   *bool
	googleFieldRouting *bool

	writer         io.Writer
	writerFilePath *string

	spans          span.LookupSpan
	registerer     prometheus.Registerer
	internalLogger *slog.Logger
	configFile     string
	attrs          [][]slog.Attr
	groups         []string
}

// NewHandler builds a [Handler]. Configuration is layered: environment
// variables first, then the file named by [WithConfigFile], then options.
// Output goes to defaultWriter unless a redirect option, the config file or
// SLOGSD_TARGET says otherwise; a nil defaultWriter means os.Stdout.
//
// Example:
//
//	reg := span.NewRegistry()
//	h, err := slogsd.NewHandler(os.Stdout,
//		slogsd.WithSpans(reg),
//		slogsd.WithCloudTrace(""),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := slog.New(h)
func NewHandler(defaultWriter io.Writer, opts ...Option) (*Handler, error) {
	builder := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}

	internalLogger := builder.internalLogger
	if internalLogger == nil {
		internalLogger = slog.New(slog.DiscardHandler)
	}

	cfg, err := cachedConfigFromEnv(internalLogger)
	if err != nil {
		return nil, err
	}

	if builder.configFile != "" {
		fc, err := LoadConfigFile(builder.configFile)
		if err != nil {
			return nil, err
		}
		if err := fc.apply(&cfg, internalLogger); err != nil {
			return nil, err
		}
	}

	applyOptions(&cfg, builder)
	ensureWriterDefaults(&cfg, defaultWriter)

	var sink *fileSink
	if cfg.FilePath != "" {
		sink, err = openFileSink(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		cfg.Writer = sink
	}

	if builder.registerer != nil {
		m, err := newFormatMetrics(builder.registerer)
		if err != nil {
			if sink != nil {
				_ = sink.Close()
			}
			return nil, err
		}
		cfg.Metrics = m
	}

	if cfg.CloudTrace {
		cfg.TraceProjectID = resolveTraceProject(cfg.TraceProjectID, internalLogger)
	}

	levelVar := builder.levelVar
	if levelVar == nil {
		levelVar = new(slog.LevelVar)
	}
	levelVar.Set(cfg.Level)

	cfgPtr := &cfg
	return &Handler{
		Handler:        newFormatHandler(cfgPtr, levelVar, internalLogger),
		cfg:            cfgPtr,
		internalLogger: internalLogger,
		sink:           sink,
		levelVar:       levelVar,
	}, nil
}

// resolveTraceProject falls back to [DetectProjectID] when no project was
// configured.
func resolveTraceProject(configured string, logger *slog.Logger) string {
	if id, ok := normalizeProjectID(configured); ok {
		return id
	}
	ctx, cancel := context.WithTimeout(context.Background(), projectDetectTimeout)
	defer cancel()
	id := DetectProjectID(ctx)
	if id == "" {
		logDiagnostic(logger, slog.LevelWarn,
			"cloud trace enabled without a project id; entries will carry span ids only",
			slog.String("variable", envTraceProjectID))
	}
	return id
}

func ensureWriterDefaults(cfg *handlerConfig, defaultWriter io.Writer) {
	if cfg.Writer != nil || cfg.FilePath != "" {
		return
	}
	cfg.Writer = defaultWriter
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
}

// Close releases the log file opened by the handler. Writers passed in by
// the caller are never closed. Only the first call does any work.
func (h *Handler) Close() error {
	var firstErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.sink != nil {
			if err := h.sink.Close(); err != nil {
				firstErr = fmt.Errorf("slogsd: close log file: %w", err)
				h.internalLogger.Error("failed to close log file", slog.Any("error", err))
			}
		}
		h.mu.Unlock()
	})
	return firstErr
}

// ReopenLogFile reopens the output file by path, typically after log
// rotation. It does nothing when the handler is not writing to a file.
func (h *Handler) ReopenLogFile() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink == nil {
		return nil
	}
	if err := h.sink.reopen(); err != nil {
		h.internalLogger.Warn("failed to reopen log file", slog.Any("error", err))
		return err
	}
	return nil
}

// SetLevel updates the minimum level at runtime. It is safe for concurrent
// use.
func (h *Handler) SetLevel(level slog.Level) {
	if h == nil || h.levelVar == nil {
		return
	}
	h.levelVar.Set(level)
}

// Level reports the current minimum level.
func (h *Handler) Level() slog.Level {
	if h == nil || h.levelVar == nil {
		return slog.LevelInfo
	}
	return h.levelVar.Level()
}

// LevelVar returns the variable gating records, for wiring into external
// configuration systems.
func (h *Handler) LevelVar() *slog.LevelVar {
	if h == nil {
		return nil
	}
	return h.levelVar
}

// WithInternalLogger sets the logger that receives the handler's own
// diagnostics, such as entries that failed to encode or write. By default
// they are discarded.
func WithInternalLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = logger
	}
}

// WithLevel sets the minimum level. Defaults to info.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// WithLevelVar gates records on levelVar, which the caller may keep
// adjusting. Its current value becomes the initial level unless WithLevel
// is also given.
func WithLevelVar(levelVar *slog.LevelVar) Option {
	return func(o *options) {
		o.levelVar = levelVar
	}
}

// WithSourceLocationEnabled emits logging.googleapis.com/sourceLocation
// with the file and line of each call site.
func WithSourceLocationEnabled(enabled bool) Option {
	return func(o *options) {
		o.addSource = &enabled
	}
}

// WithSpanList adds the `spans` array, the full chain from the root span
// down to the current one, next to `span`.
func WithSpanList(enabled bool) Option {
	return func(o *options) {
		o.spanList = &enabled
	}
}

// WithCloudTrace emits trace correlation keys for spans that carry
// [span.TraceData]. An empty projectID is resolved with [DetectProjectID].
func WithCloudTrace(projectID string) Option {
	return func(o *options) {
		enabled := true
		o.cloudTrace = &enabled
		if projectID != "" {
			o.traceProjectID = &projectID
		}
	}
}

// WithTarget sets the `target` reported on every entry. By default it is
// the import path of the package that made the logging call.
func WithTarget(target string) Option {
	return func(o *options) {
		o.target = &target
	}
}

// WithStructuredValues keeps composite attribute values such as maps,
// slices and structs as nested JSON instead of their fmt representation.
func WithStructuredValues(enabled bool) Option {
	return func(o *options) {
		o.structuredValues = &enabled
	}
}

// WithGoogleFieldRouting routes google.labels.* fields into the labels map
// and other google.* fields onto logging.googleapis.com/ keys.
func WithGoogleFieldRouting(enabled bool) Option {
	return func(o *options) {
		o.googleFieldRouting = &enabled
	}
}

// WithSpans sets where current spans are looked up. Without it the span
// stored in the record's context is used, whichever registry created it,
// and [Parent] attributes cannot be resolved.
func WithSpans(spans span.LookupSpan) Option {
	return func(o *options) {
		o.spans = spans
	}
}

// WithMetrics registers entry and failure counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithConfigFile layers the YAML file at path between the environment and
// the remaining options. See [FileConfig].
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithRedirectToStdout writes entries to stdout.
func WithRedirectToStdout() Option {
	return WithRedirectWriter(os.Stdout)
}

// WithRedirectToStderr writes entries to stderr.
func WithRedirectToStderr() Option {
	return WithRedirectWriter(os.Stderr)
}

// WithRedirectToFile appends entries to the file at path, creating it if
// needed. The handler owns the file; see [Handler.ReopenLogFile] and
// [Handler.Close].
func WithRedirectToFile(path string) Option {
	trimmed := strings.TrimSpace(path)
	return func(o *options) {
		o.writer = nil
		o.writerFilePath = &trimmed
	}
}

// WithRedirectWriter writes entries to writer without taking ownership of
// it.
func WithRedirectWriter(writer io.Writer) Option {
	return func(o *options) {
		o.writer = writer
		o.writerFilePath = nil
	}
}

// WithAttrs binds attrs to every entry, like [slog.Logger.With].
func WithAttrs(attrs []slog.Attr) Option {
	return func(o *options) {
		if len(attrs) == 0 {
			return
		}
		o.attrs = append(o.attrs, append([]slog.Attr(nil), attrs...))
	}
}

// WithGroup qualifies every attribute with name, like
// [slog.Logger.WithGroup]. Attributes from WithAttrs are bound outside the
// groups.
func WithGroup(name string) Option {
	return func(o *options) {
		if name != "" {
			o.groups = append(o.groups, name)
		}
	}
}

// cachedConfigFromEnv reads the environment once per process.
func cachedConfigFromEnv(logger *slog.Logger) (handlerConfig, error) {
	if cached := handlerEnvConfigCache.Load(); cached != nil {
		return *cached, nil
	}
	cfg, err := loadConfigFromEnv(logger)
	if err != nil {
		return handlerConfig{}, err
	}
	entry := new(handlerConfig)
	*entry = cfg
	if !handlerEnvConfigCache.CompareAndSwap(nil, entry) {
		return *handlerEnvConfigCache.Load(), nil
	}
	return cfg, nil
}

// resetHandlerConfigCache forces the next handler to re-read the
// environment.
func resetHandlerConfigCache() {
	handlerEnvConfigCache.Store(nil)
}

func loadConfigFromEnv(logger *slog.Logger) (handlerConfig, error) {
	cfg := handlerConfig{Level: slog.LevelInfo}

	cfg.Level = parseLevelEnv(os.Getenv(envLogLevel), cfg.Level, logger)
	cfg.AddSource = parseBoolEnv(os.Getenv(envLogSource), cfg.AddSource, logger)
	cfg.SpanList = parseBoolEnv(os.Getenv(envSpanList), cfg.SpanList, logger)
	cfg.CloudTrace = parseBoolEnv(os.Getenv(envCloudTrace), cfg.CloudTrace, logger)
	cfg.StructuredValues = parseBoolEnv(os.Getenv(envStructuredValues), cfg.StructuredValues, logger)
	cfg.GoogleFieldRouting = parseBoolEnv(os.Getenv(envGoogleFieldRoutes), cfg.GoogleFieldRouting, logger)

	for _, name := range []string{envTraceProjectID, envProjectID} {
		if id, ok := normalizeProjectID(os.Getenv(name)); ok {
			cfg.TraceProjectID = id
			break
		}
	}

	if err := applyOutputTarget(&cfg, os.Getenv(envTarget), envTarget, logger); err != nil {
		return handlerConfig{}, err
	}
	return cfg, nil
}

func applyOptions(cfg *handlerConfig, o *options) {
	if o.levelVar != nil {
		cfg.Level = o.levelVar.Level()
	}
	if o.level != nil {
		cfg.Level = *o.level
	}
	if o.addSource != nil {
		cfg.AddSource = *o.addSource
	}
	if o.spanList != nil {
		cfg.SpanList = *o.spanList
	}
	if o.cloudTrace != nil {
		cfg.CloudTrace = *o.cloudTrace
	}
	if o.traceProjectID != nil {
		cfg.TraceProjectID = *o.traceProjectID
	}
	if o.target != nil {
		cfg.Target = *o.target
	}
	if o.structuredValues != nil {
		cfg.StructuredValues = *o.structuredValues
	}
	if o.googleFieldRouting != nil {
		cfg.GoogleFieldRouting = *o.googleFieldRouting
	}
	if o.writerFilePath != nil {
		cfg.FilePath = *o.writerFilePath
		cfg.Writer = nil
	}
	if o.writer != nil {
		cfg.Writer = o.writer
		cfg.FilePath = ""
	}
	if o.spans != nil {
		cfg.Spans = o.spans
	}
	for _, attrs := range o.attrs {
		cfg.InitialAttrs = append(cfg.InitialAttrs, attrs...)
	}
	if len(o.groups) > 0 {
		cfg.InitialGroups = append([]string(nil), o.groups...)
	}
}

// applyOutputTarget interprets stdout, stderr or file:<path>. source names
// where the value came from for diagnostics.
func applyOutputTarget(cfg *handlerConfig, value, source string, logger *slog.Logger) error {
	target := strings.TrimSpace(value)
	if target == "" {
		return nil
	}

	lower := strings.ToLower(target)
	switch {
	case lower == "stdout":
		cfg.Writer = os.Stdout
		cfg.FilePath = ""
	case lower == "stderr":
		cfg.Writer = os.Stderr
		cfg.FilePath = ""
	case strings.HasPrefix(lower, "file:"):
		path := strings.TrimSpace(target[len("file:"):])
		if path == "" {
			logDiagnostic(logger, slog.LevelWarn, "empty file target", slog.String("source", source))
			return fmt.Errorf("%w: empty file path from %s", ErrInvalidRedirectTarget, source)
		}
		cfg.FilePath = path
		cfg.Writer = nil
	default:
		logDiagnostic(logger, slog.LevelWarn, "unknown output target", slog.String("source", source), slog.String("value", target))
		return fmt.Errorf("%w: %q from %s", ErrInvalidRedirectTarget, target, source)
	}
	return nil
}

func parseBoolEnv(value string, current bool, logger *slog.Logger) bool {
	if strings.TrimSpace(value) == "" {
		return current
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid boolean environment variable", slog.String("value", value), slog.Any("error", err))
		return current
	}
	return b
}

func parseLevelEnv(value string, current slog.Level, logger *slog.Logger) slog.Level {
	if strings.TrimSpace(value) == "" {
		return current
	}
	level, ok := parseLevel(value)
	if !ok {
		logDiagnostic(logger, slog.LevelWarn, "invalid log level", slog.String("value", value))
		return current
	}
	return level
}

// parseLevel accepts trace, debug, info, warn, warning, error or a numeric
// slog level.
func parseLevel(value string) (slog.Level, bool) {
	switch trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		if lv, err := strconv.Atoi(trimmed); err == nil {
			return slog.Level(lv), true
		}
		return 0, false
	}
}

func logDiagnostic(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
