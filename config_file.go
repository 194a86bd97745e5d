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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file layout. Unset fields leave the
// environment-derived value alone.
//
//	level: debug
//	source_location: true
//	span_list: true
//	cloud_trace: true
//	project_id: my-project
//	output: file:/var/log/app.json
type FileConfig struct {
	Level              string `yaml:"level"`
	SourceLocation     *bool  `yaml:"source_location"`
	SpanList           *bool  `yaml:"span_list"`
	CloudTrace         *bool  `yaml:"cloud_trace"`
	ProjectID          string `yaml:"project_id"`
	Target             string `yaml:"target"`
	Output             string `yaml:"output"`
	StructuredValues   *bool  `yaml:"structured_values"`
	GoogleFieldRouting *bool  `yaml:"google_field_routing"`
}

// LoadConfigFile reads and validates the YAML file at path. Unknown keys
// are rejected.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("slogsd: read config file: %w", err)
	}
	fc := &FileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("slogsd: parse config file %q: %w", path, err)
	}
	if fc.Level != "" {
		if _, ok := parseLevel(fc.Level); !ok {
			return nil, fmt.Errorf("slogsd: config file %q: invalid level %q", path, fc.Level)
		}
	}
	return fc, nil
}

func (fc *FileConfig) apply(cfg *handlerConfig, logger *slog.Logger) error {
	if level, ok := parseLevel(fc.Level); ok {
		cfg.Level = level
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&cfg.AddSource, fc.SourceLocation)
	setBool(&cfg.SpanList, fc.SpanList)
	setBool(&cfg.CloudTrace, fc.CloudTrace)
	setBool(&cfg.StructuredValues, fc.StructuredValues)
	setBool(&cfg.GoogleFieldRouting, fc.GoogleFieldRouting)
	if id, ok := normalizeProjectID(fc.ProjectID); ok {
		cfg.TraceProjectID = id
	}
	if fc.Target != "" {
		cfg.Target = fc.Target
	}
	return applyOutputTarget(cfg, fc.Output, "config file", logger)
}

// WatchConfigFile re-reads the configuration file whenever it changes and
// applies its level to h. Other settings only take effect in new handlers.
// The parent directory is watched so editors that replace the file are
// noticed. WatchConfigFile blocks until ctx is done.
func WatchConfigFile(ctx context.Context, path string, h *Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("slogsd: create config watcher: %w", err)
	}
	defer watcher.Close()

	clean := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("slogsd: watch config file %q: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != clean || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.reloadLevel(clean)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.internalLogger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (h *Handler) reloadLevel(path string) {
	fc, err := LoadConfigFile(path)
	if err != nil {
		h.internalLogger.Warn("ignoring invalid config file", slog.Any("error", err))
		return
	}
	level, ok := parseLevel(fc.Level)
	if !ok || level == h.Level() {
		return
	}
	h.SetLevel(level)
	h.internalLogger.Info("log level reloaded", slog.String("level", level.String()))
}
