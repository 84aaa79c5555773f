// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// ScopeConfig is the content of ~/.aleutian/scope.yaml.
type ScopeConfig struct {
	// Server is the scoped backend the CLI talks to.
	Server ServerConfig `yaml:"server"`

	// User selects the stored profile.
	User string `yaml:"user" validate:"required,max=64"`

	// Log controls CLI logging. Logs go to a file so they do not tear the TUI.
	Log LogConfig `yaml:"log"`

	// Viewer tunes the watch loop.
	Viewer ViewerConfig `yaml:"viewer"`

	// Render holds defaults for `scope render`.
	Render RenderConfig `yaml:"render"`

	// GCS is optional; when Bucket is set rendered charts can be uploaded.
	GCS GCSConfig `yaml:"gcs"`
}

type ServerConfig struct {
	URL string `yaml:"url" validate:"required,url"` // e.g. http://localhost:12220
	// Transport is "sse" or "ws".
	Transport string `yaml:"transport" validate:"oneof=sse ws"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
}

type ViewerConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"gte=0"`
	SaveInterval   time.Duration `yaml:"save_interval" validate:"gte=0"`
}

type RenderConfig struct {
	Format string `yaml:"format" validate:"oneof=html png"`
	Width  int    `yaml:"width" validate:"gte=0,lte=8192"`
	Height int    `yaml:"height" validate:"gte=0,lte=8192"`
}

type GCSConfig struct {
	Bucket  string `yaml:"bucket,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
	KeyPath string `yaml:"key_path,omitempty" validate:"required_with=Bucket"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ScopeConfig {
	return ScopeConfig{
		Server: ServerConfig{
			URL:       "http://localhost:12220",
			Transport: "sse",
		},
		User: "default",
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.aleutian/logs",
		},
		Viewer: ViewerConfig{
			ReconnectDelay: 5 * time.Second,
			SaveInterval:   30 * time.Second,
		},
		Render: RenderConfig{
			Format: "html",
			Width:  1280,
			Height: 480,
		},
	}
}
