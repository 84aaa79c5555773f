// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
)

// config is scoped's environment-derived configuration.
type config struct {
	Port int `validate:"min=1,max=65535"`

	InfluxURL    string `validate:"required,url"`
	InfluxToken  string
	InfluxOrg    string `validate:"required"`
	InfluxBucket string `validate:"required"`

	DataDir     string `validate:"required"`
	CatalogPath string `validate:"required"`

	KafkaBrokers []string `validate:"dive,hostname_port"`
	KafkaTopics  []string
	KafkaGroup   string

	LogLevel logging.Level
	LogDir   string
}

var validate = validator.New()

// loadConfig reads the environment through getenv.
func loadConfig(getenv func(string) string) (config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	port, err := strconv.Atoi(env("SCOPED_PORT", "12220"))
	if err != nil {
		return config{}, fmt.Errorf("invalid SCOPED_PORT: %w", err)
	}
	level, err := logging.ParseLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	dataDir := logging.ExpandPath(env("SCOPE_DATA_DIR", "~/.aleutian/scoped"))
	cfg := config{
		Port:         port,
		InfluxURL:    env("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:  getenv("INFLUXDB_TOKEN"),
		InfluxOrg:    env("INFLUXDB_ORG", "aleutian"),
		InfluxBucket: env("INFLUXDB_BUCKET", "scope"),
		DataDir:      dataDir,
		CatalogPath:  env("SCOPE_CATALOG", filepath.Join(dataDir, "topics.yaml")),
		KafkaBrokers: splitList(getenv("KAFKA_BROKERS")),
		KafkaTopics:  splitList(getenv("KAFKA_TOPICS")),
		KafkaGroup:   getenv("KAFKA_GROUP"),
		LogLevel:     level,
		LogDir:       getenv("LOG_DIR"),
	}
	if err := validate.Struct(cfg); err != nil {
		return config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
