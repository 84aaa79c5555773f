// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command scoped serves time-series records to scope viewers.
//
// It reads configuration from environment variables, connects to InfluxDB,
// opens the profile database and starts the HTTP API. When KAFKA_BROKERS
// is set it also consumes sample lines from Kafka.
//
// # Environment Variables
//
//   - SCOPED_PORT: HTTP server port (default: 12220)
//   - INFLUXDB_URL: InfluxDB URL (default: http://localhost:8086)
//   - INFLUXDB_TOKEN: InfluxDB API token
//   - INFLUXDB_ORG: InfluxDB organisation (default: aleutian)
//   - INFLUXDB_BUCKET: sample bucket (default: scope)
//   - SCOPE_DATA_DIR: profile database directory (default: ~/.aleutian/scoped)
//   - SCOPE_CATALOG: topic catalog YAML (default: $SCOPE_DATA_DIR/topics.yaml)
//   - KAFKA_BROKERS: comma-separated seed brokers (optional)
//   - KAFKA_TOPICS: topics to ingest (default: every catalog topic)
//   - KAFKA_GROUP: consumer group (default: aleutian-scope-ingest)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_DIR: additional JSON log directory (optional)
//
// # Usage
//
//	go build -o scoped ./cmd/scoped
//	INFLUXDB_TOKEN=... ./scoped
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scoped:", err)
		os.Exit(2)
	}
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "scoped:", err)
		os.Exit(1)
	}
}
