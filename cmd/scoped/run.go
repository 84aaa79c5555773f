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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scoped/catalog"
	"github.com/AleutianAI/AleutianScope/services/scoped/ingest"
	"github.com/AleutianAI/AleutianScope/services/scoped/profiles"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
	"github.com/AleutianAI/AleutianScope/services/scoped/server"
	scopedb "github.com/AleutianAI/AleutianScope/services/scoped/storage/badger"
	"github.com/AleutianAI/AleutianScope/services/scoped/telemetry"
)

const (
	influxAttempts = 10
	influxBackoff  = 3 * time.Second
	shutdownGrace  = 10 * time.Second
)

func run(ctx context.Context, cfg config) error {
	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		LogDir:  cfg.LogDir,
		Service: "scoped",
		JSON:    true,
	})
	defer logger.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	defer influx.Close()
	health := func(ctx context.Context) error {
		h, err := influx.Health(ctx)
		if err != nil {
			return err
		}
		if h.Status != "pass" {
			msg := string(h.Status)
			if h.Message != nil {
				msg = *h.Message
			}
			return fmt.Errorf("influxdb not ready: %s", msg)
		}
		return nil
	}
	if err := waitReady(ctx, health, logger); err != nil {
		return err
	}
	store := samples.NewInfluxStore(
		influx.QueryAPI(cfg.InfluxOrg),
		influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		cfg.InfluxBucket,
		logger,
	)

	dbCfg := scopedb.DefaultConfig(cfg.DataDir)
	dbCfg.Logger = logger
	db, err := scopedb.Open(dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cat, err := catalog.Load(cfg.CatalogPath, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Samples:  store,
		Profiles: profiles.NewStore(db, logger),
		Catalog:  cat,
		Health:   health,
	}, server.DefaultConfig(), logger)

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cat.Watch(ctx) })
	g.Go(func() error {
		logger.Info("scoped listening", "addr", httpServer.Addr, "bucket", cfg.InfluxBucket)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		topics := cfg.KafkaTopics
		if len(topics) == 0 {
			topics = cat.Topics().Names()
		}
		consumer, err := ingest.NewConsumer(ingest.Config{
			Brokers: cfg.KafkaBrokers,
			Group:   cfg.KafkaGroup,
			Topics:  topics,
		}, store, logger)
		if err != nil {
			logger.Error("kafka ingest disabled", "error", err)
		} else {
			g.Go(func() error { return consumer.Run(ctx) })
		}
	}

	return g.Wait()
}

// waitReady polls health until it succeeds, ctx ends, or the attempts run
// out.
func waitReady(ctx context.Context, health func(context.Context) error, logger *logging.Logger) error {
	var err error
	for attempt := 1; attempt <= influxAttempts; attempt++ {
		if err = health(ctx); err == nil {
			logger.Info("connected to influxdb")
			return nil
		}
		logger.Warn("influxdb not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(influxBackoff):
		}
	}
	return fmt.Errorf("influxdb unavailable after %d attempts: %w", influxAttempts, err)
}
