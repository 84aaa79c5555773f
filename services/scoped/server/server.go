// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server is scoped's HTTP API.
//
// # Routes
//
//	GET  /stream        Server-Sent Events record stream
//	GET  /ws/stream     the same stream over a WebSocket
//	GET  /profile       load a user's profile
//	PUT  /profile       save a user's profile
//	GET  /profile/init  create a first-run profile
//	GET  /topics        the topic catalog
//	GET  /ids           series ids of a topic
//	POST /v1/samples    write one record
//	GET  /health        liveness and store health
//	GET  /metrics       Prometheus metrics
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
	"github.com/AleutianAI/AleutianScope/services/scoped/telemetry"
)

// ProfileStore is the profile persistence the server needs.
type ProfileStore interface {
	Get(ctx context.Context, user string) (datatypes.Profile, error)
	Put(ctx context.Context, user string, p datatypes.Profile) error
	Init(ctx context.Context, user, topic, id string, attrs []string, meta datatypes.TopicMeta) (datatypes.Profile, error)
}

// Catalog serves topic metadata.
type Catalog interface {
	Topics() datatypes.Topics
	Meta(topic string) (datatypes.TopicMeta, bool)
}

// Config tunes the server. Zero fields take the DefaultConfig values.
type Config struct {
	// StreamRate and StreamBurst bound how fast /stream requests are
	// admitted across all clients.
	StreamRate  rate.Limit
	StreamBurst int

	// LimitWait is how long a stream request may queue for the limiter
	// before it is rejected with 429.
	LimitWait time.Duration

	// PollInterval is the live-tail store polling period.
	PollInterval time.Duration

	// Now returns the current time. Tests pin it.
	Now func() time.Time
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		StreamRate:   20,
		StreamBurst:  40,
		LimitWait:    2 * time.Second,
		PollInterval: time.Second,
		Now:          time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StreamRate == 0 {
		c.StreamRate = d.StreamRate
	}
	if c.StreamBurst == 0 {
		c.StreamBurst = d.StreamBurst
	}
	if c.LimitWait == 0 {
		c.LimitWait = d.LimitWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Deps are the server's collaborators.
type Deps struct {
	Samples  samples.Store
	Profiles ProfileStore
	Catalog  Catalog
	// Health reports whether the sample store is reachable. Optional.
	Health func(ctx context.Context) error
}

// Server holds the router and its dependencies.
type Server struct {
	deps    Deps
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *telemetry.Instruments
	router  *gin.Engine
}

// New builds the router.
func New(deps Deps, cfg Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg = cfg.withDefaults()
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.StreamRate, cfg.StreamBurst),
		logger:  logger,
		metrics: telemetry.Metrics(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("scoped"))
	r.Use(s.requestID(), s.accessLog())

	r.GET("/health", s.handleHealth)
	if h := telemetry.MetricsHandler(); h != nil {
		r.GET("/metrics", gin.WrapH(h))
	}

	r.GET("/stream", s.handleSSE)
	r.GET("/ws/stream", s.handleWS)

	r.GET("/profile", s.handleGetProfile)
	r.PUT("/profile", s.handlePutProfile)
	r.GET("/profile/init", s.handleInitProfile)

	r.GET("/topics", s.handleTopics)
	r.GET("/ids", s.handleIDs)

	r.POST("/v1/samples", s.handleWriteSamples)
	return r
}

// requestIDHeader carries the per-request id in both directions.
const requestIDHeader = "X-Request-ID"

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"))
	}
}

// abort writes the JSON error shape shared by every endpoint.
func abort(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			abort(c, http.StatusServiceUnavailable, "sample store unavailable", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "scoped"})
}
