// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scoped/profiles"
	"github.com/AleutianAI/AleutianScope/services/scoped/samples"
)

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.deps.Profiles.Get(c.Request.Context(), c.Query("user"))
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		abort(c, http.StatusNotFound, "profile not found", nil)
	case err != nil:
		abort(c, http.StatusBadRequest, "failed to load profile", err)
	default:
		c.JSON(http.StatusOK, p)
	}
}

func (s *Server) handlePutProfile(c *gin.Context) {
	var p datatypes.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, "invalid profile body", err)
		return
	}
	if err := s.deps.Profiles.Put(c.Request.Context(), c.Query("user"), p); err != nil {
		abort(c, http.StatusBadRequest, "failed to save profile", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleInitProfile(c *gin.Context) {
	topic, id := c.Query("topic"), c.Query("id")
	var attrs []string
	if raw := c.Query("attr"); raw != "" {
		attrs = strings.Split(raw, ",")
	}
	meta, _ := s.deps.Catalog.Meta(topic)

	p, err := s.deps.Profiles.Init(c.Request.Context(), c.Query("user"), topic, id, attrs, meta)
	if err != nil {
		abort(c, http.StatusBadRequest, "failed to initialise profile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (s *Server) handleTopics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Catalog.Topics())
}

func (s *Server) handleIDs(c *gin.Context) {
	topic := c.Query("topic")
	if err := validation.ValidateIdent("topic", topic); err != nil {
		abort(c, http.StatusBadRequest, "invalid topic", err)
		return
	}
	ids, err := s.deps.Samples.IDs(c.Request.Context(), topic)
	if err != nil {
		s.logger.Error("list ids failed", "topic", topic, "error", err)
		abort(c, http.StatusBadGateway, "failed to list ids", err)
		return
	}
	c.JSON(http.StatusOK, ids)
}

// -----------------------------------------------------------------------------
// Ingest over HTTP
// -----------------------------------------------------------------------------

// WriteRequest is the body of POST /v1/samples: one record of one series.
type WriteRequest struct {
	Topic    string           `json:"topic" binding:"required"`
	ID       string           `json:"id" binding:"required"`
	RecordID timekey.RecordID `json:"record_id" binding:"required"`
	Data     datatypes.Record `json:"data" binding:"required"`
}

func (s *Server) handleWriteSamples(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if g, err := req.RecordID.Granularity(); err != nil || g != timekey.Second {
		abort(c, http.StatusBadRequest, "record_id must be a second id", err)
		return
	}

	at := req.RecordID.MustInstant()
	points := make([]samples.Point, 0, len(req.Data))
	for host, values := range req.Data {
		if host == datatypes.ClusterHost || len(values) == 0 {
			continue
		}
		points = append(points, samples.Point{Topic: req.Topic, ID: req.ID, Host: host, At: at, Values: values})
	}

	if err := s.deps.Samples.Write(c.Request.Context(), points...); err != nil {
		if errors.Is(err, samples.ErrInvalidQuery) {
			abort(c, http.StatusBadRequest, "invalid sample", err)
			return
		}
		s.logger.Error("write samples failed", "topic", req.Topic, "id", req.ID, "error", err)
		abort(c, http.StatusBadGateway, "failed to store samples", err)
		return
	}
	s.metrics.Stored(c.Request.Context(), "http", len(points))
	c.JSON(http.StatusCreated, gin.H{"stored": len(points)})
}
