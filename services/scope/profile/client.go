// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package profile is the viewer's client for the backend's persistence
endpoints.

	GET  /profile?user=          load the user's profile (404 when none)
	PUT  /profile?user=          save it
	GET  /profile/init?user=...  first-run creation from topic, id and attrs
	GET  /topics                 topic catalog
	GET  /ids?topic=             series ids of a topic

Id lists are cached for the lifetime of the Client. Everything else goes to
the backend on every call.

# Usage

	client := profile.NewClient("http://localhost:8088", "default", logger)
	p, err := client.Load(ctx)
	if errors.Is(err, profile.ErrNotFound) {
	    p, err = client.Init(ctx, profile.InitRequest{Topic: "cpu", ID: "web"})
	}
*/
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrNotFound is returned by Load when the user has no profile yet.
var ErrNotFound = errors.New("profile not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is what the viewer needs from the persistence backend.
type Store interface {
	Load(ctx context.Context) (datatypes.Profile, error)
	Save(ctx context.Context, p datatypes.Profile) error
	Topics(ctx context.Context) (datatypes.Topics, error)
	IDs(ctx context.Context, topic string) ([]string, error)
}

// InitRequest seeds a new profile.
type InitRequest struct {
	Topic string
	ID    string
	Attr  []string
}

const (
	defaultTimeout = 10 * time.Second
	idCacheSize    = 128
)

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
	ids     *expirable.LRU[string, []string]
	logger  *logging.Logger
}

// NewClient returns a client for user against baseURL. An empty user means
// "default".
func NewClient(baseURL, user string, logger *logging.Logger) *Client {
	if user == "" {
		user = "default"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: defaultTimeout},
		ids:     expirable.NewLRU[string, []string](idCacheSize, nil, 0),
		logger:  logger,
	}
}

// User returns the profile owner.
func (c *Client) User() string { return c.user }

// Load fetches the user's profile and applies defaults.
func (c *Client) Load(ctx context.Context) (datatypes.Profile, error) {
	var p datatypes.Profile
	q := url.Values{"user": {c.user}}
	if err := c.do(ctx, "load profile", http.MethodGet, "/profile", q, nil, &p); err != nil {
		return datatypes.Profile{}, err
	}
	p.ApplyDefaults()
	return p, nil
}

// Save persists p.
func (c *Client) Save(ctx context.Context, p datatypes.Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	q := url.Values{"user": {c.user}}
	return c.do(ctx, "save profile", http.MethodPut, "/profile", q, body, nil)
}

// Init asks the backend to create a profile for a first run.
func (c *Client) Init(ctx context.Context, req InitRequest) (datatypes.Profile, error) {
	if err := validation.ValidateIdent("topic", req.Topic); err != nil {
		return datatypes.Profile{}, fmt.Errorf("init profile: %w", err)
	}
	if err := validation.ValidateIdent("id", req.ID); err != nil {
		return datatypes.Profile{}, fmt.Errorf("init profile: %w", err)
	}
	q := url.Values{"user": {c.user}, "topic": {req.Topic}, "id": {req.ID}}
	if len(req.Attr) > 0 {
		q.Set("attr", strings.Join(req.Attr, ","))
	}
	var p datatypes.Profile
	if err := c.do(ctx, "init profile", http.MethodGet, "/profile/init", q, nil, &p); err != nil {
		return datatypes.Profile{}, err
	}
	p.ApplyDefaults()
	return p, nil
}

// Topics lists the topic catalog.
func (c *Client) Topics(ctx context.Context) (datatypes.Topics, error) {
	topics := datatypes.Topics{}
	if err := c.do(ctx, "list topics", http.MethodGet, "/topics", nil, nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

// IDs lists the series ids of topic. Results are cached per topic.
func (c *Client) IDs(ctx context.Context, topic string) ([]string, error) {
	if ids, ok := c.ids.Get(topic); ok {
		return ids, nil
	}
	var ids []string
	q := url.Values{"topic": {topic}}
	if err := c.do(ctx, "list ids", http.MethodGet, "/ids", q, nil, &ids); err != nil {
		return nil, err
	}
	c.ids.Add(topic, ids)
	c.logger.Debug("cached ids", "topic", topic, "count", len(ids))
	return ids, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body []byte, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && path == "/profile" && method == http.MethodGet {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

var _ Store = (*Client)(nil)
