// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog serves the topic catalog behind GET /topics.
//
// The catalog is a YAML file mapping topic name to its default selection:
//
//	cpu:
//	  id: web
//	  host: [web1, web2]
//	  attr: [user, sys, {name: busy}]
//
// The file is re-read when it changes on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
)

// Catalog holds the current topic catalog.
//
// # Thread Safety
//
// Safe for concurrent use. Watch should only be called once.
type Catalog struct {
	path   string
	logger *logging.Logger

	mu     sync.RWMutex
	topics datatypes.Topics
}

// Load reads the catalog at path. A missing file yields an empty catalog
// so the server can start before one is written.
func Load(path string, logger *logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Catalog{path: path, logger: logger, topics: datatypes.Topics{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Static returns a catalog with fixed contents that is never reloaded.
func Static(topics datatypes.Topics) *Catalog {
	return &Catalog{logger: logging.Discard(), topics: topics}
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (datatypes.Topics, error) {
	topics := datatypes.Topics{}
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	var errs []error
	for name, meta := range topics {
		if err := validation.ValidateIdent("topic", name); err != nil {
			errs = append(errs, err)
		}
		if meta.ID != "" {
			if err := validation.ValidateIdent("id", meta.ID); err != nil {
				errs = append(errs, fmt.Errorf("topic %s: %w", name, err))
			}
		}
		if err := validation.ValidateIdents("host", meta.Host); len(meta.Host) > 0 && err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return topics, nil
}

// Reload re-reads the file. On error the previous contents stay in place.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("topic catalog not found, serving empty catalog", "path", c.path)
		c.set(datatypes.Topics{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	topics, err := Parse(data)
	if err != nil {
		return err
	}
	c.set(topics)
	c.logger.Info("topic catalog loaded", "path", c.path, "topics", len(topics))
	return nil
}

func (c *Catalog) set(topics datatypes.Topics) {
	c.mu.Lock()
	c.topics = topics
	c.mu.Unlock()
}

// Topics returns a copy of the catalog.
func (c *Catalog) Topics() datatypes.Topics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(datatypes.Topics, len(c.topics))
	for k, v := range c.topics {
		out[k] = v
	}
	return out
}

// Meta returns the entry for topic.
func (c *Catalog) Meta(topic string) (datatypes.TopicMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.topics[topic]
	return m, ok
}

// Watch reloads the catalog whenever its file changes.
//
// # Description
//
// Watches the directory holding the catalog so that editors which replace
// the file by rename are noticed. Blocks until ctx is cancelled. Reload
// failures are logged and the previous catalog keeps being served.
//
// # Example
//
//	go cat.Watch(ctx)
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(c.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("topic catalog reload failed", "path", c.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
