// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
)

const sample = `
cpu:
  id: web
  host: [web1, web2]
  attr: [user, sys, {name: busy}]
disk:
  id: db
`

func TestParse(t *testing.T) {
	topics, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu", "disk"}, topics.Names())
	assert.Equal(t, []datatypes.AttrRef{
		datatypes.Plain("user"), datatypes.Plain("sys"), datatypes.DerivedRef("busy"),
	}, topics["cpu"].Attr)
	assert.Equal(t, "db", topics["disk"].ID)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("cpu: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("\"bad topic\":\n  id: web\n"))
	assert.ErrorContains(t, err, "invalid catalog")

	_, err = Parse([]byte("cpu:\n  id: web\n  host: [\"a b\"]\n"))
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "topics.yaml"), nil)
	require.NoError(t, err)
	assert.Empty(t, c.Topics())
}

func TestLoad_InvalidFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cpu: 3"), 0600))
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestCatalog_MetaAndCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))
	c, err := Load(path, nil)
	require.NoError(t, err)

	m, ok := c.Meta("cpu")
	require.True(t, ok)
	assert.Equal(t, "web", m.ID)
	_, ok = c.Meta("mem")
	assert.False(t, ok)

	topics := c.Topics()
	delete(topics, "cpu")
	_, ok = c.Meta("cpu")
	assert.True(t, ok, "Topics returns a copy")
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))
	c, err := Load(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cpu: 3"), 0600))
	assert.Error(t, c.Reload())
	assert.Len(t, c.Topics(), 2)
}

func TestCatalog_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("disk:\n  id: db\n"), 0600))
	c, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// The watcher registers asynchronously; keep rewriting until it notices.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(sample), 0600)
		_, ok := c.Meta("cpu")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStatic(t *testing.T) {
	c := Static(datatypes.Topics{"cpu": {ID: "web"}})
	require.NoError(t, c.Reload())
	m, ok := c.Meta("cpu")
	assert.True(t, ok)
	assert.Equal(t, "web", m.ID)
}
