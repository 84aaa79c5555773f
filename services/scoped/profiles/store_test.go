// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profiles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	scopedb "github.com/AleutianAI/AleutianScope/services/scoped/storage/badger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := scopedb.Open(scopedb.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, nil)
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := datatypes.Profile{
		Topic: "cpu",
		ID:    "web",
		Host:  []string{"h1"},
		Attr:  []datatypes.AttrRef{datatypes.Plain("load"), datatypes.DerivedRef("ratio")},
		Unit:  timekey.Minute,
	}
	p.TopicAttrs("cpu").Func["ratio"] = datatypes.FuncDef{Def: "load / 2"}
	require.NoError(t, s.Put(ctx, "alice", p))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cpu", got.Topic)
	assert.Equal(t, timekey.Minute, got.Unit)
	assert.Equal(t, p.Attr, got.Attr)
	assert.Equal(t, "load / 2", got.Attrs["cpu"].Func["ratio"].Def)

	_, err = s.Get(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DefaultUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "", datatypes.Profile{Topic: "cpu", ID: "web"}))

	got, err := s.Get(ctx, DefaultUser)
	require.NoError(t, err)
	assert.Equal(t, "web", got.ID)
	assert.Equal(t, timekey.Second, got.Unit, "defaults applied")
}

func TestStore_RejectsInvalid(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, "bad user", datatypes.Profile{}))
	assert.Error(t, s.Put(ctx, "alice", datatypes.Profile{Unit: "fortnight"}))
	assert.Error(t, s.Put(ctx, "alice", datatypes.Profile{Unit: timekey.Day, AutoFresh: true}))
	_, err := s.Get(ctx, "../etc")
	assert.Error(t, err)
}

func TestStore_InitFromCatalog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	meta := datatypes.TopicMeta{
		ID:   "web",
		Host: []string{"h1", "h2"},
		Attr: []datatypes.AttrRef{datatypes.Plain("load")},
	}

	p, err := s.Init(ctx, "alice", "cpu", "web", nil, meta)
	require.NoError(t, err)
	assert.True(t, p.AutoFresh)
	assert.Equal(t, timekey.Second, p.Unit)
	assert.Equal(t, []string{"h1", "h2"}, p.Host)
	assert.Equal(t, meta.Attr, p.Attr)
	assert.True(t, p.Attrs["cpu"].Host["h2"])
	assert.True(t, p.Attrs["cpu"].Attr["load"])

	stored, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.Attr, stored.Attr)
}

func TestStore_InitExplicitAttrs(t *testing.T) {
	s := newStore(t)
	p, err := s.Init(context.Background(), "alice", "cpu", "db", []string{"iops,@ratio"}, datatypes.TopicMeta{})
	require.NoError(t, err)
	assert.Equal(t, []datatypes.AttrRef{datatypes.Plain("iops"), datatypes.DerivedRef("ratio")}, p.Attr)
	assert.True(t, p.Attrs["cpu"].Attr["iops"])
	assert.False(t, p.Attrs["cpu"].Attr["ratio"])
}

func TestStore_InitValidates(t *testing.T) {
	s := newStore(t)
	_, err := s.Init(context.Background(), "alice", "", "web", nil, datatypes.TopicMeta{})
	assert.Error(t, err)
	_, err = s.Init(context.Background(), "alice", "cpu", "a b", nil, datatypes.TopicMeta{})
	assert.Error(t, err)
}
