// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
)

func TestClient_LoadAppliesDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("user"))
		_, _ = w.Write([]byte(`{"topic":"cpu","id":"web","attr":["user",{"name":"busy"}],"host":["h1"]}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, "alice", nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cpu", p.Topic)
	assert.Equal(t, timekey.Second, p.Unit)
	require.Len(t, p.Attr, 2)
	assert.True(t, p.Attr[1].Derived)
	assert.NotNil(t, p.Attrs)
}

func TestClient_LoadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no profile", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Save(t *testing.T) {
	var got datatypes.Profile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "default", r.URL.Query().Get("user"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := datatypes.Profile{Topic: "cpu", ID: "web", Unit: timekey.Minute, AutoFresh: true}
	require.NoError(t, NewClient(srv.URL, "", nil).Save(context.Background(), p))
	assert.Equal(t, "cpu", got.Topic)
	assert.True(t, got.AutoFresh)
}

func TestClient_SaveRejectsInvalidProfile(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "", nil)
	err := client.Save(context.Background(), datatypes.Profile{Topic: "cpu; drop", Unit: timekey.Second})
	assert.Error(t, err)
}

func TestClient_SaveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", nil).Save(context.Background(), datatypes.Profile{Unit: timekey.Second})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Equal(t, "disk full", statusErr.Body)
}

func TestClient_Init(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile/init", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "cpu", q.Get("topic"))
		assert.Equal(t, "web", q.Get("id"))
		assert.Equal(t, "user,sys", q.Get("attr"))
		_, _ = w.Write([]byte(`{"topic":"cpu","id":"web","attr":["user","sys"],"unit":"s"}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, "", nil).Init(context.Background(), InitRequest{
		Topic: "cpu", ID: "web", Attr: []string{"user", "sys"},
	})
	require.NoError(t, err)
	assert.Equal(t, "web", p.ID)
	assert.Len(t, p.Attr, 2)
}

func TestClient_InitValidates(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", "", nil).Init(context.Background(), InitRequest{Topic: "", ID: "web"})
	assert.Error(t, err)
}

func TestClient_Topics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cpu":{"id":"web","host":["h1","h2"],"attr":["user"]}}`))
	}))
	defer srv.Close()

	topics, err := NewClient(srv.URL, "", nil).Topics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu"}, topics.Names())
	assert.Equal(t, []string{"h1", "h2"}, topics["cpu"].Host)
}

func TestClient_IDsAreCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`["db","web"]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	for range 3 {
		ids, err := client.IDs(context.Background(), "cpu")
		require.NoError(t, err)
		assert.Equal(t, []string{"db", "web"}, ids)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := client.IDs(context.Background(), "mem")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).Topics(context.Background())
	assert.ErrorContains(t, err, "decode response")
}
