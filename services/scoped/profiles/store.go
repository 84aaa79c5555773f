// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profiles persists viewer profiles in BadgerDB, one JSON document
// per user under the key "profile/<user>".
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/pkg/validation"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	scopedb "github.com/AleutianAI/AleutianScope/services/scoped/storage/badger"
)

// DefaultUser owns the profile when a request names no user.
const DefaultUser = "default"

const keyPrefix = "profile/"

// ErrNotFound is returned by Get when the user has no profile.
var ErrNotFound = errors.New("profile not found")

// Store reads and writes profiles.
type Store struct {
	db     *scopedb.DB
	logger *logging.Logger
}

// NewStore wraps an open database.
func NewStore(db *scopedb.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{db: db, logger: logger}
}

func key(user string) []byte {
	return []byte(keyPrefix + user)
}

func normalizeUser(user string) (string, error) {
	if user == "" {
		return DefaultUser, nil
	}
	if err := validation.ValidateIdent("user", user); err != nil {
		return "", err
	}
	return user, nil
}

// Get loads the profile of user, with defaults applied.
func (s *Store) Get(ctx context.Context, user string) (datatypes.Profile, error) {
	user, err := normalizeUser(user)
	if err != nil {
		return datatypes.Profile{}, err
	}
	var p datatypes.Profile
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key(user))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return datatypes.Profile{}, err
		}
		return datatypes.Profile{}, fmt.Errorf("load profile %q: %w", user, err)
	}
	p.ApplyDefaults()
	return p, nil
}

// Put validates and stores p as the profile of user.
func (s *Store) Put(ctx context.Context, user string, p datatypes.Profile) error {
	user, err := normalizeUser(user)
	if err != nil {
		return err
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(user), data)
	})
	if err != nil {
		return fmt.Errorf("save profile %q: %w", user, err)
	}
	s.logger.Debug("profile saved", "user", user, "topic", p.Topic, "bytes", len(data))
	return nil
}

// Init creates and stores the first-run profile of user for topic/id.
//
// The catalog entry meta supplies the default hosts and, when attrs is
// empty, the default attributes. Every host and plain attribute of the
// selection is also recorded as observed for the topic.
func (s *Store) Init(ctx context.Context, user, topic, id string, attrs []string, meta datatypes.TopicMeta) (datatypes.Profile, error) {
	if err := validation.ValidateIdent("topic", topic); err != nil {
		return datatypes.Profile{}, err
	}
	if err := validation.ValidateIdent("id", id); err != nil {
		return datatypes.Profile{}, err
	}

	p := datatypes.Profile{
		Topic:     topic,
		ID:        id,
		Host:      append([]string(nil), meta.Host...),
		Unit:      timekey.Second,
		AutoFresh: true,
	}
	if len(attrs) > 0 {
		p.Attr = datatypes.ParseAttrRefs(attrs)
	} else {
		p.Attr = append([]datatypes.AttrRef(nil), meta.Attr...)
	}
	ta := p.TopicAttrs(topic)
	for _, h := range p.Host {
		ta.Host[h] = true
	}
	for _, a := range p.Attr {
		if !a.Derived {
			ta.Attr[a.Name] = true
		}
	}

	if err := s.Put(ctx, user, p); err != nil {
		return datatypes.Profile{}, err
	}
	p.ApplyDefaults()
	s.logger.Info("profile initialised", "user", user, "topic", topic, "id", id)
	return p, nil
}
