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
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianScope/cmd/scope/config"
	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/profile"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/viewer"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    config.ScopeConfig
	logger *logging.Logger
	client *profile.Client
}

func (a *app) setup(f globalFlags) error {
	path := f.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if f.server != "" {
		cfg.Server.URL = f.server
	}
	if f.user != "" {
		cfg.User = f.user
	}
	if f.transport != "" {
		cfg.Server.Transport = f.transport
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	// With a log directory, stderr stays clean for the TUI.
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "scope",
		Quiet:   cfg.Log.Dir != "",
	})
	a.cfg = cfg
	a.client = profile.NewClient(cfg.Server.URL, cfg.User, a.logger)
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) transport() stream.Transport {
	if a.cfg.Server.Transport == "ws" {
		return stream.NewWSTransport(a.cfg.Server.URL)
	}
	return stream.NewHTTPTransport(a.cfg.Server.URL)
}

// loadProfile fetches the user's profile. A missing profile runs the
// first-run form when interactive is set.
func (a *app) loadProfile(ctx context.Context, interactive bool, in io.Reader, out io.Writer) (datatypes.Profile, error) {
	p, err := a.client.Load(ctx)
	if errors.Is(err, profile.ErrNotFound) {
		if !interactive {
			return datatypes.Profile{}, fmt.Errorf("no profile for user %q, run `scope profile init`", a.client.User())
		}
		fmt.Fprintf(out, "No profile for user %q yet, let's create one.\n", a.client.User())
		return runProfileInit(ctx, a, profileInitOptions{}, in, out)
	}
	return p, err
}

// =============================================================================
// Shared flags
// =============================================================================

// showOptions select what to chart. Empty fields keep the profile's values.
type showOptions struct {
	topic string
	id    string
	start string
	end   string
	hosts []string
	attrs []string
	unit  string
}

// apply writes the selection into p so the viewer starts on it.
func (o showOptions) apply(p *datatypes.Profile) error {
	if o.topic != "" {
		p.Topic = o.topic
	}
	if o.id != "" {
		p.ID = o.id
	}
	if len(o.hosts) > 0 {
		p.Host = o.hosts
	}
	if len(o.attrs) > 0 {
		p.Attr = datatypes.ParseAttrRefs(o.attrs)
	}
	if o.unit != "" {
		g, err := timekey.ParseGranularity(o.unit)
		if err != nil {
			return err
		}
		p.Unit = g
	}
	return nil
}

func (o showOptions) request() viewer.ShowRequest {
	return viewer.ShowRequest{Start: o.start, End: o.end}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
