// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/viewer"
)

// ErrUnknownCommand is returned for a command line that names no command.
var ErrUnknownCommand = errors.New("unknown command")

// command is a parsed ":" line.
type command struct {
	label       string
	resetExtent bool
	run         func(ctx context.Context, ctl Controller) error
}

// parseCommand parses one command line:
//
//	show [START [END]]
//	topic NAME
//	id NAME
//	hosts h1,h2
//	attrs user,sys,@busy
//	define NAME [EXPR]
//	undef NAME
//	unit d|h|m|s|ss
//	auto on|off
//	save
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "show":
		if len(args) > 2 {
			return command{}, fmt.Errorf("usage: show [START [END]]")
		}
		req := viewer.ShowRequest{}
		if len(args) > 0 {
			req.Start = args[0]
		}
		if len(args) > 1 {
			req.End = args[1]
		}
		return showCommand("show", req), nil

	case "topic":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: topic NAME")
		}
		topic := args[0]
		return command{label: "topic " + topic, resetExtent: true, run: func(ctx context.Context, ctl Controller) error {
			ids, err := ctl.SelectTopic(ctx, topic)
			if err != nil {
				return err
			}
			req := viewer.ShowRequest{Topic: topic}
			if len(ids) > 0 {
				req.ID = ids[0]
			}
			return ctl.Show(ctx, req)
		}}, nil

	case "id":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: id NAME")
		}
		return showCommand("id "+args[0], viewer.ShowRequest{ID: args[0]}), nil

	case "hosts":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: hosts h1,h2")
		}
		hosts := splitList(args)
		return showCommand("hosts "+strings.Join(hosts, ","), viewer.ShowRequest{Hosts: hosts}), nil

	case "attrs":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: attrs a,b,@derived")
		}
		attrs := datatypes.ParseAttrRefs(args)
		return showCommand("attrs", viewer.ShowRequest{Attrs: attrs}), nil

	case "define":
		if len(args) == 0 {
			return command{}, fmt.Errorf("usage: define NAME [EXPR]")
		}
		attr, body := args[0], strings.Join(args[1:], " ")
		return command{label: "defined " + attr, run: func(ctx context.Context, ctl Controller) error {
			return ctl.DefineAttr(ctx, attr, body)
		}}, nil

	case "undef":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: undef NAME")
		}
		attr := args[0]
		return command{label: "removed " + attr, run: func(ctx context.Context, ctl Controller) error {
			return ctl.UndefineAttr(ctx, attr)
		}}, nil

	case "unit":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: unit d|h|m|s|ss")
		}
		g, err := timekey.ParseGranularity(args[0])
		if err != nil {
			return command{}, err
		}
		return command{label: "unit " + g.Name(), resetExtent: true, run: func(ctx context.Context, ctl Controller) error {
			return applyUnit(ctx, ctl, g)
		}}, nil

	case "auto":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return command{}, fmt.Errorf("usage: auto on|off")
		}
		on := args[0] == "on"
		return command{label: "auto " + args[0], run: func(ctx context.Context, ctl Controller) error {
			return ctl.SetAutoRefresh(ctx, on)
		}}, nil

	case "save":
		return command{label: "saved", run: func(ctx context.Context, ctl Controller) error {
			return ctl.Save(ctx)
		}}, nil
	}
	return command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

func showCommand(label string, req viewer.ShowRequest) command {
	return command{label: label, resetExtent: true, run: func(ctx context.Context, ctl Controller) error {
		return ctl.Show(ctx, req)
	}}
}

// applyUnit switches the unit and, unless the live tail is refilling the
// chart, shows the converted window.
func applyUnit(ctx context.Context, ctl Controller, g timekey.Granularity) error {
	if err := ctl.SetGranularity(ctx, g); err != nil {
		return err
	}
	st, err := ctl.Status(ctx)
	if err != nil {
		return err
	}
	if st.Auto != viewer.AutoOff {
		return nil
	}
	return ctl.Show(ctx, viewer.ShowRequest{})
}

func splitList(args []string) []string {
	var out []string
	for _, a := range args {
		for _, s := range strings.Split(a, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
