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
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScope/services/scope/chart"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/tui"
	"github.com/AleutianAI/AleutianScope/services/scope/viewer"
)

type watchOptions struct {
	show  showOptions
	auto  bool
	plain bool
}

// runWatch drives a viewer until ctx ends or the user quits. On a terminal
// it shows the TUI; otherwise every new point is printed as one line.
func runWatch(ctx context.Context, a *app, o watchOptions, in io.Reader, out, errOut io.Writer) error {
	interactive := !o.plain && isTerminal(out)

	p, err := a.loadProfile(ctx, interactive, in, out)
	if err != nil {
		return err
	}
	if err := o.show.apply(&p); err != nil {
		return err
	}
	if o.auto {
		p.AutoFresh = true
	}

	errs := make(chan error, 16)
	var series *chart.Series
	if interactive {
		series = chart.NewSeries(nil)
	} else {
		series = chart.NewSeries(newLinePrinter(out).print)
	}

	v, err := viewer.New(viewer.Config{
		Transport:      a.transport(),
		Sink:           series,
		Store:          a.client,
		Notifier:       tui.ChannelNotifier(errs),
		Logger:         a.logger,
		Initial:        o.show.request(),
		ReconnectDelay: a.cfg.Viewer.ReconnectDelay,
		SaveInterval:   a.cfg.Viewer.SaveInterval,
	}, p)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Run(gctx) })

	if interactive {
		g.Go(func() error {
			defer cancel()
			prog := tea.NewProgram(tui.New(v, series.Snapshot, errs),
				tea.WithAltScreen(), tea.WithContext(gctx), tea.WithInput(in), tea.WithOutput(out))
			_, err := prog.Run()
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	} else {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-errs:
					fmt.Fprintf(errOut, "scope: %v\n", err)
				}
			}
		})
	}
	return g.Wait()
}

// linePrinter writes each point once, in id order. Points older than the
// last printed one (backfills) are skipped.
type linePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last timekey.RecordID
}

func newLinePrinter(out io.Writer) *linePrinter {
	return &linePrinter{out: out}
}

func (l *linePrinter) print(snap chart.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, id := range snap.X {
		if id <= l.last {
			continue
		}
		var b strings.Builder
		b.WriteString(string(id))
		for s, name := range snap.Names {
			b.WriteString("  ")
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(strconv.FormatFloat(snap.Values[s][i], 'g', -1, 64))
		}
		b.WriteByte('\n')
		_, _ = io.WriteString(l.out, b.String())
		l.last = id
	}
}
