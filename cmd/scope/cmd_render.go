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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScope/cmd/scope/gcs"
	"github.com/AleutianAI/AleutianScope/services/scope/chart"
	"github.com/AleutianAI/AleutianScope/services/scope/tui"
	"github.com/AleutianAI/AleutianScope/services/scope/viewer"
)

type renderOptions struct {
	show   showOptions
	output string
	format string
	upload bool
}

const pollInterval = 50 * time.Millisecond

// runRender fetches one window through a viewer and writes the chart.
func runRender(ctx context.Context, a *app, o renderOptions, out io.Writer) error {
	format, err := renderFormat(o, a.cfg.Render.Format)
	if err != nil {
		return err
	}

	p, err := a.loadProfile(ctx, false, nil, out)
	if err != nil {
		return err
	}
	if err := o.show.apply(&p); err != nil {
		return err
	}
	p.AutoFresh = false

	series := chart.NewSeries(nil)
	errs := make(chan error, 16)
	v, err := viewer.New(viewer.Config{
		Transport: a.transport(),
		Sink:      series,
		Notifier:  tui.ChannelNotifier(errs),
		Logger:    a.logger,
		Initial:   o.show.request(),
	}, p)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- v.Run(runCtx) }()
	st, err := waitFetched(runCtx, v, errs)
	cancel()
	<-done
	if err != nil {
		return err
	}

	snap := series.Snapshot()
	var buf bytes.Buffer
	title := fmt.Sprintf("%s/%s", st.Key.Topic, st.Key.SeriesID)
	switch format {
	case "png":
		err = chart.RenderPNG(&buf, snap, chart.PNGOptions{
			Title:  title,
			Width:  a.cfg.Render.Width,
			Height: a.cfg.Render.Height,
		})
	default:
		err = chart.RenderHTML(&buf, snap, chart.HTMLOptions{
			Title:    title,
			Subtitle: fmt.Sprintf("%s @%s", st.Window, st.Key.Granularity.Name()),
		})
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}

	path := o.output
	if path == "" {
		path = fmt.Sprintf("%s_%s.%s", st.Key.Topic, st.Key.SeriesID, format)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %d points to %s\n", snap.Len(), path)

	if !o.upload {
		return nil
	}
	client, err := gcs.NewClient(ctx, a.cfg.GCS.Bucket, a.cfg.GCS.Prefix, a.cfg.GCS.KeyPath)
	if err != nil {
		return err
	}
	defer client.Close()
	url, err := client.Upload(ctx, filepath.Base(path), gcs.ContentType(format), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded to %s\n", url)
	return nil
}

// waitFetched polls the viewer until its bounded fetch is over and
// returns the final status, or the first reported error.
func waitFetched(ctx context.Context, v *viewer.Viewer, errs <-chan error) (viewer.Status, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st, err := v.Status(ctx)
		if err != nil {
			return viewer.Status{}, err
		}
		if !st.Fetching {
			select {
			case err := <-errs:
				return st, err
			default:
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return viewer.Status{}, ctx.Err()
		case err := <-errs:
			return viewer.Status{}, err
		case <-ticker.C:
		}
	}
}

// renderFormat picks the output format: flag, then file extension, then
// config default.
func renderFormat(o renderOptions, fallback string) (string, error) {
	format := o.format
	if format == "" && o.output != "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(o.output)), ".")
		if format == "htm" {
			format = "html"
		}
	}
	if format == "" {
		format = fallback
	}
	switch format {
	case "html", "png":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported render format %q (want html or png)", format)
	}
}
