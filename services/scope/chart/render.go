// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	gochart "github.com/wcharczuk/go-chart/v2"
)

// ErrNotEnoughPoints is returned by renderers that need at least two points.
var ErrNotEnoughPoints = errors.New("chart needs at least two points")

// =============================================================================
// HTML (go-echarts)
// =============================================================================

// HTMLOptions configures RenderHTML.
type HTMLOptions struct {
	Title    string
	Subtitle string
	// ZoomStart and ZoomEnd are the initial data-zoom extent in percent.
	ZoomStart float32
	ZoomEnd   float32
}

// RenderHTML writes an interactive line chart page with a data-zoom slider.
func RenderHTML(w io.Writer, snap Snapshot, o HTMLOptions) error {
	if o.ZoomStart == 0 && o.ZoomEnd == 0 {
		o.ZoomStart, o.ZoomEnd = 50, 100
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: o.ZoomStart, End: o.ZoomEnd}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "520px"}),
	)

	x := make([]string, len(snap.X))
	for i, id := range snap.X {
		x[i] = string(id)
	}
	line.SetXAxis(x)

	for i, name := range snap.Names {
		data := make([]opts.LineData, len(snap.Values[i]))
		for j, v := range snap.Values[i] {
			data[j] = opts.LineData{Value: v}
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render html chart: %w", err)
	}
	return nil
}

// =============================================================================
// PNG (go-chart)
// =============================================================================

// PNGOptions configures RenderPNG.
type PNGOptions struct {
	Title  string
	Width  int
	Height int
}

// RenderPNG writes a static line chart with a legend.
func RenderPNG(w io.Writer, snap Snapshot, o PNGOptions) error {
	if snap.Len() < 2 {
		return ErrNotEnoughPoints
	}
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 480
	}

	times := make([]time.Time, len(snap.X))
	for i, id := range snap.X {
		t, err := id.Instant()
		if err != nil {
			return fmt.Errorf("render png chart: %w", err)
		}
		times[i] = t
	}

	series := make([]gochart.Series, 0, len(snap.Names))
	for i, name := range snap.Names {
		series = append(series, gochart.TimeSeries{
			Name:    name,
			XValues: times,
			YValues: snap.Values[i],
			Style: gochart.Style{
				StrokeColor: gochart.GetDefaultColor(i),
				StrokeWidth: 1.5,
			},
		})
	}

	ch := gochart.Chart{
		Title:      o.Title,
		Width:      o.Width,
		Height:     o.Height,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      gochart.XAxis{ValueFormatter: gochart.TimeValueFormatterWithFormat(timeFormat(snap))},
		Series:     series,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render png chart: %w", err)
	}
	return nil
}

func timeFormat(snap Snapshot) string {
	if len(snap.X) > 0 && len(snap.X[0]) <= 10 {
		return "01-02"
	}
	return "15:04:05"
}

// =============================================================================
// Terminal
// =============================================================================

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

var (
	termNameStyle  = lipgloss.NewStyle().Bold(true)
	termValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	termLineStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("170")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
)

// RenderTerminal draws one sparkline row per series, width cells wide,
// with the latest value at the right.
func RenderTerminal(snap Snapshot, width int) string {
	if len(snap.Names) == 0 || snap.Len() == 0 {
		return termValueStyle.Render("no data")
	}

	nameWidth := 0
	for _, n := range snap.Names {
		nameWidth = max(nameWidth, lipgloss.Width(n))
	}
	plotWidth := max(width-nameWidth-14, 8)

	var b strings.Builder
	for i, name := range snap.Names {
		vals := resample(snap.Values[i], plotWidth)
		last := snap.Values[i][len(snap.Values[i])-1]
		row := fmt.Sprintf("%s %s %s",
			termNameStyle.Width(nameWidth).Render(name),
			termLineStyles[i%len(termLineStyles)].Render(sparkline(vals)),
			termValueStyle.Render(formatValue(last)))
		b.WriteString(row)
		if i < len(snap.Names)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// resample picks n evenly spaced values, keeping the last one.
func resample(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	out := make([]float64, n)
	step := float64(len(values)-1) / float64(n-1)
	for i := range out {
		out[i] = values[int(math.Round(float64(i)*step))]
	}
	return out
}

func sparkline(values []float64) string {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func formatValue(v float64) string {
	switch {
	case math.Abs(v) >= 1e9:
		return fmt.Sprintf("%.2fG", v/1e9)
	case math.Abs(v) >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case math.Abs(v) >= 1e3:
		return fmt.Sprintf("%.2fk", v/1e3)
	case v == math.Trunc(v):
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
