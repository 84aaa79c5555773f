// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the interactive terminal front end of `scope watch`.
//
// # Description
//
// The model draws the chart held by a chart.Series and forwards gestures
// to a viewer: arrow keys move a zoom extent over the loaded points, and
// reaching either edge with the same width asks the viewer for older or
// newer data, the way dragging a chart's zoom handle would.
//
// # Thread Safety
//
// The model lives inside the bubbletea event loop. Viewer calls run in
// tea.Cmd goroutines and report back with messages.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianScope/services/scope/chart"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/viewer"
	"github.com/AleutianAI/AleutianScope/services/scope/zoom"
)

// =============================================================================
// Controller
// =============================================================================

// Controller is the part of *viewer.Viewer the TUI drives.
type Controller interface {
	Status(ctx context.Context) (viewer.Status, error)
	Show(ctx context.Context, req viewer.ShowRequest) error
	Zoom(ctx context.Context, ext zoom.Extent) error
	SetAutoRefresh(ctx context.Context, on bool) error
	SetGranularity(ctx context.Context, g timekey.Granularity) error
	SelectTopic(ctx context.Context, topic string) ([]string, error)
	DefineAttr(ctx context.Context, name, body string) error
	UndefineAttr(ctx context.Context, name string) error
	Save(ctx context.Context) error
}

var _ Controller = (*viewer.Viewer)(nil)

// ChannelNotifier returns a viewer.Notifier that forwards errors to ch,
// dropping them when ch is full.
func ChannelNotifier(ch chan<- error) viewer.NotifierFunc {
	return func(err error) {
		select {
		case ch <- err:
		default:
		}
	}
}

// =============================================================================
// Messages
// =============================================================================

type tickMsg time.Time

type statusMsg struct {
	status viewer.Status
	err    error
}

type resultMsg struct {
	action string
	err    error
}

type notifyMsg struct{ err error }

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	liveStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	chartBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const (
	panStep     = 10.0
	minWidth    = 5.0
	callTimeout = 5 * time.Second
)

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the watch screen.
type Model struct {
	ctl      Controller
	snapshot func() chart.Snapshot
	errs     <-chan error
	refresh  time.Duration

	keys       keyMap
	help       help.Model
	input      textinput.Model
	commanding bool

	extent  zoom.Extent
	status  viewer.Status
	snap    chart.Snapshot
	message string
	isErr   bool

	width  int
	height int
}

// New returns a model. snapshot is polled every refresh interval; errs
// carries asynchronous failures reported by the viewer and may be nil.
func New(ctl Controller, snapshot func() chart.Snapshot, errs <-chan error) Model {
	ti := textinput.New()
	ti.Prompt = ": "
	ti.CharLimit = 512
	ti.Placeholder = "show 10:00 10:30 | unit m | topic cpu | define busy user+sys"

	return Model{
		ctl:      ctl,
		snapshot: snapshot,
		errs:     errs,
		refresh:  500 * time.Millisecond,
		keys:     defaultKeyMap(),
		help:     help.New(),
		input:    ti,
		extent:   zoom.InitialExtent,
		width:    80,
		height:   24,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.fetchStatus(), m.waitNotify())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tickMsg:
		m.snap = m.snapshot()
		return m, tea.Batch(m.tick(), m.fetchStatus())

	case statusMsg:
		if msg.err == nil {
			m.status = msg.status
		}
		return m, nil

	case resultMsg:
		m.setResult(msg.action, msg.err)
		return m, m.fetchStatus()

	case notifyMsg:
		m.setResult("", msg.err)
		return m, m.waitNotify()

	case tea.KeyMsg:
		if m.commanding {
			return m.updateCommand(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) setResult(action string, err error) {
	switch {
	case err != nil:
		m.message, m.isErr = err.Error(), true
	case action != "":
		m.message, m.isErr = action, false
	}
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.PanLeft):
		m.extent = pan(m.extent, -panStep)
		return m, m.zoom(m.extent)
	case key.Matches(msg, m.keys.PanRight):
		m.extent = pan(m.extent, panStep)
		return m, m.zoom(m.extent)
	case key.Matches(msg, m.keys.ZoomIn):
		m.extent = rescale(m.extent, 0.5)
		return m, m.zoom(m.extent)
	case key.Matches(msg, m.keys.ZoomOut):
		m.extent = rescale(m.extent, 2)
		return m, m.zoom(m.extent)
	case key.Matches(msg, m.keys.Auto):
		on := m.status.Auto == viewer.AutoOff
		return m, m.run("auto refresh", func(ctx context.Context) error {
			return m.ctl.SetAutoRefresh(ctx, on)
		})
	case key.Matches(msg, m.keys.Unit):
		next := nextGranularity(m.status.Key.Granularity)
		m.extent = zoom.InitialExtent
		return m, m.run("unit "+next.Name(), func(ctx context.Context) error {
			return applyUnit(ctx, m.ctl, next)
		})
	case key.Matches(msg, m.keys.Refresh):
		m.extent = zoom.InitialExtent
		return m, m.run("show", func(ctx context.Context) error {
			return m.ctl.Show(ctx, viewer.ShowRequest{})
		})
	case key.Matches(msg, m.keys.Save):
		return m, m.run("saved", m.ctl.Save)
	case key.Matches(msg, m.keys.Command):
		m.commanding = true
		m.input.SetValue("")
		return m, m.input.Focus()
	}
	return m, nil
}

func (m Model) updateCommand(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.commanding = false
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		line := m.input.Value()
		m.commanding = false
		m.input.Blur()
		c, err := parseCommand(line)
		if err != nil {
			m.setResult("", err)
			return m, nil
		}
		if c.resetExtent {
			m.extent = zoom.InitialExtent
		}
		return m, m.run(c.label, func(ctx context.Context) error { return c.run(ctx, m.ctl) })
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteByte('\n')

	plot := chart.RenderTerminal(Visible(m.snap, m.extent), max(m.width-4, 20))
	b.WriteString(chartBorder.Width(max(m.width-2, 20)).Render(plot))
	b.WriteByte('\n')

	b.WriteString(metaStyle.Render(fmt.Sprintf("extent %.0f%%-%.0f%%  %d points  %d cached",
		m.extent.Start, m.extent.End, m.status.Points, m.status.Cached)))
	b.WriteByte('\n')

	if m.message != "" {
		if m.isErr {
			b.WriteString(errorStyle.Render(m.message))
		} else {
			b.WriteString(okStyle.Render(m.message))
		}
		b.WriteByte('\n')
	}
	if m.commanding {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) header() string {
	st := m.status
	title := titleStyle.Render(fmt.Sprintf("%s/%s", st.Key.Topic, st.Key.SeriesID))
	unit := metaStyle.Render("@" + st.Key.Granularity.Name())
	window := metaStyle.Render(st.Window.String())

	var auto string
	switch st.Auto {
	case viewer.AutoLive:
		auto = liveStyle.Render("● live")
	case viewer.AutoWaiting:
		auto = errorStyle.Render("○ reconnecting")
	default:
		auto = metaStyle.Render("○ paused")
	}
	parts := []string{title, unit, window, auto}
	if st.Fetching {
		parts = append(parts, metaStyle.Render("fetching…"))
	}
	return strings.Join(parts, "  ")
}

// =============================================================================
// Commands
// =============================================================================

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchStatus() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		st, err := ctl.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m Model) waitNotify() tea.Cmd {
	if m.errs == nil {
		return nil
	}
	errs := m.errs
	return func() tea.Msg {
		err, ok := <-errs
		if !ok {
			return nil
		}
		return notifyMsg{err: err}
	}
}

func (m Model) zoom(ext zoom.Extent) tea.Cmd {
	return m.run("", func(ctx context.Context) error { return m.ctl.Zoom(ctx, ext) })
}

func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}

// =============================================================================
// Extent helpers
// =============================================================================

// pan moves ext by delta percent, keeping its width and clamping to [0,100].
func pan(ext zoom.Extent, delta float64) zoom.Extent {
	w := ext.Width()
	start := math.Min(math.Max(ext.Start+delta, 0), 100-w)
	return zoom.Extent{Start: start, End: start + w}
}

// rescale multiplies the width by factor, keeping the right edge.
func rescale(ext zoom.Extent, factor float64) zoom.Extent {
	w := math.Min(math.Max(ext.Width()*factor, minWidth), 100)
	end := ext.End
	start := end - w
	if start < 0 {
		start, end = 0, w
	}
	return zoom.Extent{Start: start, End: end}
}

// Visible returns the part of snap inside ext.
func Visible(snap chart.Snapshot, ext zoom.Extent) chart.Snapshot {
	n := snap.Len()
	if n == 0 {
		return snap
	}
	lo := int(math.Floor(float64(n) * ext.Start / 100))
	hi := int(math.Ceil(float64(n) * ext.End / 100))
	lo = min(max(lo, 0), n)
	hi = min(max(hi, lo), n)

	out := chart.Snapshot{Names: snap.Names, X: snap.X[lo:hi], Values: make([][]float64, len(snap.Values))}
	for i, v := range snap.Values {
		out.Values[i] = v[lo:hi]
	}
	return out
}

func nextGranularity(g timekey.Granularity) timekey.Granularity {
	for i, x := range timekey.All {
		if x == g {
			return timekey.All[(i+1)%len(timekey.All)]
		}
	}
	return timekey.Second
}
