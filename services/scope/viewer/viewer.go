// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package viewer owns a live chart: the range cache, the reconciler, the zoom
controller, the stream sessions that feed them, and the user's profile.

# Event Loop

Everything runs on one goroutine started by Run. Stream sessions deliver
records over channels, public methods submit closures to the loop and wait
for their result, and tickers drive host discovery and profile saves. The
loop is the only writer of viewer state, so nothing inside needs a lock.

	┌────────────┐  records   ┌──────────────────────────────────────┐
	│ live tail  │───────────▶│                                      │
	├────────────┤            │  loop: cache ─ reconciler ─ sink     │
	│ bounded    │───────────▶│        zoom controller, profile      │
	└────────────┘            │                                      │
	 Show/Zoom/... ─commands─▶└──────────────┬───────────────────────┘
	                                          │ profile snapshot (30s)
	                                          ▼
	                                     saver goroutine

# Ordering Rules

At most one live-tail and one bounded session are open. Auto-refresh is
turned off before any bounded fetch, so the two never write the cache at
the same time. A failed live tail is reopened after ReconnectDelay for as
long as auto-refresh stays on. A failed bounded fetch is reported through
the Notifier and leaves the window as it was.
*/
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScope/pkg/logging"
	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/derived"
	"github.com/AleutianAI/AleutianScope/services/scope/profile"
	"github.com/AleutianAI/AleutianScope/services/scope/rangecache"
	"github.com/AleutianAI/AleutianScope/services/scope/reconcile"
	"github.com/AleutianAI/AleutianScope/services/scope/stream"
	"github.com/AleutianAI/AleutianScope/services/scope/timekey"
	"github.com/AleutianAI/AleutianScope/services/scope/zoom"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidRange wraps rejected user time ranges.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrAutoRefreshUnsupported is returned when auto-refresh is requested
	// at a granularity that cannot tail, or a coarse unit is picked while
	// auto-refresh is on.
	ErrAutoRefreshUnsupported = errors.New("auto refresh is only available for minute, second and subsecond")

	// ErrFetchPending is returned when an operation needs the bounded
	// fetch slot while a fetch is running.
	ErrFetchPending = errors.New("a fetch is already in progress")

	// ErrFetchFailed is reported to the Notifier when a bounded fetch fails.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrSaveFailed is reported to the Notifier when a profile save fails.
	ErrSaveFailed = errors.New("profile save failed")

	// ErrUnknownTopic is returned by SelectTopic for topics not in the catalog.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnknownAttr is returned by UndefineAttr for undefined names.
	ErrUnknownAttr = errors.New("unknown derived attribute")

	// ErrInvalidAttr is returned by DefineAttr for a missing name.
	ErrInvalidAttr = errors.New("invalid attribute")

	// ErrNoStore is returned by operations that need the profile backend
	// when none is configured.
	ErrNoStore = errors.New("no profile store configured")

	// ErrNotRunning is returned by commands once the loop has stopped.
	ErrNotRunning = errors.New("viewer is not running")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("viewer is already running")
)

// =============================================================================
// Collaborators
// =============================================================================

// Notifier receives errors the user must see: failed bounded fetches and
// failed profile saves. It is called from the viewer's goroutines and must
// not call back into the Viewer synchronously.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

// Notify implements Notifier.
func (f NotifierFunc) Notify(err error) { f(err) }

// AutoState is the auto-refresh state.
type AutoState int

const (
	// AutoOff means no live tail is wanted.
	AutoOff AutoState = iota
	// AutoLive means a live-tail session is open.
	AutoLive
	// AutoWaiting means the live tail dropped and a reconnect is scheduled.
	AutoWaiting
)

func (a AutoState) String() string {
	switch a {
	case AutoOff:
		return "off"
	case AutoLive:
		return "live"
	case AutoWaiting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config wires a Viewer. Transport and Sink are required.
type Config struct {
	Transport stream.Transport
	Sink      reconcile.Sink

	// Store persists the profile. Nil disables saving.
	Store profile.Store

	Notifier Notifier
	Logger   *logging.Logger

	// Initial is the first Show run by Run. The zero value shows the
	// latest lookback of the profile's selection.
	Initial ShowRequest

	// ReconnectDelay is the pause before reopening a failed live tail.
	// Default 5s.
	ReconnectDelay time.Duration

	// SaveInterval is the profile save period. Default 30s.
	SaveInterval time.Duration

	// DiscoveryInterval is the host/attribute discovery period. Default 1s.
	DiscoveryInterval time.Duration

	// ResumeWindow is how close to now the window end must be for
	// auto-refresh to continue from it. Default 10m.
	ResumeWindow time.Duration

	// Now and After default to time.Now and time.After.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = 30 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = time.Second
	}
	if c.ResumeWindow <= 0 {
		c.ResumeWindow = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
}

// =============================================================================
// Viewer
// =============================================================================

// Status is a point-in-time summary of the viewer for display.
type Status struct {
	Key      datatypes.Key
	Window   timekey.Window
	Auto     AutoState
	Zoom     zoom.State
	Fetching bool
	Points   int
	Cached   int
	Series   []string
	Hosts    []string
	Attrs    []string
	Funcs    []string
}

// bounded is the in-flight bounded fetch.
type bounded struct {
	session *stream.Session
	target  timekey.Window
	zoom    bool
}

type command struct {
	fn   func() error
	done chan error
}

// Viewer drives one chart. Create with New, start with Run.
type Viewer struct {
	cfg    Config
	logger *logging.Logger

	cmds    chan command
	stopped chan struct{}
	running atomic.Bool

	// Owned by the loop goroutine.
	runCtx     context.Context
	profile    datatypes.Profile
	funcs      map[string]derived.Func
	topics     datatypes.Topics
	ctx        datatypes.Context
	cache      *rangecache.Cache
	rec        *reconcile.Reconciler
	zoom       *zoom.Controller
	auto       AutoState
	live       *stream.Session
	fetch      *bounded
	reconnect  <-chan time.Time
	resumeAuto bool

	// Written by the loop before stopped is closed.
	final datatypes.Profile
}

// New builds a viewer for p. Derived attributes that fail to compile are
// reported to the Notifier and left out.
func New(cfg Config, p datatypes.Profile) (*Viewer, error) {
	if cfg.Transport == nil {
		return nil, errors.New("viewer: transport is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("viewer: sink is required")
	}
	cfg.applyDefaults()

	p = p.Clone()
	p.ApplyDefaults()
	if !p.Unit.Valid() {
		return nil, fmt.Errorf("viewer: %w: %q", timekey.ErrUnknownGranularity, p.Unit)
	}
	if len(p.Host) == 0 {
		p.Host = []string{datatypes.ClusterHost}
	}

	v := &Viewer{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "viewer"),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		profile: p,
	}
	v.cache = rangecache.New(v.logger)
	v.rec = reconcile.New(v.cache, cfg.Sink, v.logger)
	v.zoom = zoom.New(v.cache, v.logger)

	funcs, err := p.CompileFuncs(p.Topic)
	if err != nil {
		v.logger.Warn("derived attributes failed to compile", "topic", p.Topic, "error", err)
		v.notify(err)
	}
	v.funcs = funcs

	sel, err := v.selector(p.Host, p.Attr, v.funcs)
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}
	window, _ := timekey.ResolveWindow("", "", p.Unit, cfg.Now(), timekey.Window{})
	v.ctx = datatypes.Context{
		Key:      datatypes.Key{Topic: p.Topic, SeriesID: p.ID, Granularity: p.Unit},
		Selector: sel,
		Window:   window,
	}
	v.rec.SetContext(v.ctx)
	return v, nil
}

// selector builds a selector, leaving out derived references that have no
// compiled function.
func (v *Viewer) selector(hosts []string, attrs []datatypes.AttrRef, funcs map[string]derived.Func) (datatypes.Selector, error) {
	kept := make([]datatypes.AttrRef, 0, len(attrs))
	for _, a := range attrs {
		if a.Derived {
			if _, ok := funcs[a.Name]; !ok {
				v.logger.Warn("dropping undefined derived attribute", "name", a.Name)
				continue
			}
		}
		kept = append(kept, a)
	}
	return datatypes.BuildSelector(hosts, kept, funcs)
}

// Run starts the event loop and blocks until ctx is cancelled. On the way
// out it closes every session and saves the profile one last time.
func (v *Viewer) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	saves := make(chan datatypes.Profile, 1)

	g.Go(func() error {
		v.saveLoop(gctx, saves)
		return nil
	})
	g.Go(func() error {
		defer close(saves)
		return v.loop(gctx, saves)
	})
	err := g.Wait()

	if v.cfg.Store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := v.cfg.Store.Save(saveCtx, v.final); serr != nil {
			v.logger.Warn("final profile save failed", "error", serr)
		}
	}
	return err
}

func (v *Viewer) loop(ctx context.Context, saves chan<- datatypes.Profile) error {
	v.runCtx = ctx
	defer func() {
		v.closeLive()
		v.closeFetch()
		v.final = v.profile.Clone()
		close(v.stopped)
	}()

	v.startup()

	discovery := time.NewTicker(v.cfg.DiscoveryInterval)
	defer discovery.Stop()
	save := time.NewTicker(v.cfg.SaveInterval)
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-v.cmds:
			cmd.done <- cmd.fn()

		case msg, ok := <-v.liveC():
			v.onLive(msg, ok)

		case msg, ok := <-v.fetchC():
			v.onFetch(msg, ok)

		case <-v.reconnect:
			v.reconnect = nil
			v.openLive()

		case <-discovery.C:
			v.discover()

		case <-save.C:
			if v.cfg.Store == nil {
				continue
			}
			select {
			case saves <- v.profile.Clone():
			default:
				v.logger.Debug("profile save still running, skipping tick")
			}
		}
	}
}

func (v *Viewer) saveLoop(ctx context.Context, saves <-chan datatypes.Profile) {
	for p := range saves {
		if err := v.cfg.Store.Save(ctx, p); err != nil {
			if ctx.Err() != nil {
				continue
			}
			v.logger.Warn("profile save failed", "error", err)
			v.notify(fmt.Errorf("%w: %w", ErrSaveFailed, err))
		}
	}
}

// startup shows the initial window and, if the profile asks for it,
// starts tailing once that fetch is done.
func (v *Viewer) startup() {
	wantAuto := v.profile.AutoFresh
	if err := v.show(v.cfg.Initial); err != nil {
		v.logger.Warn("initial show failed", "error", err)
		v.notify(err)
		return
	}
	if !wantAuto || !v.profile.Unit.LiveCapable() {
		return
	}
	if v.fetch != nil {
		v.resumeAuto = true
		return
	}
	_ = v.enableAuto()
}

// call runs fn on the loop and returns its error.
func (v *Viewer) call(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case v.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-v.stopped:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Viewer) notify(err error) {
	if v.cfg.Notifier != nil && err != nil {
		v.cfg.Notifier.Notify(err)
	}
}

func (v *Viewer) liveC() <-chan stream.Message {
	if v.live == nil {
		return nil
	}
	return v.live.C()
}

func (v *Viewer) fetchC() <-chan stream.Message {
	if v.fetch == nil {
		return nil
	}
	return v.fetch.session.C()
}
