package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
	"pricewatch/internal/overlay"
)

// errNoPoints is returned when the upstream answers with an empty history.
// An empty answer never replaces the cache.
var errNoPoints = errors.New("provider returned no points")

// View is the caller-owned display configuration for one Load.
type View struct {
	Window    model.TimeRange
	Selection model.Selection
}

// State is a snapshot of everything a presenter needs.
type State struct {
	// FullHistory is the retained history overlays are computed from.
	FullHistory model.Series

	// Display is the slice of history inside Window. For hourly windows it
	// may come from a short-range fetch instead of FullHistory.
	Display model.Series

	Overlays model.OverlaySet
	Band     *model.Band

	LatestValue float64
	HasLatest   bool

	Loading   bool
	LastError string

	Window     model.TimeRange
	Selection  model.Selection
	UpdatedAt  time.Time
	ShortRange bool
}

func (s State) clone() State {
	s.Selection = s.Selection.Clone()
	if s.Overlays != nil {
		ov := make(model.OverlaySet, len(s.Overlays))
		for k, v := range s.Overlays {
			ov[k] = v
		}
		s.Overlays = ov
	}
	return s
}

// Options configures a Coordinator. Zero values pick defaults.
type Options struct {
	Category model.Category
	Policy   Policy
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time

	// Initial is the view presented before the first Load.
	Initial View
}

type shortRange struct {
	window    model.TimeRange
	fetchedAt time.Time
	series    model.Series
}

// Coordinator serves cached history immediately, refreshes it from the
// provider when the policy says so, and keeps overlays in step with both
// the history and the overlay selection.
//
// All methods are safe for concurrent use. At most one Load runs at a time.
type Coordinator struct {
	store    model.SeriesStore
	provider model.SeriesProvider
	quotes   model.QuoteProvider

	category model.Category
	policy   Policy
	prom     *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	loading atomic.Bool

	mu    sync.RWMutex
	state State
	short *shortRange

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New creates a Coordinator over store and provider. When provider also
// implements model.QuoteProvider, every Load fetches the current quote too.
func New(store model.SeriesStore, provider model.SeriesProvider, opts Options) *Coordinator {
	if opts.Category == "" {
		opts.Category = model.CategoryPrice
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Initial.Window == "" {
		opts.Initial.Window = model.DefaultRange
	}
	if opts.Initial.Selection == nil {
		opts.Initial.Selection = model.DefaultSelection()
	}

	c := &Coordinator{
		store:    store,
		provider: provider,
		category: opts.Category,
		policy:   opts.Policy,
		prom:     opts.Metrics,
		log:      opts.Logger.With("component", "refresh", "category", string(opts.Category)),
		now:      opts.Now,
		subs:     make(map[int]func(State)),
		state: State{
			Window:    opts.Initial.Window,
			Selection: opts.Initial.Selection.Clone(),
		},
	}
	if q, ok := provider.(model.QuoteProvider); ok {
		c.quotes = q
	}
	return c
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Subscribe registers fn to be called with a fresh State after every change.
// fn runs on the goroutine that made the change and must not block.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) publish() {
	st := c.State()
	c.subMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// NeedsRefresh reports whether the stored history is missing, stale or too
// short. A store read failure counts as needing a refresh.
func (c *Coordinator) NeedsRefresh(ctx context.Context) bool {
	start := time.Now()
	oldest, ok, err := c.store.Oldest(ctx, c.category)
	c.prom.ObserveStore("oldest", start)
	if err != nil {
		c.log.Warn("oldest point lookup failed", "error", err)
		return true
	}
	if !ok {
		return true
	}

	start = time.Now()
	newest, ok, err := c.store.Latest(ctx, c.category)
	c.prom.ObserveStore("latest", start)
	if err != nil {
		c.log.Warn("latest point lookup failed", "error", err)
		return true
	}
	if !ok {
		return true
	}
	return c.policy.NeedsRefresh(oldest.TS, newest.TS, c.now())
}

// ToggleOverlay flips kind in the current selection and recomputes overlays
// from the in-memory history. It touches neither the store nor the provider.
// The new selection is returned for the caller to persist.
func (c *Coordinator) ToggleOverlay(kind model.OverlayKind) model.Selection {
	c.mu.Lock()
	c.state.Selection = c.state.Selection.Toggle(kind)
	c.recomputeLocked()
	sel := c.state.Selection.Clone()
	c.mu.Unlock()

	c.publish()
	return sel
}

// Load presents cached history for view, then refreshes from the provider
// when needed.
//
// If another Load is in flight it returns nil at once without reading the
// store or calling the provider. Otherwise it returns the first refresh error,
// which is also recorded in State.LastError. Cache read failures are logged
// and served as an empty history; they are never returned.
func (c *Coordinator) Load(ctx context.Context, view View) error {
	_, err := c.TryLoad(ctx, view)
	return err
}

// TryLoad is Load that also reports whether it ran. ran is false, with a nil
// error, when another Load was already in flight.
func (c *Coordinator) TryLoad(ctx context.Context, view View) (ran bool, err error) {
	if !c.loading.CompareAndSwap(false, true) {
		c.prom.Skipped()
		return false, nil
	}
	defer c.loading.Store(false)
	return true, c.load(ctx, view)
}

func (c *Coordinator) load(ctx context.Context, view View) error {
	now := c.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(string(c.category), now))
	log := c.log.With(logger.LogWithTrace(ctx)...)

	c.mu.Lock()
	if view.Window != "" && view.Window != c.state.Window {
		c.short = nil
		c.state.Window = view.Window
	}
	if view.Selection != nil {
		c.state.Selection = view.Selection.Clone()
	}
	c.state.Loading = true
	c.state.LastError = ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state.Loading = false
		c.mu.Unlock()
		c.publish()
	}()

	// (a)+(b) cache first
	history, _ := c.readCache(ctx, log)
	c.mu.Lock()
	c.setHistoryLocked(history)
	window := c.state.Window
	c.mu.Unlock()
	c.publish()

	// (c) refresh
	needHistory := c.NeedsRefresh(ctx)
	needShort := c.needsShort(window, now)
	needQuote := c.quotes != nil
	if !needHistory && !needShort && !needQuote {
		c.prom.Refresh("fresh")
		log.Debug("cache fresh, no fetch")
		return nil
	}

	var (
		g       errgroup.Group
		fetched model.Series
		short   model.Series
		quote   model.Point
	)
	var histErr, shortErr, quoteErr error
	if needHistory {
		g.Go(func() error {
			fetched, histErr = c.fetchHistory(ctx)
			return histErr
		})
	}
	if needShort {
		g.Go(func() error {
			short, shortErr = c.fetchShort(ctx, window)
			return shortErr
		})
	}
	if needQuote {
		g.Go(func() error {
			quote, quoteErr = c.fetchQuote(ctx)
			return quoteErr
		})
	}
	firstErr := g.Wait()

	c.mu.Lock()
	if shortErr == nil && needShort {
		c.short = &shortRange{window: window, fetchedAt: now, series: short}
	}
	if quoteErr == nil && needQuote {
		c.state.LatestValue = quote.Value
		c.state.HasLatest = true
	}
	if histErr == nil && needHistory {
		c.setHistoryLocked(fetched)
		if !needQuote || quoteErr != nil {
			if last, ok := fetched.Last(); ok {
				c.state.LatestValue = last.Value
				c.state.HasLatest = true
			}
		}
	} else {
		c.recomputeLocked()
	}
	if firstErr != nil {
		c.state.LastError = firstErr.Error()
	}
	c.state.UpdatedAt = c.now()
	c.mu.Unlock()
	c.publish()

	if histErr != nil {
		c.prom.Refresh("fetch_error")
		log.Warn("history refresh failed, keeping cached data", "error", histErr)
		return firstErr
	}

	if needHistory {
		if err := c.persist(ctx, fetched); err != nil {
			c.prom.Refresh("persist_error")
			log.Error("history replace failed, display kept from memory", "error", err)
			c.mu.Lock()
			c.state.LastError = err.Error()
			c.mu.Unlock()
			return err
		}

		// Re-present from the store so the display reflects what was persisted.
		if stored, ok := c.readCache(ctx, log); ok {
			c.mu.Lock()
			c.setHistoryLocked(stored)
			c.mu.Unlock()
		}
		log.Info("history refreshed", "points", len(fetched))
	}

	if firstErr != nil {
		c.prom.Refresh("fetch_error")
		log.Warn("partial refresh failure", "error", firstErr)
		return firstErr
	}
	c.prom.Refresh("ok")
	return nil
}

// readCache returns the full retained history. ok is false when the read
// failed and an empty series was substituted.
func (c *Coordinator) readCache(ctx context.Context, log *slog.Logger) (model.Series, bool) {
	start := time.Now()
	s, err := c.store.Fetch(ctx, c.category, nil, 0)
	c.prom.ObserveStore("fetch", start)
	if err != nil {
		c.prom.StoreReadError()
		log.Warn("cache read failed, serving empty history", "error", err)
		return nil, false
	}
	return s, true
}

func (c *Coordinator) persist(ctx context.Context, s model.Series) error {
	start := time.Now()
	err := c.store.ReplaceAll(ctx, c.category, s)
	c.prom.ObserveStore("replace", start)
	if err != nil && !model.IsPersistence(err) {
		err = &model.PersistenceError{Op: "replace", Category: string(c.category), Err: err}
	}
	return err
}

func (c *Coordinator) fetchHistory(ctx context.Context) (model.Series, error) {
	start := time.Now()
	s, err := c.provider.FetchFullHistory(ctx, c.category)
	c.prom.ObserveFetch("history", start)
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, &model.DecodeError{Op: "history", Err: errNoPoints}
	}
	return s.Sorted(), nil
}

func (c *Coordinator) fetchShort(ctx context.Context, window model.TimeRange) (model.Series, error) {
	start := time.Now()
	s, err := c.provider.FetchRange(ctx, c.category, window.Days())
	c.prom.ObserveFetch("range", start)
	if err != nil {
		return nil, fmt.Errorf("short range %s: %w", window, err)
	}
	return s.Sorted(), nil
}

func (c *Coordinator) fetchQuote(ctx context.Context) (model.Point, error) {
	start := time.Now()
	p, err := c.quotes.FetchQuote(ctx, c.category)
	c.prom.ObserveFetch("quote", start)
	if err != nil {
		return model.Point{}, fmt.Errorf("quote: %w", err)
	}
	return p, nil
}

// needsShort reports whether window is hourly and has no usable short-range
// series cached in memory.
func (c *Coordinator) needsShort(window model.TimeRange, now time.Time) bool {
	if !window.IsShort() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.short == nil || c.short.window != window {
		return true
	}
	return now.Sub(c.short.fetchedAt) >= c.policy.StaleAfter
}

// setHistoryLocked installs a new full history and recomputes everything
// derived from it. c.mu must be held.
func (c *Coordinator) setHistoryLocked(history model.Series) {
	c.state.FullHistory = history
	c.prom.SetCachedPoints(len(history))
	if !c.state.HasLatest {
		if last, ok := history.Last(); ok {
			c.state.LatestValue = last.Value
			c.state.HasLatest = true
		}
	}
	c.recomputeLocked()
}

// recomputeLocked rebuilds the display slice and overlays. c.mu must be held.
func (c *Coordinator) recomputeLocked() {
	now := c.now()
	windowStart := c.state.Window.Start(now)

	if c.short != nil && c.short.window == c.state.Window && len(c.short.series) > 0 {
		c.state.Display = c.short.series.Since(windowStart)
		c.state.ShortRange = true
	} else {
		c.state.Display = c.state.FullHistory.Since(windowStart)
		c.state.ShortRange = false
	}

	start := time.Now()
	res := overlay.Compose(c.state.FullHistory, c.state.Selection, windowStart)
	c.prom.ObserveOverlay(time.Since(start))

	c.state.Overlays = res.Lines
	c.state.Band = res.Band
	c.state.UpdatedAt = now
}
