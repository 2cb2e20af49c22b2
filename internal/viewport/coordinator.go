// Package viewport decides when to ask the remote source for points of
// interest as the map moves, and hands the decluttered result to the
// renderer.
package viewport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/core/geo"
	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
	"github.com/mohammed-shakir/geonav-cache/internal/declutter"
	"github.com/mohammed-shakir/geonav-cache/internal/logger"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
)

const (
	DefaultDebounce     = 1500 * time.Millisecond
	DefaultMoveFraction = 0.3
)

type State int

const (
	Idle State = iota
	Debouncing
	Fetching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Fetching:
		return "fetching"
	}
	return "unknown"
}

// Fetcher returns the complete point set for a region.
type Fetcher interface {
	FetchPOIs(ctx context.Context, b model.Bounds) ([]model.POI, error)
}

type FetcherFunc func(ctx context.Context, b model.Bounds) ([]model.POI, error)

func (f FetcherFunc) FetchPOIs(ctx context.Context, b model.Bounds) ([]model.POI, error) {
	return f(ctx, b)
}

// Renderer receives every new visible set. It is called with the
// coordinator's lock held and must not call back into the coordinator.
type Renderer interface {
	Render(visible []declutter.Placed)
}

type RendererFunc func(visible []declutter.Placed)

func (f RendererFunc) Render(visible []declutter.Placed) { f(visible) }

// FetchResult describes one completed fetch.
type FetchResult struct {
	Bounds   model.Bounds
	Count    int
	Err      error
	Duration time.Duration
	At       time.Time
}

type Config struct {
	Debounce time.Duration
	// MoveFraction of the last fetched viewport's width the center has to
	// move before a new fetch is worth it.
	MoveFraction float64
	Rules        model.ZoomRules
	Declutter    declutter.Options
}

func DefaultConfig() Config {
	return Config{
		Debounce:     DefaultDebounce,
		MoveFraction: DefaultMoveFraction,
		Rules:        model.DefaultZoomRules(),
		Declutter:    declutter.DefaultOptions(),
	}
}

type Option func(*Coordinator)

func WithClock(c Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

func WithRetrier(r *retry.Retrier) Option {
	return func(co *Coordinator) {
		if r != nil {
			co.retrier = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) {
		if l != nil {
			co.log = l
		}
	}
}

func WithRenderer(r Renderer) Option {
	return func(co *Coordinator) { co.renderer = r }
}

// WithFetchObserver is called after every completed fetch, outside the
// coordinator's lock.
func WithFetchObserver(f func(ctx context.Context, r FetchResult)) Option {
	return func(co *Coordinator) { co.observer = f }
}

// WithSession tags log lines with the viewport session.
func WithSession(id string) Option {
	return func(co *Coordinator) { co.session = id }
}

// Coordinator owns the fetch gate: at most one pending debounce timer and
// at most one fetch in flight. It implements Subscriber.
type Coordinator struct {
	cfg      Config
	fetcher  Fetcher
	retrier  *retry.Retrier
	clock    Clock
	log      *slog.Logger
	renderer Renderer
	observer func(ctx context.Context, r FetchResult)
	session  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	timer       Timer
	gen         uint64
	inFlight    bool
	lastFetched *model.Bounds
	current     *model.Viewport
	points      []model.POI
	visible     []declutter.Placed
	closed      bool
}

var _ Subscriber = (*Coordinator)(nil)

func New(f Fetcher, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MoveFraction <= 0 {
		cfg.MoveFraction = def.MoveFraction
	}
	if cfg.Rules.MinZoom == nil {
		cfg.Rules = def.Rules
	}
	if cfg.Declutter.MinSeparationPx <= 0 {
		cfg.Declutter.MinSeparationPx = def.Declutter.MinSeparationPx
	}
	cfg.Declutter.Rules = cfg.Rules

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:     cfg,
		fetcher: f,
		clock:   SystemClock,
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.DefaultConfig(), retry.WithName("fetch_pois"), retry.WithLogger(c.log))
	}
	c.ctx = logger.WithComponent(c.ctx, "viewport")
	c.ctx = logger.WithSession(c.ctx, c.session)
	return c
}

// Attach subscribes the coordinator to p.
func (c *Coordinator) Attach(p Publisher) (unsubscribe func()) {
	return p.Subscribe(c)
}

// ViewportChanged handles one viewport event. Below the zoom floor the
// known points are discarded and nothing is scheduled; otherwise the
// debounce timer is restarted.
func (c *Coordinator) ViewportChanged(vp model.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.current = &vp

	if vp.Zoom < c.cfg.Rules.Floor() {
		c.stopTimerLocked()
		c.points = nil
		c.lastFetched = nil
		observability.IncViewportDecision("below_floor")
		c.renderLocked()
		return
	}

	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
	observability.IncViewportDecision("debounced")

	// the projection changed, so positions and overlaps changed too
	c.renderLocked()
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// invalidates a callback that was already running when Stop was called
	c.gen++
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil

	if c.inFlight {
		c.mu.Unlock()
		observability.IncViewportDecision("dropped_inflight")
		c.log.DebugContext(c.ctx, "fetch in flight; dropping trigger")
		return
	}

	vp := *c.current
	if c.lastFetched != nil {
		threshold := c.cfg.MoveFraction * geo.WidthMeters(*c.lastFetched)
		moved := geo.CenterDistanceMeters(*c.lastFetched, vp.Bounds)
		if moved < threshold {
			c.mu.Unlock()
			observability.IncViewportDecision("dropped_unchanged")
			c.log.DebugContext(c.ctx, "viewport barely moved; keeping points",
				"moved_m", moved, "threshold_m", threshold)
			return
		}
	}

	c.inFlight = true
	b := vp.Bounds
	c.lastFetched = &b
	c.wg.Add(1)
	c.mu.Unlock()

	observability.IncViewportDecision("fetched")
	go c.fetch(&b)
}

// fetch loads points for *lf, the bounds recorded as last fetched.
func (c *Coordinator) fetch(lf *model.Bounds) {
	defer c.wg.Done()

	b := *lf
	ctx := c.ctx
	start := c.clock.Now()
	pts, err := retry.Do(ctx, c.retrier, func(ctx context.Context) ([]model.POI, error) {
		return c.fetcher.FetchPOIs(ctx, b)
	})
	dur := c.clock.Now().Sub(start)
	if err != nil {
		// points are an optional overlay; show none rather than fail
		c.log.WarnContext(ctx, "poi fetch failed; clearing points",
			"bounds", b.String(), "region", geo.RegionCell(b.Center()), "err", err)
		pts = nil
	}
	observability.ObservePOIFetch(err == nil, dur.Seconds(), len(pts))

	c.mu.Lock()
	c.inFlight = false
	// a failed area must not suppress the next small pan
	if err != nil && c.lastFetched == lf {
		c.lastFetched = nil
	}
	if !c.closed {
		c.points = pts
		c.renderLocked()
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer(ctx, FetchResult{Bounds: b, Count: len(pts), Err: err, Duration: dur, At: c.clock.Now()})
	}
}

func (c *Coordinator) renderLocked() {
	var vis []declutter.Placed
	if c.current != nil && len(c.points) > 0 {
		vis = declutter.Place(c.points, c.current.Zoom, c.current.Projector, c.cfg.Declutter)
	}
	c.visible = vis
	if c.renderer != nil {
		out := make([]declutter.Placed, len(vis))
		copy(out, vis)
		c.renderer.Render(out)
	}
}

// Visible returns the current decluttered set.
func (c *Coordinator) Visible() []declutter.Placed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]declutter.Placed, len(c.visible))
	copy(out, c.visible)
	return out
}

// Points returns every known point, visible or not.
func (c *Coordinator) Points() []model.POI {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.POI, len(c.points))
	copy(out, c.points)
	return out
}

// LastFetched returns the bounds of the most recent fetch, if any.
func (c *Coordinator) LastFetched() (model.Bounds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFetched == nil {
		return model.Bounds{}, false
	}
	return *c.lastFetched, true
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inFlight:
		return Fetching
	case c.timer != nil:
		return Debouncing
	}
	return Idle
}

// Close cancels the pending timer and any fetch in flight and waits for
// the fetch goroutine to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Wait blocks until the fetch in flight, if any, has completed.
func (c *Coordinator) Wait() { c.wg.Wait() }
