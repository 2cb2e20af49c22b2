package viewport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/declutter"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
)

// manual clock; timers fire inside Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []model.Bounds
	pts   []model.POI
	err   error
	block chan struct{}
}

func (f *fakeFetcher) FetchPOIs(ctx context.Context, b model.Bounds) ([]model.POI, error) {
	f.mu.Lock()
	f.calls = append(f.calls, b)
	pts, err, block := f.pts, f.err, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return pts, err
}

func (f *fakeFetcher) set(pts []model.POI, err error) {
	f.mu.Lock()
	f.pts, f.err = pts, err
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) call(i int) model.Bounds {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// box is a square viewport centered at (lat, lng) with half-size h degrees.
func box(lat, lng, h float64) model.Bounds {
	return model.Bounds{
		SouthWest: model.Point{Lat: lat - h, Lng: lng - h},
		NorthEast: model.Point{Lat: lat + h, Lng: lng + h},
	}
}

var flat = model.ProjectorFunc(func(p model.Point) model.ScreenPoint {
	return model.ScreenPoint{X: p.Lng * 100000, Y: -p.Lat * 100000}
})

func vp(b model.Bounds, zoom int) model.Viewport {
	return model.Viewport{Bounds: b, Zoom: zoom, Projector: flat}
}

func noRetry() *retry.Retrier {
	return retry.New(retry.Config{Attempts: 1, Delay: 0, Factor: 2})
}

func newTestCoordinator(t *testing.T, f Fetcher, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	all := append([]Option{WithClock(clk), WithRetrier(noRetry())}, opts...)
	c := New(f, DefaultConfig(), all...)
	t.Cleanup(c.Close)
	return c, clk
}

func TestMovementThreshold(t *testing.T) {
	const h = 0.01 // viewport ~2.2km wide, threshold ~670m

	cases := []struct {
		name  string
		delta float64
		want  int
	}{
		{"small pan reuses points", 0.003, 1},
		{"large pan refetches", 0.01, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeFetcher{}
			c, clk := newTestCoordinator(t, f)

			c.ViewportChanged(vp(box(0, 0, h), 15))
			clk.Advance(DefaultDebounce)
			c.Wait()

			c.ViewportChanged(vp(box(0, tc.delta, h), 15))
			clk.Advance(DefaultDebounce)
			c.Wait()

			if got := f.callCount(); got != tc.want {
				t.Fatalf("fetches=%d want %d", got, tc.want)
			}
		})
	}
}

func TestTrailingDebounce_ThreePansOneFetch(t *testing.T) {
	f := &fakeFetcher{}
	c, clk := newTestCoordinator(t, f)

	b1, b2, b3 := box(0, 0, 0.01), box(0, 0.05, 0.01), box(0, 0.1, 0.01)
	c.ViewportChanged(vp(b1, 15))
	clk.Advance(200 * time.Millisecond)
	c.ViewportChanged(vp(b2, 15))
	clk.Advance(200 * time.Millisecond)
	c.ViewportChanged(vp(b3, 15))

	if st := c.State(); st != Debouncing {
		t.Fatalf("state=%s want debouncing", st)
	}
	if n := clk.pending(); n != 1 {
		t.Fatalf("pending timers=%d want 1", n)
	}

	clk.Advance(DefaultDebounce - time.Millisecond)
	c.Wait()
	if n := f.callCount(); n != 0 {
		t.Fatalf("fetched %d times before the quiet period ended", n)
	}

	clk.Advance(time.Millisecond)
	c.Wait()
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetches=%d want 1", n)
	}
	if got := f.call(0); got != b3 {
		t.Fatalf("fetched %v want B3 %v", got, b3)
	}
	if lf, ok := c.LastFetched(); !ok || lf != b3 {
		t.Fatalf("last fetched=%v,%v want B3", lf, ok)
	}
	if st := c.State(); st != Idle {
		t.Fatalf("state=%s want idle", st)
	}
}

func TestBelowFloor_DiscardsPointsAndCancelsTimer(t *testing.T) {
	f := &fakeFetcher{pts: []model.POI{{ID: "a", Category: model.CategoryAirport, Lat: 0, Lng: 0}}}
	c, clk := newTestCoordinator(t, f)

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if len(c.Points()) != 1 {
		t.Fatalf("points=%v", c.Points())
	}

	// pending timer from a pan, then zoom out below every category minimum
	c.ViewportChanged(vp(box(0, 1, 0.01), 15))
	c.ViewportChanged(vp(box(0, 1, 0.5), 12))

	if len(c.Points()) != 0 || len(c.Visible()) != 0 {
		t.Fatalf("points=%v visible=%v want none", c.Points(), c.Visible())
	}
	if _, ok := c.LastFetched(); ok {
		t.Fatal("last fetched bounds should be cleared")
	}
	if n := clk.pending(); n != 0 {
		t.Fatalf("pending timers=%d want 0", n)
	}
	clk.Advance(10 * DefaultDebounce)
	c.Wait()
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetches=%d want 1", n)
	}
	if st := c.State(); st != Idle {
		t.Fatalf("state=%s want idle", st)
	}

	// back above the floor the same region is fetched again
	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if n := f.callCount(); n != 2 {
		t.Fatalf("fetches=%d want 2", n)
	}
}

func TestSecondTriggerWhileFetching_IsDropped(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	c, clk := newTestCoordinator(t, f)

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	if st := c.State(); st != Fetching {
		t.Fatalf("state=%s want fetching", st)
	}

	c.ViewportChanged(vp(box(0, 1, 0.01), 15))
	clk.Advance(DefaultDebounce)

	close(f.block)
	c.Wait()
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetches=%d want 1 (no queueing)", n)
	}
}

// A result for a viewport the user already left is still committed: the
// last completed fetch wins.
func TestLateResultForOldViewportIsCommitted(t *testing.T) {
	old := []model.POI{{ID: "old", Category: model.CategoryAirport, Lat: 0, Lng: 0}}
	f := &fakeFetcher{pts: old, block: make(chan struct{})}
	c, clk := newTestCoordinator(t, f)

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)

	c.ViewportChanged(vp(box(10, 10, 0.01), 15))
	clk.Advance(DefaultDebounce)

	close(f.block)
	c.Wait()

	pts := c.Points()
	if len(pts) != 1 || pts[0].ID != "old" {
		t.Fatalf("points=%v want the late result", pts)
	}
}

func TestFailedFetch_SwallowedAsEmptySet(t *testing.T) {
	f := &fakeFetcher{pts: []model.POI{{ID: "a", Category: model.CategoryAirport}}}
	var results []FetchResult
	var mu sync.Mutex
	clk := newFakeClock()
	c := New(f, DefaultConfig(),
		WithClock(clk),
		WithRetrier(retry.New(retry.Config{Attempts: 3, Delay: 0, Factor: 2})),
		WithFetchObserver(func(_ context.Context, r FetchResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}),
	)
	defer c.Close()

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if len(c.Points()) != 1 {
		t.Fatalf("points=%v", c.Points())
	}

	f.set(nil, errors.New("upstream down"))
	c.ViewportChanged(vp(box(0, 1, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()

	if len(c.Points()) != 0 {
		t.Fatalf("points=%v want empty after failure", c.Points())
	}
	if n := f.callCount(); n != 4 {
		t.Fatalf("calls=%d want 1 + 3 attempts", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 || results[1].Err == nil || results[1].Count != 0 {
		t.Fatalf("results=%+v", results)
	}
}

func TestFailedFetch_SmallPanRetries(t *testing.T) {
	f := &fakeFetcher{}
	f.set(nil, errors.New("upstream down"))
	clk := newFakeClock()
	c := New(f, DefaultConfig(),
		WithClock(clk),
		WithRetrier(noRetry()),
	)
	defer c.Close()

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if _, ok := c.LastFetched(); ok {
		t.Fatalf("lastFetched kept after failure")
	}

	f.set([]model.POI{{ID: "a", Category: model.CategoryAirport}}, nil)
	c.ViewportChanged(vp(box(0, 0.001, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()

	if n := f.callCount(); n != 2 {
		t.Fatalf("calls=%d want 2", n)
	}
	if pts := c.Points(); len(pts) != 1 || pts[0].ID != "a" {
		t.Fatalf("points=%v want recovered set", pts)
	}
	if _, ok := c.LastFetched(); !ok {
		t.Fatalf("lastFetched not recorded after success")
	}
}

func TestRendererReceivesDecluttered(t *testing.T) {
	f := &fakeFetcher{pts: []model.POI{
		{ID: "a", Category: model.CategoryAirport, Lat: 0, Lng: 0},
		{ID: "b", Category: model.CategoryAirport, Lat: 0, Lng: 0.0001}, // 10px from a
		{ID: "c", Category: model.CategoryHospital, Lat: 0, Lng: 0.005},
		{ID: "d", Category: model.CategoryTrafficLight, Lat: 0, Lng: 0.009},
	}}
	var mu sync.Mutex
	var frames [][]declutter.Placed
	c, clk := newTestCoordinator(t, f, WithRenderer(RendererFunc(func(v []declutter.Placed) {
		mu.Lock()
		frames = append(frames, v)
		mu.Unlock()
	})))

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()

	vis := c.Visible()
	if len(vis) != 2 || vis[0].ID != "a" || vis[1].ID != "c" {
		t.Fatalf("visible=%v want [a c]", vis)
	}

	// zooming in re-runs the filter without a fetch
	c.ViewportChanged(vp(box(0, 0, 0.01), 17))
	vis = c.Visible()
	if len(vis) != 3 || vis[2].ID != "d" {
		t.Fatalf("visible at z17=%v want [a c d]", vis)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frames) < 3 {
		t.Fatalf("frames=%d want at least 3", len(frames))
	}
}

func TestFeed_DeliversToAttachedCoordinator(t *testing.T) {
	f := &fakeFetcher{}
	c, clk := newTestCoordinator(t, f)
	feed := NewFeed()
	unsub := c.Attach(feed)

	feed.Publish(vp(box(0, 0, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetches=%d want 1", n)
	}

	unsub()
	unsub()
	feed.Publish(vp(box(5, 5, 0.01), 15))
	clk.Advance(DefaultDebounce)
	c.Wait()
	if n := f.callCount(); n != 1 {
		t.Fatalf("fetches=%d after unsubscribe want 1", n)
	}
}

func TestFeed_SubscriptionOrder(t *testing.T) {
	feed := NewFeed()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		feed.Subscribe(subscriberFunc(func(model.Viewport) { got = append(got, name) }))
	}
	feed.Publish(model.Viewport{})
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("order=%v", got)
	}
}

type subscriberFunc func(model.Viewport)

func (f subscriberFunc) ViewportChanged(vp model.Viewport) { f(vp) }

func TestClose_StopsPendingTimer(t *testing.T) {
	f := &fakeFetcher{}
	clk := newFakeClock()
	c := New(f, DefaultConfig(), WithClock(clk), WithRetrier(noRetry()))

	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	c.Close()
	clk.Advance(DefaultDebounce)
	if n := f.callCount(); n != 0 {
		t.Fatalf("fetches=%d want 0 after close", n)
	}
	c.ViewportChanged(vp(box(0, 0, 0.01), 15))
	if n := clk.pending(); n != 0 {
		t.Fatalf("closed coordinator scheduled %d timers", n)
	}
}
