// Package resourcecache intercepts outgoing HTTP requests and serves them
// from versioned storage tiers according to a fixed per-class policy:
// cache-first for tile imagery, network-first with offline fallback for the
// remote API, stale-while-revalidate for everything else.
package resourcecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geonav-cache/internal/cache"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/keys"
	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
	"github.com/mohammed-shakir/geonav-cache/internal/logger"
)

const (
	DefaultVersion           = "v1"
	DefaultRevalidateTimeout = 30 * time.Second

	fallbackLookupTimeout = 2 * time.Second
)

type route struct {
	rule Rule
	tier string
}

// Cache is an http.RoundTripper. Every request is routed to exactly one
// tier by the first matching rule.
type Cache struct {
	store cache.Store
	next  http.RoundTripper
	log   *slog.Logger

	version           string
	rules             []Rule
	routes            []route
	fallback          route
	revalidateTimeout time.Duration

	group singleflight.Group
	bg    sync.WaitGroup
}

var _ http.RoundTripper = (*Cache)(nil)

type Option func(*Cache)

func WithVersion(v string) Option {
	return func(c *Cache) {
		if v != "" {
			c.version = v
		}
	}
}

// WithRules replaces the ordered classification rules.
func WithRules(rules ...Rule) Option {
	return func(c *Cache) { c.rules = rules }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRevalidateTimeout bounds background refreshes, which outlive the
// request that started them.
func WithRevalidateTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.revalidateTimeout = d
		}
	}
}

// New wraps next. A nil next uses http.DefaultTransport.
func New(store cache.Store, next http.RoundTripper, opts ...Option) *Cache {
	if next == nil {
		next = http.DefaultTransport
	}
	c := &Cache{
		store:             store,
		next:              next,
		log:               slog.Default(),
		version:           DefaultVersion,
		rules:             DefaultRules(nil, nil),
		revalidateTimeout: DefaultRevalidateTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	for _, r := range c.rules {
		c.routes = append(c.routes, route{rule: r, tier: keys.TierName(r.Tier, c.version)})
	}
	c.fallback = route{
		rule: Rule{Tier: TierAppShell, Policy: StaleWhileRevalidate},
		tier: keys.TierName(TierAppShell, c.version),
	}
	return c
}

// Tiers returns the declared, version-qualified tier names.
func (c *Cache) Tiers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range append(append([]route{}, c.routes...), c.fallback) {
		if !seen[r.tier] {
			seen[r.tier] = true
			out = append(out, r.tier)
		}
	}
	return out
}

// Classify returns the tier and policy req would be served with.
func (c *Cache) Classify(req *http.Request) (string, Policy) {
	r := c.classify(req)
	return r.tier, r.rule.Policy
}

func (c *Cache) classify(req *http.Request) route {
	for _, r := range c.routes {
		if r.rule.Matches(req.URL) {
			return r
		}
	}
	return c.fallback
}

func (c *Cache) RoundTrip(req *http.Request) (*http.Response, error) {
	rt := c.classify(req)
	out, body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	id := keys.Identity(out.Method, out.URL.String(), body)

	switch rt.rule.Policy {
	case CacheFirst:
		return c.cacheFirst(out, rt, id)
	case NetworkFirst:
		return c.networkFirst(out, rt, id)
	default:
		return c.staleWhileRevalidate(out, rt, body, id)
	}
}

// Wait blocks until background stores and revalidations have finished.
func (c *Cache) Wait() { c.bg.Wait() }

func (c *Cache) cacheFirst(req *http.Request, rt route, id string) (*http.Response, error) {
	ctx := req.Context()
	pol := rt.rule.Policy.String()
	if !readOnly(req.Method) {
		return c.forward(req, rt)
	}

	if res, ok := c.lookup(ctx, rt.tier, id, req); ok {
		observability.IncCacheResult(rt.tier, pol, logger.HitClassHit)
		res.Header.Set(HeaderCacheStatus, cacheStatus{hit: true}.String())
		return res, nil
	}

	res, err := c.next.RoundTrip(req)
	if err != nil {
		observability.IncCacheResult(rt.tier, pol, "error")
		return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
	}

	st := cacheStatus{fwd: fwdMiss}
	if res.StatusCode == http.StatusOK {
		raw, err := encode(res)
		if err != nil {
			observability.IncCacheResult(rt.tier, pol, "error")
			return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
		}
		st.stored = c.put(ctx, rt.tier, id, raw)
	}
	observability.IncCacheResult(rt.tier, pol, logger.HitClassMiss)
	res.Header.Set(HeaderCacheStatus, st.String())
	return res, nil
}

func (c *Cache) networkFirst(req *http.Request, rt route, id string) (*http.Response, error) {
	ctx := req.Context()
	pol := rt.rule.Policy.String()

	res, err := c.next.RoundTrip(req)
	if err == nil {
		st := cacheStatus{fwd: fwdRequest}
		if req.Method == http.MethodPost && res.StatusCode == http.StatusOK {
			raw, encErr := encode(res)
			if encErr != nil {
				observability.IncCacheResult(rt.tier, pol, "error")
				return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, encErr)
			}
			st.stored = c.put(ctx, rt.tier, id, raw)
		}
		observability.IncCacheResult(rt.tier, pol, logger.HitClassMiss)
		res.Header.Set(HeaderCacheStatus, st.String())
		return res, nil
	}

	// the caller gave up; there is nobody to serve a fallback to. A
	// deadline is a slow upstream and still gets the fallback.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, fmt.Errorf("%w: %w", apperr.ErrCanceled, err)
	}

	// the request context may already be past its deadline
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackLookupTimeout)
	defer cancel()
	lctx := logger.WithHitClass(fctx, logger.HitClassOffline)
	if cached, ok := c.lookup(fctx, rt.tier, id, req); ok {
		c.log.InfoContext(lctx, "network failed; serving stored response",
			"tier", rt.tier, "key", keys.Short(id), "err", err)
		observability.IncCacheResult(rt.tier, pol, logger.HitClassOffline)
		cached.Header.Set(HeaderServedOffline, "true")
		cached.Header.Set(HeaderCacheStatus, cacheStatus{hit: true, detail: "offline"}.String())
		return cached, nil
	}

	c.log.WarnContext(lctx, "network failed and nothing stored; answering unavailable",
		"tier", rt.tier, "key", keys.Short(id), "err", err)
	observability.IncCacheResult(rt.tier, pol, "unavailable")
	res = unavailable(req)
	res.Header.Set(HeaderCacheStatus, cacheStatus{fwd: fwdMiss, detail: "offline"}.String())
	return res, nil
}

func (c *Cache) staleWhileRevalidate(req *http.Request, rt route, body []byte, id string) (*http.Response, error) {
	ctx := req.Context()
	pol := rt.rule.Policy.String()
	if !readOnly(req.Method) {
		return c.forward(req, rt)
	}

	if cached, ok := c.lookup(ctx, rt.tier, id, req); ok {
		c.revalidate(req, rt, body, id)
		observability.IncCacheResult(rt.tier, pol, logger.HitClassStale)
		cached.Header.Set(HeaderCacheStatus, cacheStatus{hit: true}.String())
		return cached, nil
	}

	res, err := c.next.RoundTrip(req)
	if err != nil {
		observability.IncCacheResult(rt.tier, pol, "error")
		return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
	}
	st := cacheStatus{fwd: fwdMiss}
	if res.StatusCode == http.StatusOK {
		raw, err := encode(res)
		if err != nil {
			observability.IncCacheResult(rt.tier, pol, "error")
			return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
		}
		c.putDetached(ctx, rt.tier, id, raw)
		st.stored = true
	}
	observability.IncCacheResult(rt.tier, pol, logger.HitClassMiss)
	res.Header.Set(HeaderCacheStatus, st.String())
	return res, nil
}

// revalidate refreshes id in the background. Concurrent refreshes of the
// same identity share one network call.
func (c *Cache) revalidate(req *http.Request, rt route, body []byte, id string) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), c.revalidateTimeout)
		defer cancel()

		_, err, shared := c.group.Do(rt.tier+"|"+id, func() (any, error) {
			r := req.Clone(ctx)
			setBody(r, body)
			res, err := c.next.RoundTrip(r)
			if err != nil {
				return nil, err
			}
			if res.StatusCode != http.StatusOK {
				drain(res)
				return nil, nil
			}
			raw, err := encode(res)
			if err != nil {
				return nil, err
			}
			if err := c.store.Put(ctx, rt.tier, id, raw); err != nil {
				return nil, err
			}
			observability.IncCacheResult(rt.tier, rt.rule.Policy.String(), "revalidated")
			return nil, nil
		})
		if err != nil {
			c.log.WarnContext(ctx, "background revalidation failed",
				"tier", rt.tier, "key", keys.Short(id), "shared", shared, "err", err)
		}
	}()
}

func (c *Cache) forward(req *http.Request, rt route) (*http.Response, error) {
	res, err := c.next.RoundTrip(req)
	observability.IncCacheResult(rt.tier, rt.rule.Policy.String(), "bypass")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
	}
	res.Header.Set(HeaderCacheStatus, cacheStatus{fwd: fwdMethod}.String())
	return res, nil
}

// lookup treats store and decode failures as a miss.
func (c *Cache) lookup(ctx context.Context, tier, id string, req *http.Request) (*http.Response, bool) {
	raw, ok, err := c.store.Get(ctx, tier, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.WarnContext(ctx, "cache lookup failed", "tier", tier, "key", keys.Short(id), "err", err)
		}
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := decode(raw, req)
	if err != nil {
		c.log.WarnContext(ctx, "stored entry unreadable", "tier", tier, "key", keys.Short(id), "err", err)
		return nil, false
	}
	return res, true
}

func (c *Cache) put(ctx context.Context, tier, id string, raw []byte) bool {
	if err := c.store.Put(ctx, tier, id, raw); err != nil {
		c.log.WarnContext(ctx, "cache store failed", "tier", tier, "key", keys.Short(id), "err", err)
		return false
	}
	return true
}

func (c *Cache) putDetached(ctx context.Context, tier, id string, raw []byte) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.revalidateTimeout)
		defer cancel()
		c.put(ctx, tier, id, raw)
	}()
}

func readOnly(method string) bool {
	return method == "" || method == http.MethodGet || method == http.MethodHead
}
