package resourcecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/mohammed-shakir/geonav-cache/internal/cache/keys"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

// Init creates every declared tier.
func (c *Cache) Init(ctx context.Context) error {
	for _, t := range c.Tiers() {
		if err := c.store.CreateTier(ctx, t); err != nil {
			return fmt.Errorf("create tier %s: %w", t, err)
		}
	}
	return nil
}

// Install creates the tiers and stores the given application shell URLs
// in the app-shell tier. A URL that cannot be fetched is logged and
// skipped; it will be stored the first time it is requested.
func (c *Cache) Install(ctx context.Context, urls []string) (int, error) {
	if err := c.Init(ctx); err != nil {
		return 0, err
	}
	stored := 0
	for _, u := range urls {
		if err := c.precache(ctx, u); err != nil {
			c.log.WarnContext(ctx, "precache failed", "url", u, "err", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (c *Cache) precache(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.next.RoundTrip(req)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		drain(res)
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	raw, err := encode(res)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, c.fallback.tier, keys.Identity(http.MethodGet, u, nil), raw)
}

// Activate deletes every stored tier that is not declared by this cache,
// which is how entries from an older version are discarded. It returns the
// purged tier names.
func (c *Cache) Activate(ctx context.Context) ([]string, error) {
	stored, err := c.store.Tiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	declared := c.Tiers()

	var purged []string
	var errs []error
	for _, t := range stored {
		if slices.Contains(declared, t) {
			continue
		}
		c.log.InfoContext(ctx, "deleting old cache tier", "tier", t)
		if err := c.store.DropTier(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("drop tier %s: %w", t, err))
			continue
		}
		purged = append(purged, t)
	}
	observability.AddTiersPurged(len(purged))
	return purged, errors.Join(errs...)
}
