// Package cache defines the tiered byte-store contract behind the resource
// cache. A tier is an independently named partition; entries are opaque
// byte values addressed by request identity.
package cache

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store closed")

// Store persists tier entries. Writes to one key are last-writer-wins;
// values are replaced wholesale, never patched.
type Store interface {
	// Get returns the value for key in tier and whether it was present.
	Get(ctx context.Context, tier, key string) ([]byte, bool, error)
	// Put stores val under key in tier, creating the tier if needed.
	Put(ctx context.Context, tier, key string, val []byte) error
	// CreateTier registers an empty tier so it is listed by Tiers.
	CreateTier(ctx context.Context, tier string) error
	// Tiers lists every stored tier name.
	Tiers(ctx context.Context) ([]string, error)
	// DropTier deletes a tier and all of its entries.
	DropTier(ctx context.Context, tier string) error
	Close() error
}
