// Package memstore is an in-process cache.Store. Entries never expire and
// are never evicted; a tier only goes away when it is dropped.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/cache"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

type Store struct {
	mu     sync.RWMutex
	tiers  map[string]map[string][]byte
	closed bool
}

var _ cache.Store = (*Store)(nil)

func New() *Store {
	return &Store{tiers: make(map[string]map[string][]byte)}
}

func (s *Store) Get(_ context.Context, tier, key string) ([]byte, bool, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		observability.ObserveStoreOp("memory", "get", cache.ErrClosed, time.Since(start).Seconds())
		return nil, false, cache.ErrClosed
	}
	v, ok := s.tiers[tier][key]
	observability.ObserveStoreOp("memory", "get", nil, time.Since(start).Seconds())
	if !ok {
		return nil, false, nil
	}
	// callers own the returned slice
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Put(_ context.Context, tier, key string, val []byte) error {
	start := time.Now()
	cp := make([]byte, len(val))
	copy(cp, val)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		observability.ObserveStoreOp("memory", "put", cache.ErrClosed, time.Since(start).Seconds())
		return cache.ErrClosed
	}
	t := s.tiers[tier]
	if t == nil {
		t = make(map[string][]byte)
		s.tiers[tier] = t
	}
	t[key] = cp
	observability.ObserveStoreOp("memory", "put", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) CreateTier(_ context.Context, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	if _, ok := s.tiers[tier]; !ok {
		s.tiers[tier] = make(map[string][]byte)
	}
	return nil
}

func (s *Store) Tiers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	out := make([]string, 0, len(s.tiers))
	for name := range s.tiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DropTier(_ context.Context, tier string) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	delete(s.tiers, tier)
	observability.ObserveStoreOp("memory", "drop", nil, time.Since(start).Seconds())
	return nil
}

// Len returns the number of entries in tier.
func (s *Store) Len(tier string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiers[tier])
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tiers = nil
	return nil
}
