package viewport

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

const DefaultMaxSessions = 256

// Factory builds the coordinator for a new session.
type Factory func(session string) *Coordinator

type session struct {
	feed    *Feed
	coord   *Coordinator
	lastSeq uint64
	unsub   func()
}

func (s *session) close() {
	s.unsub()
	s.coord.Close()
}

// Registry keeps one feed and coordinator per map session. The least
// recently used session is closed when the registry is full.
type Registry struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *session]
	newCoord Factory
}

func NewRegistry(size int, f Factory) *Registry {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	c, _ := lru.NewWithEvict[string, *session](size, func(_ string, s *session) {
		s.close()
	})
	return &Registry{sessions: c, newCoord: f}
}

// Publish delivers vp to the session's coordinator, creating the session on
// first use. seq orders events from one client: an event whose seq is not
// newer than the last applied one is dropped. Zero means unsequenced.
func (r *Registry) Publish(id string, seq uint64, vp model.Viewport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Get(id)
	if !ok {
		feed := NewFeed()
		coord := r.newCoord(id)
		s = &session{feed: feed, coord: coord, unsub: coord.Attach(feed)}
		r.sessions.Add(id, s)
	}
	if seq != 0 {
		if seq <= s.lastSeq {
			return false
		}
		s.lastSeq = seq
	}
	s.feed.Publish(vp)
	return true
}

// Get returns the coordinator of a live session.
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return s.coord, true
}

// Drop closes one session.
func (r *Registry) Drop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Remove(id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Purge()
}
