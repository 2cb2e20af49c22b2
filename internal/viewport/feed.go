package viewport

import (
	"slices"
	"sync"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
)

// Subscriber is notified of every viewport change.
type Subscriber interface {
	ViewportChanged(vp model.Viewport)
}

// Publisher is the source of viewport changes, normally the map widget.
type Publisher interface {
	// Subscribe registers s and returns a function that removes it.
	Subscribe(s Subscriber) (unsubscribe func())
}

// Feed is a Publisher that delivers each published viewport to its
// subscribers synchronously, in publish order.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]Subscriber
	// serializes deliveries so subscribers see events in arrival order
	deliver sync.Mutex
}

var _ Publisher = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]Subscriber)}
}

func (f *Feed) Subscribe(s Subscriber) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = s
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *Feed) Publish(vp model.Viewport) {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	// subscription order
	slices.Sort(ids)
	for _, id := range ids {
		f.mu.Lock()
		s, ok := f.subs[id]
		f.mu.Unlock()
		if ok {
			s.ViewportChanged(vp)
		}
	}
}
