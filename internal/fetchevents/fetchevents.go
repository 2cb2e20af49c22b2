// Package fetchevents publishes one Kafka event per completed point of
// interest fetch. Publishing never blocks the caller; when the queue is
// full the event is dropped.
package fetchevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geonav-cache/internal/core/geo"
	"github.com/mohammed-shakir/geonav-cache/internal/viewport"
)

const DefaultQueueSize = 1024

type Event struct {
	Session    string    `json:"session,omitempty"`
	Bounds     string    `json:"bounds"`
	CenterCell string    `json:"center_cell,omitempty"`
	Count      int       `json:"count"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	TS         time.Time `json:"ts"`
}

// FromFetch converts a coordinator fetch result into an event.
func FromFetch(session string, r viewport.FetchResult) Event {
	ev := Event{
		Session:    session,
		Bounds:     r.Bounds.String(),
		CenterCell: geo.RegionCell(r.Bounds.Center()),
		Count:      r.Count,
		OK:         r.Err == nil,
		DurationMS: r.Duration.Milliseconds(),
		TS:         r.At.UTC(),
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}

type Publisher struct {
	topic   string
	log     *slog.Logger
	prod    sarama.AsyncProducer
	events  chan Event
	stopped chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("fetchevents: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, log), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     log,
		prod:    prod,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("fetchevents: marshal error", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			// same region lands on the same partition
			if ev.CenterCell != "" {
				msg.Key = sarama.StringEncoder(ev.CenterCell)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("fetchevents: producer error", "err", err)
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		// queue full, drop rather than block the fetch path
		p.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("fetchevents: close producer: %w", err)
	}
	return nil
}
