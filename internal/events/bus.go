// Package events fans orchestrator events out to sinks and channel subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// Sink receives every published event. Sinks are called synchronously in
// publish order and should return quickly.
type Sink interface {
	Handle(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event domain.Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

type subscriber struct {
	id int
	ch chan domain.Event
}

// Bus delivers events to every registered sink and subscriber.
type Bus struct {
	logger *slog.Logger

	mu      sync.RWMutex
	sinks   []Sink
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
}

// NewBus creates an event bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]*subscriber),
	}
}

// AddSink attaches a sink.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a buffered channel of events and a cancel function that
// closes it. A subscriber whose buffer is full misses events.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan domain.Event, buffer)}
	b.subs[sub.id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, sub.id)
			close(sub.ch)
		})
	}
}

// Publish delivers the event. Sink errors are logged, never returned.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sink := range b.sinks {
		if err := sink.Handle(ctx, event); err != nil {
			b.logger.Warn("Event sink failed",
				slog.String("event_type", string(event.Type)),
				slog.String("job_id", event.JobID),
				slog.Any("error", err),
			)
		}
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many subscriber deliveries were skipped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
