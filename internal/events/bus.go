// Package events broadcasts research lifecycle events to channel subscribers
// and synchronous sinks.
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultSubscriberBuffer = 64

// Sink receives every published event synchronously.
type Sink interface {
	Handle(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.Event) error

func (f SinkFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

type subscriber struct {
	ch      chan domain.Event
	dropped int
}

// Bus fans events out to any number of independent subscribers. Channel
// subscribers that fall behind lose events; publishing never blocks on them.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	sinks  []Sink
	closed bool
	now    func() time.Time
}

// NewBus creates a bus with the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{
		subs:  make(map[uint64]*subscriber),
		sinks: sinks,
		now:   time.Now,
	}
}

// AddSink registers another synchronous sink.
func (b *Bus) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish stamps the event and delivers it to sinks and subscribers. Sink
// errors are logged, never returned.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Handle(ctx, event); err != nil {
			log.Printf("events: sink failed for %s (job %s): %v", event.Name, event.JobID, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				log.Printf("events: subscriber %d is slow, dropped %d events", id, sub.dropped)
			}
		}
	}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// SubscriberCount reports the number of active channel subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes only reach sinks.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// LogSink writes one log line per event.
type LogSink struct{}

func (LogSink) Handle(_ context.Context, e domain.Event) error {
	switch {
	case e.Message != "":
		log.Printf("events: %s job=%s status=%s stage=%s progress=%d message=%q", e.Name, e.JobID, e.Status, e.Stage, e.Progress, e.Message)
	default:
		log.Printf("events: %s job=%s status=%s stage=%s progress=%d", e.Name, e.JobID, e.Status, e.Stage, e.Progress)
	}
	return nil
}
