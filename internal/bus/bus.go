package bus

import (
	"log/slog"
	"sync"
	"time"

	"taskforge/internal/domain"
)

const DefaultBufferSize = 1000

// Bus is an in-memory publish/subscribe fan-out with a bounded rolling
// buffer. One mutex guards the id counter, the buffer, and the subscriber
// list, so ids are strictly increasing and gapless for the lifetime of the
// instance.
type Bus struct {
	mu          sync.Mutex
	nextID      int64
	events      []domain.Event
	bufferSize  int
	subscribers []subscriber
	nextSubID   int64
	Now         func() time.Time
}

type subscriber struct {
	id int64
	fn func(domain.Event)
}

func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{nextID: 1, bufferSize: bufferSize, Now: time.Now}
}

// Subscribe registers a callback invoked synchronously, in registration
// order, for every subsequent publish. The returned function unsubscribes.
func (b *Bus) Subscribe(fn func(domain.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers = append(b.subscribers, subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Publish assigns the next id, buffers the event, and notifies every
// subscriber. A panicking subscriber never breaks the bus or the other
// subscribers.
func (b *Bus) Publish(evt domain.Event) domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	evt.ID = b.nextID
	b.nextID++
	if evt.Payload == nil {
		evt.Payload = map[string]any{}
	}
	if evt.CreatedAt == "" {
		evt.CreatedAt = b.Now().UTC().Format(time.RFC3339Nano)
	}

	b.events = append(b.events, evt)
	if len(b.events) > b.bufferSize {
		b.events = b.events[len(b.events)-b.bufferSize:]
	}

	for _, s := range b.subscribers {
		notify(s, evt)
	}
	return evt
}

func notify(s subscriber, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "type", evt.Type, "panic", r)
		}
	}()
	s.fn(evt)
}

// Recent returns the last N buffered events in id order.
func (b *Bus) Recent(limit int) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.events) {
		limit = len(b.events)
	}
	out := make([]domain.Event, limit)
	copy(out, b.events[len(b.events)-limit:])
	return out
}

// Since returns the buffered events with id > lastID in ascending order.
// Events already evicted from the buffer are gone; callers tail at least once
// and must tolerate missed history.
func (b *Bus) Since(lastID int64) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// LastID returns the most recently assigned event id, 0 before any publish.
func (b *Bus) LastID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID - 1
}
