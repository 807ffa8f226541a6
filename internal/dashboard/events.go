package dashboard

import (
	"sync"
	"time"
)

// EventKind says which part of the dashboard state changed.
type EventKind string

// Event kinds
const (
	EventScans     EventKind = "scans"
	EventStats     EventKind = "stats"
	EventView      EventKind = "view"
	EventSelection EventKind = "selection"
	EventBusy      EventKind = "busy"
	EventResults   EventKind = "results"
	EventSchedules EventKind = "schedules"
	EventError     EventKind = "error"
)

// Event is a change notification. It carries no state; subscribers read the
// components' snapshots.
type Event struct {
	Kind EventKind
	At   time.Time
}

const subscriberBuffer = 16

// Broker fans change notifications out to subscribers. Publishing never
// blocks: when a subscriber's buffer is full the event is dropped, since the
// pending ones already tell it to re-read state.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; calling it more than once is safe.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish notifies every subscriber of kind.
func (b *Broker) Publish(kind EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	event := Event{Kind: kind, At: time.Now()}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
