package node

import (
	"sync"
	"sync/atomic"

	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

// EventBus fans display events out to subscribers. Publishing never blocks;
// a subscriber that falls behind loses events.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[int]chan protocol.Event
	nextID  int
	closed  bool
	dropped int64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan protocol.Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan protocol.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan protocol.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
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

// Publish delivers events to every subscriber.
func (b *EventBus) Publish(events ...protocol.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range events {
		for _, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				atomic.AddInt64(&b.dropped, 1)
			}
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *EventBus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Close ends all subscriptions.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
