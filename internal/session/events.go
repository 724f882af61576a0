package session

import (
	"sync"
	"time"
)

// Event types.
const (
	EventState     = "state"
	EventThreshold = "threshold"
	EventCamera    = "camera"
	EventSnapshot  = "snapshot"
)

// Event is pushed to subscribers whenever the session changes.
type Event struct {
	Type     string    `json:"type"`
	Status   Status    `json:"status"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Time     time.Time `json:"time"`
}

const subscriberBuffer = 16

// broker fans events out to subscribers. Slow subscribers miss events rather
// than block the session.
type broker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
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

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. The channel is closed when the subscription ends.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

func (c *Controller) emitLocked(typ string, snap *Snapshot) {
	c.events.publish(Event{
		Type:     typ,
		Status:   c.statusLocked(),
		Snapshot: snap,
		Time:     c.config.Now(),
	})
}
