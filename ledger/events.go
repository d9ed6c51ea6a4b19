package ledger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType enumerates the status transitions broadcast by C6.
type EventType string

const (
	EventAccountCreated EventType = "account.created"
	EventTxPreconfirmed EventType = "tx.preconfirmed"
	EventTxExecuted     EventType = "tx.executed"
	EventTxFailed       EventType = "tx.failed"
	EventBatchSealed    EventType = "batch.sealed"
	EventBatchProven    EventType = "batch.proven"
)

// Event is a value-typed status transition (§4.6).
type Event struct {
	Type      EventType
	Address   Address   `json:"address,omitempty"`
	TxID      uuid.UUID `json:"tx_id,omitempty"`
	BatchID   uuid.UUID `json:"batch_id,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// K_DROP: a subscriber whose outbound buffer is full is disconnected
// rather than allowed to block a publisher (§4.6).
const kDrop = 128

// subscriber is a single bounded, FIFO outbound queue.
type subscriber struct {
	id      uint64
	ch      chan Event
	closeCh chan struct{}
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.closeCh) })
}

// EventBus is C6: best-effort, per-subscriber-FIFO broadcast of status
// transitions. Modeled on the reference tree's EventManager/Broadcast
// singleton pattern, widened from a single global hook to a subscriber
// registry since every connected client needs its own FIFO feed.
type EventBus struct {
	log *logrus.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// NewEventBus constructs an empty event bus.
func NewEventBus(log *logrus.Logger) *EventBus {
	if log == nil {
		log = logrus.New()
	}
	return &EventBus{log: log, subs: make(map[uint64]*subscriber)}
}

// Subscription is a live handle returned by Subscribe. Callers must call
// Close when done to release the subscriber slot.
type Subscription struct {
	bus *EventBus
	sub *subscriber
}

// Events returns the channel to range over for this subscription's events.
// It closes when the subscription is dropped (overflow) or explicitly
// closed.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Close releases the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.sub.id)
	s.sub.close()
}

// Subscribe attaches a new subscriber with a bounded outbound queue.
func (b *EventBus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		ch:      make(chan Event, kDrop),
		closeCh: make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return &Subscription{bus: b, sub: sub}
}

func (b *EventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers ev to every live subscriber. A subscriber whose buffer
// is full is dropped (disconnected) rather than blocking the publisher —
// availability over completeness for the live feed; the store remains the
// canonical source of truth.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			b.log.WithFields(logrus.Fields{"subscriber": s.id, "event": ev.Type}).
				Warn("event bus: subscriber buffer full, dropping subscriber")
			b.unsubscribe(s.id)
			s.close()
		}
	}
}
