// Package broadcast fans alert lifecycle events out to in-process
// subscribers (the websocket stream, the delivery tracker, tests). Slow
// subscribers are skipped rather than blocking the engine's hot path.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

type EventKind string

const (
	EventAlertCreated   EventKind = "alert.created"
	EventAlertEscalated EventKind = "alert.escalated"
	EventAlertAcked     EventKind = "alert.acknowledged"
	EventAlertResolved  EventKind = "alert.resolved"
	EventAlertExpired   EventKind = "alert.expired"
	EventDelivery       EventKind = "delivery.updated"
)

// Event is one alert lifecycle notification. Delivery events carry the log
// row; the rest carry the alert snapshot at transition time.
type Event struct {
	Kind     EventKind           `json:"kind"`
	At       time.Time           `json:"at"`
	Alert    *models.Alert       `json:"alert,omitempty"`
	Delivery *models.DeliveryLog `json:"delivery,omitempty"`
}

type Broadcaster struct {
	subscribers map[uint64]chan Event
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Event),
	}
}

func (b *Broadcaster) Subscribe() (uint64, chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing consumers to exit
// gracefully.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
