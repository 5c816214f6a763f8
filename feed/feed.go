/*
Package feed carries item change events to live readers.

PURPOSE:
  Screens and the search projection re-derive their state from change
  events instead of being written by the Executor. The Executor publishes
  exactly one event per committed movement, after the commit.

IMPLEMENTATIONS:
  Hub:   In-process fan-out to subscribers (buffered, drops when full)
  Redis: Publishes JSON on a go-redis channel; Listen feeds a local Hub

DELIVERY:
  Best effort. A dropped event only leaves a reader stale until its next
  refresh; it never affects stored quantities.
*/
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindQuantityChanged Kind = "item.quantity_changed"
	KindItemCreated     Kind = "item.created"
	KindItemUpdated     Kind = "item.updated"
	KindSeeded          Kind = "inventory.seeded"
)

// Event describes one committed change.
type Event struct {
	Kind     Kind      `json:"kind"`
	ItemID   string    `json:"item_id,omitempty"`
	EntryID  string    `json:"entry_id,omitempty"`
	Quantity string    `json:"quantity,omitempty"`
	Version  int64     `json:"version,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// =============================================================================
// HUB - In-process fan-out
// =============================================================================

type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish never blocks; slow subscribers lose events.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
