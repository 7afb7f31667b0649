// Package notify fans out pair events to in-process subscribers. Delivery is
// fire-and-forget: a slow or absent subscriber never blocks or fails the
// transition that produced the event.
package notify

import (
	"context"
	"sync"
	"time"
)

const (
	// EventItemBothComplete signals an item both members have completed.
	EventItemBothComplete = "item-both-complete"
	// EventRewardGranted signals a freshly issued reward grant.
	EventRewardGranted = "reward-granted"
)

// PairEvent describes one event scoped to a pair.
type PairEvent struct {
	PairID      string    `json:"pair_id"`
	EventType   string    `json:"event_type"`
	ItemID      string    `json:"item_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Day         string    `json:"day,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Dispatcher routes pair events to subscribers keyed by pair identifier.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan PairEvent
}

// NewDispatcher constructs a dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the pair's events. The stream is removed
// when the context is cancelled or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, pairID string) (<-chan PairEvent, func()) {
	if pairID == "" {
		closed := make(chan PairEvent)
		close(closed)
		return closed, func() {}
	}
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan PairEvent, d.bufferSize),
	}
	d.register(pairID, entry)
	cleanup := func() {
		d.unregister(pairID, entry.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Publish delivers the event to every current subscriber of the pair.
// Full subscriber buffers drop the event rather than blocking the caller.
// Delivery happens under the read lock: unregister closes streams under the
// write lock, so a send can never hit an already-closed channel.
func (d *Dispatcher) Publish(event PairEvent) {
	if event.PairID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, entry := range d.subscribers[event.PairID] {
		select {
		case entry.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(pairID string, entry *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams, ok := d.subscribers[pairID]
	if !ok {
		streams = make(map[int64]*subscriber)
		d.subscribers[pairID] = streams
	}
	streams[entry.id] = entry
}

func (d *Dispatcher) unregister(pairID string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams, ok := d.subscribers[pairID]
	if !ok {
		return
	}
	if entry, exists := streams[id]; exists {
		delete(streams, id)
		close(entry.stream)
	}
	if len(streams) == 0 {
		delete(d.subscribers, pairID)
	}
}
