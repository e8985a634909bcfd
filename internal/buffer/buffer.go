// Package buffer owns the monitor's delivery pipeline: a bounded FIFO
// event queue, the retry/backoff state machine, and the dispatcher
// that drains batches to the hub.
package buffer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

// DefaultCapacity bounds the queue by event count.
const DefaultCapacity = 1000

// warnFraction is the fill level at which a capacity warning fires.
const warnFraction = 0.8

// Buffer is a capacity-bounded FIFO of events awaiting delivery. On
// overflow the oldest event is evicted. Safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	events   []event.Event
	capacity int
	warned   bool
	kick     chan struct{}
	kickSize int
	log      *zap.Logger
}

// New creates a buffer. kickSize is the queue length at which Full()
// signals the dispatcher to flush early; zero disables the signal.
func New(capacity, kickSize int, log *zap.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		kick:     make(chan struct{}, 1),
		kickSize: kickSize,
		log:      log,
	}
}

// Enqueue appends an event. Once the queue reaches 80% of capacity a
// warning is logged (re-armed after draining below the threshold); at
// capacity the oldest event is evicted with an error log.
func (b *Buffer) Enqueue(ev event.Event) {
	b.mu.Lock()

	if len(b.events) >= b.capacity {
		evicted := b.events[0]
		b.events = b.events[1:]
		b.log.Error("delivery buffer full, evicting oldest event",
			zap.Int("capacity", b.capacity),
			zap.String("evicted_id", evicted.ID))
	}
	b.events = append(b.events, ev)

	fill := float64(len(b.events)) / float64(b.capacity)
	switch {
	case fill >= warnFraction && !b.warned:
		b.warned = true
		b.log.Warn("delivery buffer nearing capacity",
			zap.Int("queued", len(b.events)),
			zap.Int("capacity", b.capacity))
	case fill < warnFraction:
		b.warned = false
	}

	signal := b.kickSize > 0 && len(b.events) >= b.kickSize
	b.mu.Unlock()

	if signal {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Drain removes and returns up to max of the oldest events.
func (b *Buffer) Drain(max int) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.events)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}
	batch := make([]event.Event, n)
	copy(batch, b.events[:n])
	b.events = b.events[n:]
	if float64(len(b.events))/float64(b.capacity) < warnFraction {
		b.warned = false
	}
	return batch
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Full signals when the queue has reached the early-flush size.
func (b *Buffer) Full() <-chan struct{} {
	return b.kick
}
