// Package broadcast fans accepted events out to live subscribers. A
// single goroutine owns distribution; each subscriber gets a bounded
// channel, and a subscriber that stops draining loses events rather
// than stalling everyone else.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

// subscriberBuffer is each subscriber's channel depth.
const subscriberBuffer = 100

// dropLogEvery throttles lag warnings after the first.
const dropLogEvery = 100

// publishBacklog bounds the ingest→fan-out handoff.
const publishBacklog = 64

// Filter selects which events a subscriber receives. Empty slices
// match everything on that dimension; populated dimensions must all
// match.
type Filter struct {
	Sources  []string
	Types    []string
	Projects []string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev event.Event) bool {
	if !matchOne(f.Sources, ev.Source) {
		return false
	}
	if !matchOne(f.Types, string(ev.Type)) {
		return false
	}
	if len(f.Projects) > 0 && !matchOne(f.Projects, ev.Project()) {
		return false
	}
	return true
}

func matchOne(wanted []string, got string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == got {
			return true
		}
	}
	return false
}

// Subscriber is one attached event consumer.
type Subscriber struct {
	ID     string
	C      chan event.Event
	filter Filter

	dropped int
}

// Engine distributes events to subscribers.
type Engine struct {
	log     *zap.Logger
	in      chan []event.Event
	stopped chan struct{}

	mu   sync.Mutex
	subs map[string]*Subscriber
	done bool
}

// New creates an idle engine; call Run to start distribution.
func New(log *zap.Logger) *Engine {
	return &Engine{
		log:     log,
		in:      make(chan []event.Event, publishBacklog),
		stopped: make(chan struct{}),
		subs:    make(map[string]*Subscriber),
	}
}

// Run distributes published events until ctx is cancelled, then closes
// every subscriber channel.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			return
		case batch := <-e.in:
			e.distribute(batch)
		}
	}
}

// Publish hands a batch to the fan-out goroutine. The send blocks
// until the fan-out goroutine takes it: every accepted event enters
// distribution exactly once, and the only place an event may be lost
// is a full subscriber buffer. Distribution itself never blocks on a
// subscriber, so the wait here is bounded by fan-out work, not by
// consumers. After shutdown the batch is discarded.
func (e *Engine) Publish(events []event.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case e.in <- events:
	case <-e.stopped:
		e.log.Warn("engine stopped, discarding batch",
			zap.Int("events", len(events)))
	}
}

// Subscribe attaches a new consumer with the given filter.
func (e *Engine) Subscribe(f Filter) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		C:      make(chan event.Event, subscriberBuffer),
		filter: f,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		close(sub.C)
		return sub
	}
	e.subs[sub.ID] = sub
	return sub
}

// Unsubscribe detaches a consumer and closes its channel. Calling it
// twice is harmless.
func (e *Engine) Unsubscribe(sub *Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub.ID]; !ok {
		return
	}
	delete(e.subs, sub.ID)
	close(sub.C)
}

// Count returns the number of attached subscribers.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// distribute delivers a batch to every matching subscriber without
// blocking on any of them.
func (e *Engine) distribute(batch []event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range batch {
		for _, sub := range e.subs {
			if !sub.filter.Match(ev) {
				continue
			}
			select {
			case sub.C <- ev:
			default:
				sub.dropped++
				if sub.dropped == 1 || sub.dropped%dropLogEvery == 0 {
					e.log.Warn("subscriber lagging, dropping events",
						zap.String("subscriber", sub.ID),
						zap.Int("dropped", sub.dropped))
				}
			}
		}
	}
}

// closeAll detaches every subscriber on shutdown and releases any
// publisher blocked on the inlet.
func (e *Engine) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	close(e.stopped)
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.C)
	}
}
