package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/hubclient"
)

// Submitter delivers one serialized batch. Implemented by
// hubclient.Client.
type Submitter interface {
	Submit(ctx context.Context, body []byte) error
}

// DispatcherConfig tunes flush and retry behavior.
type DispatcherConfig struct {
	FlushInterval time.Duration // flush at least this often
	BatchMax      int           // events per batch, also the early-flush trigger
	MaxRetries    int           // delivery attempts per batch before dropping
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	FinalTimeout  time.Duration // bound on the shutdown flush
}

func (c *DispatcherConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.BatchMax <= 0 {
		c.BatchMax = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = 3 * time.Second
	}
}

// Dispatcher drains the buffer into signed batches and delivers them.
// Each batch moves through queued → in-flight → delivered, retrying →
// in-flight, or dropped. It owns all network I/O so the watcher side
// of the monitor never blocks on delivery.
type Dispatcher struct {
	buf    *Buffer
	client Submitter
	cfg    DispatcherConfig
	log    *zap.Logger
}

// NewDispatcher wires a buffer to a submitter.
func NewDispatcher(buf *Buffer, client Submitter, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{buf: buf, client: client, cfg: cfg, log: log}
}

// Run flushes on the configured interval or when the buffer reaches
// the batch size, whichever comes first. On ctx cancellation it
// performs one final best-effort flush bounded by FinalTimeout, then
// returns.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.finalFlush()
			return
		case <-ticker.C:
			d.flush(ctx)
		case <-d.buf.Full():
			d.flush(ctx)
			ticker.Reset(d.cfg.FlushInterval)
		}
	}
}

// flush drains one batch and drives it through the retry state
// machine. The same serialized bytes are retried; a batch is never
// re-queued after its retry ceiling.
func (d *Dispatcher) flush(ctx context.Context) {
	batch := d.buf.Drain(d.cfg.BatchMax)
	if len(batch) == 0 {
		return
	}

	body, err := json.Marshal(batch)
	if err != nil {
		d.log.Error("dropping batch that failed to serialize",
			zap.Int("events", len(batch)), zap.Error(err))
		return
	}

	backoff := NewBackoff(d.cfg.InitialDelay, d.cfg.MaxDelay)
	for {
		err := d.client.Submit(ctx, body)
		if err == nil {
			d.log.Debug("batch delivered", zap.Int("events", len(batch)))
			return
		}

		var perm *hubclient.PermanentError
		if errors.As(err, &perm) {
			d.log.Warn("dropping batch rejected by hub",
				zap.Int("events", len(batch)),
				zap.Int("status", perm.Status),
				zap.Error(err))
			return
		}

		if backoff.Attempt() >= d.cfg.MaxRetries {
			d.log.Warn("dropping batch after retry ceiling",
				zap.Int("events", len(batch)),
				zap.Int("attempts", backoff.Attempt()+1),
				zap.Error(err))
			return
		}

		delay := backoff.Next()
		var rl *hubclient.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			// The hub's Retry-After is a floor, not a suggestion.
			delay = rl.RetryAfter
		}
		d.log.Debug("delivery failed, backing off",
			zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			d.log.Warn("dropping in-flight batch on shutdown",
				zap.Int("events", len(batch)))
			return
		case <-time.After(delay):
		}
	}
}

// finalFlush drains everything still queued, one delivery attempt per
// batch, all bounded by FinalTimeout. The queue can hold more than one
// batch when the buffer capacity exceeds the batch size; whatever the
// deadline cuts off is dropped with a count.
func (d *Dispatcher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FinalTimeout)
	defer cancel()

	for {
		batch := d.buf.Drain(d.cfg.BatchMax)
		if len(batch) == 0 {
			return
		}
		body, err := json.Marshal(batch)
		if err != nil {
			d.log.Error("dropping batch that failed to serialize",
				zap.Int("events", len(batch)), zap.Error(err))
			continue
		}
		if err := d.client.Submit(ctx, body); err != nil {
			d.log.Warn("final flush failed, dropping undelivered events",
				zap.Int("events", len(batch)+d.buf.Len()), zap.Error(err))
			return
		}
	}
}
