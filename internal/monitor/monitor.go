// Package monitor is the root of the pulsemon process: it wires the
// tailer, parser, privacy filter, and delivery buffer into one
// pipeline. The tailer and the dispatcher run as separate tasks joined
// by a bounded channel, so filesystem watching never blocks on
// network I/O.
package monitor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/buffer"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/hubclient"
	"github.com/pulsewatch/pulsewatch/internal/parse"
	"github.com/pulsewatch/pulsewatch/internal/privacy"
	"github.com/pulsewatch/pulsewatch/internal/sign"
	"github.com/pulsewatch/pulsewatch/internal/tail"
)

// lineBacklog bounds the tailer→pipeline channel.
const lineBacklog = 256

// Monitor owns the full monitor-side pipeline.
type Monitor struct {
	cfg        config.Monitor
	tailer     *tail.Tailer
	parser     *parse.Parser
	filter     *privacy.Filter
	buf        *buffer.Buffer
	dispatcher *buffer.Dispatcher
	lines      chan tail.Line
	log        *zap.Logger
}

// New loads the signing key and assembles the pipeline.
func New(cfg config.Monitor, log *zap.Logger) (*Monitor, error) {
	signer, err := sign.LoadSigner(cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	lines := make(chan tail.Line, lineBacklog)
	buf := buffer.New(cfg.BufferCapacity, cfg.BatchMax, log)
	client := hubclient.New(cfg.HubURL, cfg.SourceID, signer)
	dispatcher := buffer.NewDispatcher(buf, client, buffer.DispatcherConfig{
		FlushInterval: cfg.FlushInterval,
		BatchMax:      cfg.BatchMax,
	}, log)

	return &Monitor{
		cfg:        cfg,
		tailer:     tail.New(cfg.WatchDir, lines, log),
		parser:     parse.New(cfg.SourceID, log),
		filter:     privacy.New(cfg.AllowedExts),
		buf:        buf,
		dispatcher: dispatcher,
		lines:      lines,
		log:        log,
	}, nil
}

// Run blocks until ctx is cancelled, then waits for the dispatcher's
// final flush.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.tailer.Run(ctx); err != nil {
			m.log.Error("tailer stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.dispatcher.Run(ctx)
	}()

	m.log.Info("monitor started",
		zap.String("source", m.cfg.SourceID),
		zap.String("watch_dir", m.cfg.WatchDir),
		zap.String("hub", m.cfg.HubURL))

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case line := <-m.lines:
			m.process(line)
		}
	}
}

// process runs one line through parse → filter → enqueue.
func (m *Monitor) process(line tail.Line) {
	events := m.parser.Line(line.Path, line.Text)
	for _, ev := range events {
		m.buf.Enqueue(m.filter.Apply(ev))
	}
	if m.parser.Ended(line.Path) {
		m.tailer.Forget(line.Path)
	}
}

// Queued reports the current delivery backlog.
func (m *Monitor) Queued() int {
	return m.buf.Len()
}
