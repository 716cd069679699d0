// Package notify tells subscribers that the history changed. Ingestion
// enqueues signals without blocking; a single worker coalesces them and
// pushes one event per poll over a websocket.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"clipvault/internal/clip"
	"clipvault/internal/config"
)

const queueSize = 64

// Stats counts delivery outcomes since the relay was created.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64 // signals discarded because the queue was full
}

// Relay implements clip.Notifier.
type Relay struct {
	queue        chan struct{}
	sink         Sink
	pollInterval time.Duration
	retryDelay   time.Duration
	joinTimeout  time.Duration
	logger       clip.Logger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ clip.Notifier = (*Relay)(nil)

func NewRelay(cfg config.NotifyConfig, sink Sink, logger clip.Logger) *Relay {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = clip.NewNopLogger()
	}
	return &Relay{
		queue:        make(chan struct{}, queueSize),
		sink:         sink,
		pollInterval: cfg.PollInterval(),
		retryDelay:   cfg.RetryDelay(),
		joinTimeout:  cfg.JoinTimeout(),
		logger:       logger,
	}
}

// NewRelayFromConfig picks a websocket sink for a configured endpoint and a
// no-op sink otherwise.
func NewRelayFromConfig(cfg config.NotifyConfig, logger clip.Logger) *Relay {
	var sink Sink = NopSink{}
	if cfg.Endpoint != "" {
		sink = NewWebSocketSink(cfg.Endpoint)
	}
	return NewRelay(cfg, sink, logger)
}

// Notify enqueues a signal. It never blocks: when the queue is full a
// delivery is already pending and the signal is dropped.
func (r *Relay) Notify() {
	select {
	case r.queue <- struct{}{}:
	default:
		r.dropped.Add(1)
	}
}

// Stats returns a snapshot of the delivery counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Start runs the worker in the background until Stop or ctx cancellation.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.Run(ctx)
	}(r.done)
}

// Stop cancels the worker and waits up to the join timeout for it to exit.
// A worker that does not exit in time is logged and abandoned.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(r.joinTimeout):
			r.logger.Warn("notification relay did not stop in time", "timeout", r.joinTimeout)
		}
	}
	if err := r.sink.Close(); err != nil {
		r.logger.Debug("closing notification sink", "error", err)
	}
}

// Run is the worker loop. It returns when ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if r.drain() == 0 {
			continue
		}
		if err := r.sink.Deliver(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.failed.Add(1)
			r.logger.Warn("notification not delivered", "error", fmt.Errorf("%w: %v", clip.ErrDelivery, err))
			if err := r.sink.Close(); err != nil {
				r.logger.Debug("closing notification sink", "error", err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.retryDelay):
			}
			continue
		}
		r.delivered.Add(1)
	}
}

// drain empties the queue and returns how many signals were pending.
func (r *Relay) drain() int {
	n := 0
	for {
		select {
		case <-r.queue:
			n++
		default:
			return n
		}
	}
}
