package abtest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/dualpath/internal/backoff"
)

// AnalyticsEvent is the queue event that carries raw results to the analytics sink.
const AnalyticsEvent = "analytics/ab-test-result"

// Sink receives forwarded results.
type Sink interface {
	Publish(ctx context.Context, event string, payload map[string]any) (string, error)
}

// ForwarderConfig sizes the background queue.
type ForwarderConfig struct {
	// Buffer is the number of results held before new ones are dropped.
	// Default: 1024.
	Buffer int

	// PublishTimeout bounds all attempts for one result. Default: 5s.
	PublishTimeout time.Duration

	// MaxAttempts is the number of sink calls per result. Default: 3.
	MaxAttempts int

	// Backoff spaces the attempts. Default: 50ms doubling to 1s.
	Backoff backoff.Policy
}

// Forwarder ships results to a Sink on a single background goroutine.
// Enqueue never blocks: results are dropped when the buffer is full.
type Forwarder struct {
	sink     Sink
	logger   *slog.Logger
	timeout  time.Duration
	attempts int
	policy   backoff.Policy

	queue   chan forwardItem
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	// OnDrop is called for every dropped result. Optional.
	OnDrop func()
}

type forwardItem struct {
	result Result
	at     time.Time
}

// NewForwarder starts a forwarder. A nil sink yields a forwarder that drops nothing
// and sends nothing.
func NewForwarder(sink Sink, cfg ForwarderConfig, logger *slog.Logger) *Forwarder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.Policy{Initial: 50 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.1}
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		sink:     sink,
		logger:   logger.With("component", "analytics-forwarder"),
		timeout:  cfg.PublishTimeout,
		attempts: cfg.MaxAttempts,
		policy:   cfg.Backoff,
		queue:    make(chan forwardItem, cfg.Buffer),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// Enqueue hands a result to the background worker.
func (f *Forwarder) Enqueue(r Result, at time.Time) {
	if f == nil || f.sink == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- forwardItem{result: r, at: at}:
	default:
		f.dropped.Add(1)
		if f.OnDrop != nil {
			f.OnDrop()
		}
		f.logger.Warn("analytics queue full, result dropped", "plan", r.Plan.String())
	}
}

// Dropped returns the number of results dropped because the buffer was full.
func (f *Forwarder) Dropped() uint64 {
	if f == nil {
		return 0
	}
	return f.dropped.Load()
}

// Failed returns the number of results the sink rejected.
func (f *Forwarder) Failed() uint64 {
	if f == nil {
		return 0
	}
	return f.failed.Load()
}

// Close stops accepting results and drains the buffer until ctx is done.
func (f *Forwarder) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for item := range f.queue {
		f.forward(item)
	}
}

func (f *Forwarder) forward(item forwardItem) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	payload := map[string]any{
		"plan":            item.result.Plan.String(),
		"success":         item.result.Success,
		"executionTimeMs": item.result.ExecutionTimeMs,
		"timestamp":       item.at.UTC().Format(time.RFC3339Nano),
	}
	if item.result.ErrorMessage != "" {
		payload["errorMessage"] = item.result.ErrorMessage
	}
	if item.result.ResponseSize != nil {
		payload["responseSize"] = *item.result.ResponseSize
	}
	if len(item.result.Metadata) > 0 {
		payload["metadata"] = item.result.Metadata
	}

	err := backoff.Retry(ctx, f.policy, f.attempts, func(int) error {
		_, err := f.sink.Publish(ctx, AnalyticsEvent, payload)
		return err
	})
	if err != nil {
		f.failed.Add(1)
		f.logger.Warn("analytics forward failed", "error", ErrSinkForward(err))
	}
}
