package abtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/dualpath/internal/backoff"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []string
	payloads []map[string]any
	started  chan struct{}
	release  chan struct{}
	err      error
}

func (s *recordingSink) Publish(ctx context.Context, event string, payload map[string]any) (string, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return "1-0", s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestForwarderPublishesResults(t *testing.T) {
	sink := &recordingSink{}
	fwd := NewForwarder(sink, ForwarderConfig{}, nil)
	store := newTestStore(DefaultConfig(), WithForwarder(fwd))

	store.RecordResult(context.Background(), Result{
		Plan:            PlanB,
		Success:         false,
		ExecutionTimeMs: 42,
		ErrorMessage:    "boom",
		ResponseSize:    sizePtr(10),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("expected 1 published result, got %d", sink.count())
	}
	if sink.events[0] != AnalyticsEvent {
		t.Fatalf("unexpected event %q", sink.events[0])
	}
	p := sink.payloads[0]
	if p["plan"] != "B" || p["success"] != false || p["errorMessage"] != "boom" || p["responseSize"] != int64(10) {
		t.Fatalf("unexpected payload %+v", p)
	}
	if _, ok := p["timestamp"].(string); !ok {
		t.Fatalf("expected timestamp in payload")
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	fwd := NewForwarder(sink, ForwarderConfig{Buffer: 1}, nil)
	var onDrop int
	fwd.OnDrop = func() { onDrop++ }

	now := time.Now()
	fwd.Enqueue(Result{Plan: PlanA, Success: true}, now)
	<-sink.started // worker holds the first result

	fwd.Enqueue(Result{Plan: PlanA, Success: true}, now) // buffered
	fwd.Enqueue(Result{Plan: PlanA, Success: true}, now) // dropped

	if fwd.Dropped() != 1 || onDrop != 1 {
		t.Fatalf("expected 1 drop, got %d (callback %d)", fwd.Dropped(), onDrop)
	}

	go func() {
		for range sink.started {
		}
	}()
	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(sink.started)
	if sink.count() != 2 {
		t.Fatalf("expected 2 published results, got %d", sink.count())
	}
}

func TestForwarderCountsSinkFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	fwd := NewForwarder(sink, ForwarderConfig{}, nil)
	fwd.Enqueue(Result{Plan: PlanA}, time.Now())
	fwd.Enqueue(Result{Plan: PlanB}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fwd.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %d", fwd.Failed())
	}
}

func TestForwarderEnqueueAfterClose(t *testing.T) {
	sink := &recordingSink{}
	fwd := NewForwarder(sink, ForwarderConfig{}, nil)
	if err := fwd.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fwd.Enqueue(Result{Plan: PlanA}, time.Now())
	if sink.count() != 0 || fwd.Dropped() != 0 {
		t.Fatalf("closed forwarder should ignore results")
	}
}

func TestNilForwarderIsNoop(t *testing.T) {
	var fwd *Forwarder
	fwd.Enqueue(Result{Plan: PlanA}, time.Now())
	if err := fwd.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type flakySink struct {
	mu        sync.Mutex
	calls     int
	failures  int
	permanent bool
}

func (s *flakySink) Publish(ctx context.Context, event string, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		if s.permanent {
			return "", backoff.Permanent(errors.New("payload rejected"))
		}
		return "", errors.New("transient")
	}
	return "1-0", nil
}

func TestForwarderRetriesTransientFailures(t *testing.T) {
	sink := &flakySink{failures: 2}
	fwd := NewForwarder(sink, ForwarderConfig{MaxAttempts: 3}, nil)
	fwd.Enqueue(Result{Plan: PlanA, Success: true}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fwd.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", fwd.Failed())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calls != 3 {
		t.Fatalf("expected 3 sink calls, got %d", sink.calls)
	}
}

func TestForwarderDoesNotRetryPermanentFailures(t *testing.T) {
	sink := &flakySink{failures: 5, permanent: true}
	fwd := NewForwarder(sink, ForwarderConfig{MaxAttempts: 3}, nil)
	fwd.Enqueue(Result{Plan: PlanB}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fwd.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fwd.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", fwd.Failed())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calls != 1 {
		t.Fatalf("expected 1 sink call, got %d", sink.calls)
	}
}
