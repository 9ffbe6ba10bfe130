package abtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func newTestStore(cfg Config, opts ...StoreOption) *Store {
	return NewStore(func() Config { return cfg }, opts...)
}

func sizePtr(v int64) *int64 { return &v }

func TestRecordResultConcurrent(t *testing.T) {
	store := newTestStore(DefaultConfig())
	const n = 500

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			store.RecordResult(context.Background(), Result{
				Plan:            PlanA,
				Success:         v%5 != 0,
				ExecutionTimeMs: float64(v),
				ErrorMessage:    fmt.Sprintf("failure %d", v),
			})
		}(i)
	}
	wg.Wait()

	snap := store.Metrics()
	if snap.PlanA.TotalExecutions != n {
		t.Fatalf("expected %d executions, got %d", n, snap.PlanA.TotalExecutions)
	}
	if snap.PlanA.SuccessfulExecutions != n-n/5 {
		t.Fatalf("expected %d successes, got %d", n-n/5, snap.PlanA.SuccessfulExecutions)
	}
	wantMean := float64(n+1) / 2
	if math.Abs(snap.PlanA.AverageExecutionTimeMs-wantMean) > 1e-6 {
		t.Fatalf("expected mean %v, got %v", wantMean, snap.PlanA.AverageExecutionTimeMs)
	}
	if len(snap.PlanA.Errors) != n/5 {
		t.Fatalf("expected %d errors, got %d", n/5, len(snap.PlanA.Errors))
	}
	if math.Abs(snap.PlanA.ErrorRatePct-20) > 1e-9 {
		t.Fatalf("expected 20%% error rate, got %v", snap.PlanA.ErrorRatePct)
	}
	if snap.Overall.TotalTests != n {
		t.Fatalf("expected overall total %d, got %d", n, snap.Overall.TotalTests)
	}
	if snap.PlanB.TotalExecutions != 0 {
		t.Fatalf("plan B should be untouched")
	}
}

func TestRecordResultIncrementalMean(t *testing.T) {
	store := newTestStore(DefaultConfig())
	for _, v := range []float64{100, 200, 600} {
		store.RecordResult(context.Background(), Result{Plan: PlanB, Success: true, ExecutionTimeMs: v})
	}
	got := store.Metrics().PlanB.AverageExecutionTimeMs
	if math.Abs(got-300) > 1e-9 {
		t.Fatalf("expected 300, got %v", got)
	}
}

func TestResponseSizeAverageIgnoresMissingSizes(t *testing.T) {
	store := newTestStore(DefaultConfig())
	ctx := context.Background()
	store.RecordResult(ctx, Result{Plan: PlanB, Success: true, ResponseSize: sizePtr(100)})
	store.RecordResult(ctx, Result{Plan: PlanB, Success: false, ErrorMessage: "boom"})
	store.RecordResult(ctx, Result{Plan: PlanB, Success: true, ResponseSize: sizePtr(300)})

	m := store.Metrics().PlanB
	if m.ResponseSizeSamples != 2 {
		t.Fatalf("expected 2 size samples, got %d", m.ResponseSizeSamples)
	}
	if math.Abs(m.AverageResponseSize-200) > 1e-9 {
		t.Fatalf("expected average size 200, got %v", m.AverageResponseSize)
	}
}

func TestErrorHistoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorHistoryLimit = 3
	store := newTestStore(cfg)
	for i := 0; i < 5; i++ {
		store.RecordResult(context.Background(), Result{Plan: PlanA, ErrorMessage: fmt.Sprintf("e%d", i)})
	}
	m := store.Metrics().PlanA
	want := []string{"e2", "e3", "e4"}
	if len(m.Errors) != len(want) {
		t.Fatalf("expected %v, got %v", want, m.Errors)
	}
	for i := range want {
		if m.Errors[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, m.Errors)
		}
	}
	if m.TotalExecutions != 5 || m.ErrorRatePct != 100 {
		t.Fatalf("counters must not be affected by the history limit: %+v", m)
	}
}

func TestErrorHistoryUnbounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorHistoryLimit = 0
	store := newTestStore(cfg)
	for i := 0; i < 1500; i++ {
		store.RecordResult(context.Background(), Result{Plan: PlanA, ErrorMessage: "x"})
	}
	if got := len(store.Metrics().PlanA.Errors); got != 1500 {
		t.Fatalf("expected 1500 errors, got %d", got)
	}
}

func TestCollectMetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CollectMetrics = false
	store := newTestStore(cfg)
	store.RecordResult(context.Background(), Result{Plan: PlanA, Success: true, ExecutionTimeMs: 5})
	if got := store.Metrics().Overall.TotalTests; got != 0 {
		t.Fatalf("expected nothing recorded, got %d", got)
	}
}

func TestResetRestartsClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	store := newTestStore(DefaultConfig(), WithClock(func() time.Time { return now }))

	now = start.Add(time.Minute)
	store.RecordResult(context.Background(), Result{Plan: PlanA, Success: false, ErrorMessage: "x", ExecutionTimeMs: 10})
	store.RecordResult(context.Background(), Result{Plan: PlanB, Success: true, ExecutionTimeMs: 20})
	if got := store.Metrics().Overall.LastUpdate; !got.Equal(now) {
		t.Fatalf("expected lastUpdate %v, got %v", now, got)
	}

	now = start.Add(time.Hour)
	store.Reset()
	snap := store.Metrics()
	for _, p := range Plans {
		m := snap.For(p)
		if m.TotalExecutions != 0 || m.SuccessfulExecutions != 0 || m.AverageExecutionTimeMs != 0 ||
			m.AverageResponseSize != 0 || m.ErrorRatePct != 0 || len(m.Errors) != 0 {
			t.Fatalf("plan %s not reset: %+v", p, m)
		}
		if m.Errors == nil {
			t.Fatalf("plan %s errors should be an empty list", p)
		}
	}
	if snap.Overall.TotalTests != 0 || !snap.Overall.StartTime.Equal(now) {
		t.Fatalf("overall not reset: %+v", snap.Overall)
	}
}

func TestMetricsReturnsCopy(t *testing.T) {
	store := newTestStore(DefaultConfig())
	store.RecordResult(context.Background(), Result{Plan: PlanA, ErrorMessage: "original"})
	snap := store.Metrics()
	snap.PlanA.Errors[0] = "mutated"
	if got := store.Metrics().PlanA.Errors[0]; got != "original" {
		t.Fatalf("snapshot aliases store state: %q", got)
	}
}

func TestOverallMirrorsSplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlanAPercentage, cfg.PlanBPercentage = 25, 75
	store := newTestStore(cfg)
	store.RecordResult(context.Background(), Result{Plan: PlanB, Success: true})
	o := store.Metrics().Overall
	if o.PlanAPreferencePct != 25 || o.PlanBPreferencePct != 75 {
		t.Fatalf("unexpected preferences: %+v", o)
	}
}
