package abtest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store accumulates per-plan execution statistics.
//
// Every mutation of a plan's counters and averages happens under mu, so for N
// concurrent RecordResult calls the total equals N and the average equals the
// arithmetic mean of the recorded values.
type Store struct {
	config    func() Config
	now       func() time.Time
	forwarder *Forwarder
	logger    *slog.Logger

	mu      sync.Mutex
	plans   [2]PlanMetrics
	overall OverallStats
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithForwarder sets the analytics forwarder.
func WithForwarder(f *Forwarder) StoreOption {
	return func(s *Store) {
		s.forwarder = f
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store. config is read on every call so that
// hot-reloaded settings take effect immediately.
func NewStore(config func() Config, opts ...StoreOption) *Store {
	s := &Store{
		config: config,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "abtest-store")
	s.resetLocked(s.config())
	return s
}

// RecordResult folds r into the plan's statistics.
func (s *Store) RecordResult(ctx context.Context, r Result) {
	cfg := s.config()
	if !cfg.CollectMetrics {
		return
	}
	if r.Plan != PlanA && r.Plan != PlanB {
		s.logger.Warn("result for unknown plan ignored", "plan", int(r.Plan))
		return
	}
	now := s.now()

	s.mu.Lock()
	m := &s.plans[r.Plan]
	m.TotalExecutions++
	n := float64(m.TotalExecutions)
	if r.Success {
		m.SuccessfulExecutions++
	} else {
		m.Errors = append(m.Errors, r.ErrorMessage)
		if limit := cfg.ErrorHistoryLimit; limit > 0 && len(m.Errors) > limit {
			m.Errors = append(m.Errors[:0:0], m.Errors[len(m.Errors)-limit:]...)
		}
	}
	m.AverageExecutionTimeMs = (m.AverageExecutionTimeMs*(n-1) + r.ExecutionTimeMs) / n
	if r.ResponseSize != nil {
		m.ResponseSizeSamples++
		k := float64(m.ResponseSizeSamples)
		m.AverageResponseSize = (m.AverageResponseSize*(k-1) + float64(*r.ResponseSize)) / k
	}
	m.ErrorRatePct = float64(m.TotalExecutions-m.SuccessfulExecutions) / n * 100
	s.overall.TotalTests = s.plans[PlanA].TotalExecutions + s.plans[PlanB].TotalExecutions
	s.overall.PlanAPreferencePct = float64(cfg.PlanAPercentage)
	s.overall.PlanBPreferencePct = float64(cfg.PlanBPercentage)
	s.overall.LastUpdate = now
	s.mu.Unlock()

	if cfg.LogResults {
		s.logger.InfoContext(ctx, "plan result recorded",
			"plan", r.Plan.String(),
			"success", r.Success,
			"execution_time_ms", r.ExecutionTimeMs,
			"error", r.ErrorMessage,
		)
	}
	s.forwarder.Enqueue(r, now)
}

// Metrics returns a deep copy of the current statistics.
func (s *Store) Metrics() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Reset zeroes both plans and restarts the experiment clock.
func (s *Store) Reset() {
	cfg := s.config()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(cfg)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		PlanA:   s.plans[PlanA].clone(),
		PlanB:   s.plans[PlanB].clone(),
		Overall: s.overall,
	}
}

func (s *Store) resetLocked(cfg Config) {
	now := s.now()
	s.plans = [2]PlanMetrics{
		{Errors: []string{}},
		{Errors: []string{}},
	}
	s.overall = OverallStats{
		PlanAPreferencePct: float64(cfg.PlanAPercentage),
		PlanBPreferencePct: float64(cfg.PlanBPercentage),
		StartTime:          now,
		LastUpdate:         now,
	}
}
