package abtest

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Service is the experiment object shared by the router, the HTTP surface and
// the reporter. It owns the live configuration and the metrics store.
type Service struct {
	cfg    atomic.Pointer[Config]
	store  *Store
	rnd    func() float64
	now    func() time.Time
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	rnd       func() float64
	now       func() time.Time
	forwarder *Forwarder
	logger    *slog.Logger
}

// WithRandom sets the random source used when no identifier is available.
// It must return values in [0,1).
func WithRandom(rnd func() float64) ServiceOption {
	return func(o *serviceOptions) {
		if rnd != nil {
			o.rnd = rnd
		}
	}
}

// WithServiceClock overrides the clock.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAnalyticsForwarder sets where recorded results are forwarded.
func WithAnalyticsForwarder(f *Forwarder) ServiceOption {
	return func(o *serviceOptions) {
		o.forwarder = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewService validates cfg and creates the experiment.
func NewService(cfg Config, opts ...ServiceOption) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := serviceOptions{
		rnd:    rand.Float64,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		rnd:    o.rnd,
		now:    o.now,
		logger: o.logger.With("component", "abtest"),
	}
	s.cfg.Store(&cfg)
	s.store = NewStore(s.Config,
		WithClock(o.now),
		WithForwarder(o.forwarder),
		WithStoreLogger(o.logger),
	)
	return s, nil
}

// Config returns the live configuration.
func (s *Service) Config() Config {
	return *s.cfg.Load()
}

// UpdateConfig validates and swaps in cfg. The previous configuration stays
// active when cfg is invalid. Recorded metrics are kept.
func (s *Service) UpdateConfig(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := s.cfg.Swap(&cfg)
	if prev.PlanAPercentage != cfg.PlanAPercentage || prev.Enabled != cfg.Enabled {
		s.logger.Info("experiment split updated",
			"enabled", cfg.Enabled,
			"plan_a_percentage", cfg.PlanAPercentage,
			"plan_b_percentage", cfg.PlanBPercentage,
		)
	}
	return nil
}

// DecidePlan picks the plan for identifier under the live configuration.
func (s *Service) DecidePlan(identifier string) Plan {
	return DecidePlan(s.Config(), identifier, s.rnd)
}

// RecordResult folds r into the statistics.
func (s *Service) RecordResult(ctx context.Context, r Result) {
	s.store.RecordResult(ctx, r)
}

// Metrics returns a snapshot of the statistics.
func (s *Service) Metrics() Snapshot {
	return s.store.Metrics()
}

// Reset zeroes the statistics.
func (s *Service) Reset() {
	s.store.Reset()
	s.logger.Info("experiment metrics reset")
}

// Analyze compares both plans using the configured minimum sample size.
func (s *Service) Analyze() Analysis {
	return Analyze(s.Metrics(), s.Config().MinSampleSize)
}

// IsSignificant reports whether the current analysis is significant.
func (s *Service) IsSignificant() bool {
	return s.Analyze().Significant()
}

// Snapshot builds an export document from a single snapshot.
func (s *Service) Snapshot() Export {
	cfg := s.Config()
	snap := s.Metrics()
	return Export{
		Metrics:    snap,
		Config:     cfg,
		Analysis:   Analyze(snap, cfg.MinSampleSize),
		ExportTime: s.now(),
	}
}

// Export renders the current state in format ("json" or "prometheus").
func (s *Service) Export(format Format) ([]byte, error) {
	return s.Snapshot().Encode(format)
}
