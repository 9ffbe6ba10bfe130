package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/bots"
	"github.com/haasonsaas/dualpath/internal/observability"
)

// SignificantResultEvent is published when an analysis becomes significant.
const SignificantResultEvent = "notification/ab-test-significant-result"

// Report run outcomes.
const (
	OutcomeSignificant    = "significant"
	OutcomeNotSignificant = "not_significant"
	OutcomeFailed         = "failed"
)

// Source supplies a consistent view of the experiment.
type Source interface {
	Snapshot() abtest.Export
}

// Publisher emits notification events.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any) (string, error)
}

// RunRecorder observes report runs.
type RunRecorder interface {
	RecordReportRun(outcome string)
}

// Report describes one run.
type Report struct {
	At          time.Time       `json:"at"`
	Outcome     string          `json:"outcome"`
	Significant bool            `json:"significant"`
	Analysis    abtest.Analysis `json:"analysis"`
	EventID     string          `json:"event_id,omitempty"`
	Notified    bool            `json:"notified"`
}

// Reporter periodically analyzes the experiment and announces significant
// results on the queue, optionally messaging an admin chat as well.
type Reporter struct {
	schedule  Schedule
	source    Source
	publisher Publisher

	admin       bots.Messenger
	adminChatID int64
	recorder    RunRecorder
	tracer      *observability.Tracer
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	last    *Report
	wg      sync.WaitGroup
}

// Option customizes the reporter.
type Option func(*Reporter)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAdminNotifier sends a text summary of significant results to chatID.
func WithAdminNotifier(m bots.Messenger, chatID int64) Option {
	return func(r *Reporter) {
		r.admin = m
		r.adminChatID = chatID
	}
}

// WithRunRecorder records run outcomes.
func WithRunRecorder(rec RunRecorder) Option {
	return func(r *Reporter) {
		r.recorder = rec
	}
}

// WithTracer traces every run.
func WithTracer(tracer *observability.Tracer) Option {
	return func(r *Reporter) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewReporter creates a reporter for expr.
func NewReporter(expr string, source Source, publisher Publisher, opts ...Option) (*Reporter, error) {
	if source == nil {
		return nil, errors.New("reporter source is required")
	}
	if publisher == nil {
		return nil, errors.New("reporter publisher is required")
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	r := &Reporter{
		schedule:  sched,
		source:    source,
		publisher: publisher,
		tracer:    observability.NewTracerFromProvider(otel.GetTracerProvider(), "dualpath/reporter"),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reporter")
	return r, nil
}

// Schedule returns the parsed schedule.
func (r *Reporter) Schedule() Schedule {
	return r.schedule
}

// Last returns the most recent report, if any.
func (r *Reporter) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Start launches the schedule loop. It returns immediately.
func (r *Reporter) Start(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info("reporter started", "schedule", r.schedule.Expr)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := r.schedule.Next(r.now())
			if next.IsZero() {
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Warn("report run failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight run until ctx is done.
func (r *Reporter) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce analyzes the experiment now and publishes when significant.
func (r *Reporter) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	err := observability.WithSpan(ctx, r.tracer, "reporter.run", func(ctx context.Context, span trace.Span) error {
		var err error
		report, err = r.run(ctx)
		span.SetAttributes(
			attribute.String("reporter.outcome", report.Outcome),
			attribute.String("reporter.winner", string(report.Analysis.Winner)),
			attribute.Float64("reporter.confidence", report.Analysis.Confidence),
		)
		return err
	})
	return report, err
}

func (r *Reporter) run(ctx context.Context) (Report, error) {
	snap := r.source.Snapshot()
	report := Report{
		At:          r.now(),
		Analysis:    snap.Analysis,
		Significant: snap.Analysis.Significant(),
		Outcome:     OutcomeNotSignificant,
	}

	var runErr error
	if report.Significant {
		payload := map[string]any{
			"analysis":  snap.Analysis,
			"metrics":   snap.Metrics,
			"timestamp": report.At.UTC().Format(time.RFC3339Nano),
		}
		id, err := r.publisher.Publish(ctx, SignificantResultEvent, payload)
		if err != nil {
			report.Outcome = OutcomeFailed
			runErr = fmt.Errorf("publish %s: %w", SignificantResultEvent, err)
		} else {
			report.Outcome = OutcomeSignificant
			report.EventID = id
			r.logger.InfoContext(ctx, "significant result published",
				"winner", snap.Analysis.Winner,
				"confidence", snap.Analysis.Confidence,
				"event_id", id,
			)
			report.Notified = r.notify(ctx, snap.Analysis)
		}
	}

	if r.recorder != nil {
		r.recorder.RecordReportRun(report.Outcome)
	}
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
	return report, runErr
}

func (r *Reporter) notify(ctx context.Context, analysis abtest.Analysis) bool {
	if r.admin == nil || r.adminChatID == 0 {
		return false
	}
	text := fmt.Sprintf("A/B test result (confidence %.0f%%)\n%s", analysis.Confidence, analysis.Recommendation)
	if err := r.admin.SendText(ctx, r.adminChatID, text); err != nil {
		r.logger.WarnContext(ctx, "admin notification failed", "bot", r.admin.Name(), "error", err)
		return false
	}
	return true
}
