package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// Dispatch reasons recorded with every result.
const (
	ReasonSplit         = "split"
	ReasonFallback      = "fallback"
	ReasonQueueDisabled = "queue_disabled"
)

// Gates are the operational overrides applied before the split.
type Gates struct {
	// FallbackMode forces every call onto Plan B.
	FallbackMode bool
	// UseQueue=false disables Plan A.
	UseQueue bool
}

// Experiment is the part of abtest.Service the router needs.
type Experiment interface {
	Config() abtest.Config
	DecidePlan(identifier string) abtest.Plan
	RecordResult(ctx context.Context, r abtest.Result)
}

// Recorder receives dispatch metrics.
type Recorder interface {
	RecordDispatch(operation string, plan abtest.Plan, reason string, success bool, duration time.Duration)
	RecordSlowResult(operation string, plan abtest.Plan)
}

// Router decides the plan for each operation, runs it and records the outcome.
type Router struct {
	experiment Experiment
	registries Registries
	planA      *PlanAExecutor
	planB      *PlanBExecutor
	gates      func() Gates
	now        func() time.Time
	tracer     trace.Tracer
	recorder   Recorder
	logger     *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithGates sets the override source. It is read on every call.
func WithGates(gates func() Gates) RouterOption {
	return func(r *Router) {
		if gates != nil {
			r.gates = gates
		}
	}
}

// WithClock overrides the clock used for measurement.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) RouterOption {
	return func(r *Router) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) RouterOption {
	return func(r *Router) {
		r.recorder = recorder
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router over both registries.
func NewRouter(experiment Experiment, registries Registries, publisher Publisher, collaborators Collaborators, opts ...RouterOption) *Router {
	r := &Router{
		experiment: experiment,
		registries: registries,
		gates:      func() Gates { return Gates{UseQueue: true} },
		now:        time.Now,
		tracer:     otel.Tracer("dualpath/dispatch"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	r.planA = NewPlanAExecutor(registries.Events, publisher, r.now)
	r.planB = NewPlanBExecutor(registries.Bindings, collaborators)
	return r
}

// Operations lists every operation either plan can run.
func (r *Router) Operations() []string {
	return r.registries.Names()
}

// Handle dispatches the named operation.
func (r *Router) Handle(ctx context.Context, name string, args json.RawMessage) (Response, error) {
	return r.handle(ctx, name, args, false)
}

// HandleWithFallback dispatches the named operation on Plan B regardless of
// the split. Callers use it to retry a failed queued call directly.
func (r *Router) HandleWithFallback(ctx context.Context, name string, args json.RawMessage) (Response, error) {
	return r.handle(ctx, name, args, true)
}

func (r *Router) handle(ctx context.Context, name string, args json.RawMessage, forceFallback bool) (Response, error) {
	kind := Kind(name)
	if !r.registries.Known(kind) {
		return Response{}, abtest.ErrUnsupportedOperation(name, abtest.PlanA, abtest.PlanB)
	}
	op, err := ParseOperation(kind, args)
	if err != nil {
		return Response{}, err
	}

	identity := op.Identity()
	plan, reason := r.choose(identity, forceFallback)

	ctx, span := r.tracer.Start(ctx, "dispatch."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dispatch.operation", name),
			attribute.String("dispatch.plan", plan.String()),
			attribute.String("dispatch.reason", reason),
			attribute.Bool("dispatch.identified", identity != ""),
		),
	)
	defer span.End()

	resp, err := r.measure(ctx, op, plan, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WarnContext(ctx, "dispatch failed",
			"operation", name,
			"plan", plan.String(),
			"reason", reason,
			"error", err,
		)
		return resp, err
	}
	span.SetAttributes(attribute.Float64("dispatch.execution_time_ms", resp.ExecutionTimeMs))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (r *Router) choose(identity string, forceFallback bool) (abtest.Plan, string) {
	gates := r.gates()
	switch {
	case forceFallback || gates.FallbackMode:
		return abtest.PlanB, ReasonFallback
	case !gates.UseQueue:
		return abtest.PlanB, ReasonQueueDisabled
	default:
		return r.experiment.DecidePlan(identity), ReasonSplit
	}
}

// measure runs op on plan and records the result whether or not it failed.
func (r *Router) measure(ctx context.Context, op Operation, plan abtest.Plan, reason string) (Response, error) {
	name := string(op.Kind())
	resp := Response{
		Plan:      plan,
		Operation: name,
		Identity:  op.Identity(),
		Reason:    reason,
	}

	start := r.now()
	var (
		size *int64
		err  error
	)
	switch plan {
	case abtest.PlanA:
		var ack Ack
		ack, err = r.planA.Publish(ctx, op)
		resp.Queued = ack.Enqueued
		resp.Event = ack.Event
		resp.EventID = ack.MessageID
	default:
		var out Outcome
		out, err = r.planB.Invoke(ctx, op)
		size = out.ResponseSize
		resp.Detail = out.Detail
	}
	elapsed := r.now().Sub(start)
	resp.ExecutionTimeMs = float64(elapsed.Microseconds()) / 1000

	result := abtest.Result{
		Plan:            plan,
		Success:         err == nil,
		ExecutionTimeMs: resp.ExecutionTimeMs,
		ResponseSize:    size,
		Metadata: map[string]any{
			"operation": name,
			"identity":  resp.Identity,
			"reason":    reason,
		},
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	if limit := r.experiment.Config().MaxExecutionTimeMs; limit > 0 && resp.ExecutionTimeMs > float64(limit) {
		result.Metadata["slow"] = true
		if r.recorder != nil {
			r.recorder.RecordSlowResult(name, plan)
		}
	}
	r.experiment.RecordResult(ctx, result)
	if r.recorder != nil {
		r.recorder.RecordDispatch(name, plan, reason, err == nil, elapsed)
	}

	if err != nil {
		return resp, err
	}
	if resp.Queued {
		resp.Status = "queued"
	} else {
		resp.Status = "completed"
	}
	return resp, nil
}
