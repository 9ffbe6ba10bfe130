package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// Publisher writes one event to the durable queue.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any) (string, error)
}

// Ack acknowledges a queued operation.
type Ack struct {
	Enqueued  bool
	Identity  string
	Event     string
	MessageID string
}

// PlanAExecutor publishes operations to the queue without waiting for consumers.
type PlanAExecutor struct {
	events    map[Kind]string
	publisher Publisher
	now       func() time.Time
}

// NewPlanAExecutor creates the queued-path executor.
func NewPlanAExecutor(events map[Kind]string, publisher Publisher, now func() time.Time) *PlanAExecutor {
	if now == nil {
		now = time.Now
	}
	return &PlanAExecutor{events: events, publisher: publisher, now: now}
}

// Publish enqueues op. Publish failures are returned as-is; nothing is retried.
func (e *PlanAExecutor) Publish(ctx context.Context, op Operation) (Ack, error) {
	event, ok := e.events[op.Kind()]
	if !ok {
		return Ack{}, abtest.ErrUnsupportedOperation(string(op.Kind()), abtest.PlanA)
	}
	if e.publisher == nil {
		return Ack{}, abtest.ErrHandlerExecution("queue publisher is not configured", nil)
	}

	payload, err := Payload(op)
	if err != nil {
		return Ack{}, abtest.ErrInvalidArguments("encode event payload", err)
	}
	payload["identity"] = op.Identity()
	payload["requested_at"] = e.now().UTC().Format(time.RFC3339Nano)

	id, err := e.publisher.Publish(ctx, event, payload)
	if err != nil {
		return Ack{}, abtest.ErrHandlerExecution(fmt.Sprintf("publish %s", event), err).
			WithContext("event", event)
	}
	return Ack{
		Enqueued:  true,
		Identity:  op.Identity(),
		Event:     event,
		MessageID: id,
	}, nil
}
