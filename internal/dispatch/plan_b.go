package dispatch

import (
	"context"
	"fmt"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// PlanBExecutor runs operations synchronously through local handlers.
type PlanBExecutor struct {
	bindings      map[Kind]Binding
	collaborators Collaborators
}

// NewPlanBExecutor creates the direct-path executor.
func NewPlanBExecutor(bindings map[Kind]Binding, collaborators Collaborators) *PlanBExecutor {
	return &PlanBExecutor{bindings: bindings, collaborators: collaborators}
}

// Invoke resolves the collaborator for op and waits for its handler.
func (e *PlanBExecutor) Invoke(ctx context.Context, op Operation) (Outcome, error) {
	binding, ok := e.bindings[op.Kind()]
	if !ok || binding.Handler == nil {
		return Outcome{}, abtest.ErrUnsupportedOperation(string(op.Kind()), abtest.PlanB)
	}
	if e.collaborators == nil {
		return Outcome{}, abtest.ErrCollaboratorNotFound(binding.Collaborator, nil)
	}
	messenger, err := e.collaborators.Resolve(binding.Collaborator)
	if err != nil {
		return Outcome{}, abtest.ErrCollaboratorNotFound(binding.Collaborator, err)
	}

	out, err := binding.Handler(ctx, messenger, op)
	if err != nil {
		if abtest.GetErrorCode(err) != "" {
			return out, err
		}
		return out, abtest.ErrHandlerExecution(fmt.Sprintf("%s handler failed", op.Kind()), err).
			WithContext("operation", string(op.Kind()))
	}
	return out, nil
}
