package dispatch

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// Response describes a finished dispatch.
type Response struct {
	Plan            abtest.Plan `json:"plan"`
	Operation       string      `json:"operation"`
	Identity        string      `json:"identity,omitempty"`
	Reason          string      `json:"reason"`
	Status          string      `json:"status"`
	Queued          bool        `json:"queued"`
	Event           string      `json:"event,omitempty"`
	EventID         string      `json:"eventId,omitempty"`
	Detail          string      `json:"detail,omitempty"`
	ExecutionTimeMs float64     `json:"executionTimeMs"`
}

// Text renders a one-line summary naming the plan, caller and timing.
func (r Response) Text() string {
	var b strings.Builder
	who := r.Identity
	if who == "" {
		who = "anonymous caller"
	}
	if r.Queued {
		fmt.Fprintf(&b, "Plan %s: %s queued for %s as %s", r.Plan, r.Operation, who, r.Event)
		if r.EventID != "" {
			fmt.Fprintf(&b, " (id %s)", r.EventID)
		}
	} else {
		fmt.Fprintf(&b, "Plan %s: %s completed for %s", r.Plan, r.Operation, who)
		if r.Detail != "" {
			fmt.Fprintf(&b, ", %s", r.Detail)
		}
	}
	fmt.Fprintf(&b, " in %.0fms", r.ExecutionTimeMs)
	return b.String()
}
