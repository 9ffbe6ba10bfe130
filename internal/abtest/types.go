// Package abtest implements deterministic A/B traffic splitting between the
// queued execution path (Plan A) and the direct execution path (Plan B),
// together with the online statistics used to decide which path to promote.
package abtest

import (
	"fmt"
	"strings"
	"time"
)

// Plan identifies an execution path.
type Plan int

const (
	// PlanA publishes the operation onto the durable queue and returns immediately.
	PlanA Plan = iota
	// PlanB invokes a local handler and waits for it to finish.
	PlanB
)

// Plans lists every plan in display order.
var Plans = []Plan{PlanA, PlanB}

// String returns "A" or "B".
func (p Plan) String() string {
	switch p {
	case PlanA:
		return "A"
	case PlanB:
		return "B"
	default:
		return fmt.Sprintf("Plan(%d)", int(p))
	}
}

// Label returns the registry label used in error messages ("planA" / "planB").
func (p Plan) Label() string {
	return "plan" + p.String()
}

// MarshalText encodes the plan as "A" or "B".
func (p Plan) MarshalText() ([]byte, error) {
	if p != PlanA && p != PlanB {
		return nil, fmt.Errorf("invalid plan %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes "A"/"B" (case-insensitive, "planA" accepted).
func (p *Plan) UnmarshalText(text []byte) error {
	parsed, err := ParsePlan(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePlan parses a plan name.
func ParsePlan(value string) (Plan, error) {
	switch strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(strings.ToLower(value)), "plan")) {
	case "A":
		return PlanA, nil
	case "B":
		return PlanB, nil
	default:
		return PlanA, fmt.Errorf("unknown plan %q", value)
	}
}

// Result is the outcome of one finished (or failed) operation invocation.
// It is consumed exactly once by Store.RecordResult.
type Result struct {
	Plan            Plan           `json:"plan"`
	Success         bool           `json:"success"`
	ExecutionTimeMs float64        `json:"executionTimeMs"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	ResponseSize    *int64         `json:"responseSize,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// PlanMetrics holds the running statistics of one plan.
type PlanMetrics struct {
	TotalExecutions        int64    `json:"totalExecutions"`
	SuccessfulExecutions   int64    `json:"successfulExecutions"`
	AverageExecutionTimeMs float64  `json:"averageExecutionTimeMs"`
	AverageResponseSize    float64  `json:"averageResponseSize"`
	ResponseSizeSamples    int64    `json:"responseSizeSamples"`
	ErrorRatePct           float64  `json:"errorRatePct"`
	Errors                 []string `json:"errors"`
}

// SuccessRate returns successful/total as a percentage, or 0 when empty.
func (m PlanMetrics) SuccessRate() float64 {
	if m.TotalExecutions == 0 {
		return 0
	}
	return float64(m.SuccessfulExecutions) / float64(m.TotalExecutions) * 100
}

func (m PlanMetrics) clone() PlanMetrics {
	out := m
	out.Errors = make([]string, len(m.Errors))
	copy(out.Errors, m.Errors)
	return out
}

// OverallStats summarizes the experiment across both plans.
type OverallStats struct {
	TotalTests         int64     `json:"totalTests"`
	PlanAPreferencePct float64   `json:"planAPreferencePct"`
	PlanBPreferencePct float64   `json:"planBPreferencePct"`
	StartTime          time.Time `json:"startTime"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	PlanA   PlanMetrics  `json:"planA"`
	PlanB   PlanMetrics  `json:"planB"`
	Overall OverallStats `json:"overall"`
}

// For returns the metrics of the given plan.
func (s Snapshot) For(p Plan) PlanMetrics {
	if p == PlanB {
		return s.PlanB
	}
	return s.PlanA
}

// Winner is the outcome of an analysis.
type Winner string

const (
	WinnerA            Winner = "A"
	WinnerB            Winner = "B"
	WinnerInconclusive Winner = "inconclusive"
)

// PlanSummary is the per-plan part of an analysis.
type PlanSummary struct {
	SuccessRate float64 `json:"successRate"`
	AvgTime     float64 `json:"avgTime"`
	Executions  int64   `json:"executions"`
}

// AnalysisDetails carries the figures the winner was decided on.
type AnalysisDetails struct {
	PlanA PlanSummary `json:"planA"`
	PlanB PlanSummary `json:"planB"`
}

// Analysis is the result of comparing both plans.
type Analysis struct {
	Winner         Winner          `json:"winner"`
	Confidence     float64         `json:"confidence"`
	Recommendation string          `json:"recommendation"`
	Details        AnalysisDetails `json:"details"`
}
