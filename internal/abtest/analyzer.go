package abtest

import (
	"fmt"
	"math"
)

const (
	maxConfidence          = 95.0
	confidencePerPoint     = 2.0
	significanceConfidence = 80.0
)

// Analyze compares both plans in snap.
//
// A plan wins when its success rate is strictly higher and its average
// execution time is not slower. Confidence is min(95, 2*|rateA-rateB|), a
// heuristic rather than a statistical test.
func Analyze(snap Snapshot, minSampleSize int) Analysis {
	a, b := snap.PlanA, snap.PlanB
	details := AnalysisDetails{
		PlanA: PlanSummary{SuccessRate: a.SuccessRate(), AvgTime: a.AverageExecutionTimeMs, Executions: a.TotalExecutions},
		PlanB: PlanSummary{SuccessRate: b.SuccessRate(), AvgTime: b.AverageExecutionTimeMs, Executions: b.TotalExecutions},
	}

	if a.TotalExecutions < int64(minSampleSize) || b.TotalExecutions < int64(minSampleSize) {
		return Analysis{
			Winner:     WinnerInconclusive,
			Confidence: 0,
			Recommendation: fmt.Sprintf("insufficient data, need >= %d executions per plan (plan A: %d, plan B: %d)",
				minSampleSize, a.TotalExecutions, b.TotalExecutions),
			Details: details,
		}
	}

	rateA, rateB := details.PlanA.SuccessRate, details.PlanB.SuccessRate
	timeA, timeB := details.PlanA.AvgTime, details.PlanB.AvgTime

	winner := WinnerInconclusive
	switch {
	case rateA > rateB && timeA <= timeB:
		winner = WinnerA
	case rateB > rateA && timeB <= timeA:
		winner = WinnerB
	}

	confidence := math.Min(maxConfidence, math.Abs(rateA-rateB)*confidencePerPoint)

	var recommendation string
	switch winner {
	case WinnerA:
		recommendation = fmt.Sprintf("Plan A (queued) performs better: %.1f%% vs %.1f%% success, %.0fms vs %.0fms average",
			rateA, rateB, timeA, timeB)
	case WinnerB:
		recommendation = fmt.Sprintf("Plan B (direct) performs better: %.1f%% vs %.1f%% success, %.0fms vs %.0fms average",
			rateB, rateA, timeB, timeA)
	default:
		recommendation = fmt.Sprintf("No clear winner: plan A %.1f%% success at %.0fms, plan B %.1f%% success at %.0fms",
			rateA, timeA, rateB, timeB)
	}

	return Analysis{
		Winner:         winner,
		Confidence:     confidence,
		Recommendation: recommendation,
		Details:        details,
	}
}

// Significant reports whether the analysis is strong enough to act on.
func (a Analysis) Significant() bool {
	return a.Confidence > significanceConfidence && a.Winner != WinnerInconclusive
}
