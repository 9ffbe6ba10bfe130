package abtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON       Format = "json"
	FormatPrometheus Format = "prometheus"
)

// Export is the document produced by Service.Export.
type Export struct {
	Metrics    Snapshot  `json:"metrics"`
	Config     Config    `json:"config"`
	Analysis   Analysis  `json:"analysis"`
	ExportTime time.Time `json:"exportTime"`
}

// NormalizeFormat folds case and whitespace and resolves aliases: "" is
// json and "prom" is prometheus. Unknown values are returned folded.
func NormalizeFormat(value string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FormatJSON
	case "prom":
		return FormatPrometheus
	default:
		return f
	}
}

// Encode renders e in the requested format.
func (e Export) Encode(format Format) ([]byte, error) {
	switch NormalizeFormat(string(format)) {
	case FormatJSON:
		return json.MarshalIndent(e, "", "  ")
	case FormatPrometheus:
		var buf bytes.Buffer
		if err := promTemplate.Execute(&buf, e); err != nil {
			return nil, fmt.Errorf("render prometheus export: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrInvalidArguments(fmt.Sprintf("unsupported export format %q", format), nil)
	}
}

var promTemplate = template.Must(template.New("prometheus").Funcs(template.FuncMap{
	"winnerValue": func(w Winner) int {
		switch w {
		case WinnerA:
			return 1
		case WinnerB:
			return 2
		default:
			return 0
		}
	},
}).Parse(`# HELP dualpath_plan_executions_total Total executions per plan
# TYPE dualpath_plan_executions_total counter
dualpath_plan_executions_total{plan="A"} {{.Metrics.PlanA.TotalExecutions}}
dualpath_plan_executions_total{plan="B"} {{.Metrics.PlanB.TotalExecutions}}
# HELP dualpath_plan_successes_total Successful executions per plan
# TYPE dualpath_plan_successes_total counter
dualpath_plan_successes_total{plan="A"} {{.Metrics.PlanA.SuccessfulExecutions}}
dualpath_plan_successes_total{plan="B"} {{.Metrics.PlanB.SuccessfulExecutions}}
# HELP dualpath_plan_execution_time_ms_avg Average execution time per plan in milliseconds
# TYPE dualpath_plan_execution_time_ms_avg gauge
dualpath_plan_execution_time_ms_avg{plan="A"} {{.Metrics.PlanA.AverageExecutionTimeMs}}
dualpath_plan_execution_time_ms_avg{plan="B"} {{.Metrics.PlanB.AverageExecutionTimeMs}}
# HELP dualpath_plan_response_size_avg Average response size per plan
# TYPE dualpath_plan_response_size_avg gauge
dualpath_plan_response_size_avg{plan="A"} {{.Metrics.PlanA.AverageResponseSize}}
dualpath_plan_response_size_avg{plan="B"} {{.Metrics.PlanB.AverageResponseSize}}
# HELP dualpath_plan_error_rate_pct Error rate per plan in percent
# TYPE dualpath_plan_error_rate_pct gauge
dualpath_plan_error_rate_pct{plan="A"} {{.Metrics.PlanA.ErrorRatePct}}
dualpath_plan_error_rate_pct{plan="B"} {{.Metrics.PlanB.ErrorRatePct}}
# HELP dualpath_tests_total Total recorded executions across plans
# TYPE dualpath_tests_total counter
dualpath_tests_total {{.Metrics.Overall.TotalTests}}
# HELP dualpath_analysis_confidence Confidence of the latest analysis
# TYPE dualpath_analysis_confidence gauge
dualpath_analysis_confidence {{.Analysis.Confidence}}
# HELP dualpath_analysis_winner Winner of the latest analysis (0 inconclusive, 1 A, 2 B)
# TYPE dualpath_analysis_winner gauge
dualpath_analysis_winner {{winnerValue .Analysis.Winner}}
`))
