package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/config"
	"github.com/haasonsaas/dualpath/internal/dispatch"
	"github.com/haasonsaas/dualpath/internal/queue"
)

// =============================================================================
// Experiment Handlers
// =============================================================================

type decideOverrides struct {
	planA *int
	hash  string
}

func runDecide(out io.Writer, configPath string, overrides decideOverrides, identifiers []string) error {
	cfg := abtest.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded.Experiment
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if overrides.planA != nil {
		cfg.PlanAPercentage = *overrides.planA
		cfg.PlanBPercentage = 100 - *overrides.planA
	}
	if overrides.hash != "" {
		cfg.HashAlgorithm = abtest.HashAlgorithm(overrides.hash)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	for i, id := range identifiers {
		if id == "" {
			return fmt.Errorf("identifier %d is empty: empty identifiers are routed at random", i+1)
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "IDENTIFIER\tBUCKET\tPLAN\n")
	for _, id := range identifiers {
		plan := abtest.DecidePlan(cfg, id, nil)
		fmt.Fprintf(w, "%s\t%d\t%s\n", id, abtest.Bucket(cfg.HashAlgorithm, id), plan.Label())
	}
	return w.Flush()
}

type analysisResponse struct {
	abtest.Analysis
	Significant bool `json:"significant"`
}

func runAnalyze(ctx context.Context, out io.Writer, server string, asJSON bool) error {
	client := newAPIClient(server)
	if asJSON {
		data, err := client.getRaw(ctx, "/v1/abtest/analysis")
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	var analysis analysisResponse
	if err := client.getJSON(ctx, "/v1/abtest/analysis", &analysis); err != nil {
		return err
	}
	fmt.Fprintf(out, "Winner:      %s\n", analysis.Winner)
	fmt.Fprintf(out, "Confidence:  %.1f%%\n", analysis.Confidence)
	fmt.Fprintf(out, "Significant: %t\n", analysis.Significant)
	fmt.Fprintf(out, "%s\n\n", analysis.Recommendation)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "PLAN\tEXECUTIONS\tSUCCESS RATE\tAVG TIME\n")
	fmt.Fprintf(w, "A\t%d\t%.1f%%\t%.0fms\n", analysis.Details.PlanA.Executions,
		analysis.Details.PlanA.SuccessRate, analysis.Details.PlanA.AvgTime)
	fmt.Fprintf(w, "B\t%d\t%.1f%%\t%.0fms\n", analysis.Details.PlanB.Executions,
		analysis.Details.PlanB.SuccessRate, analysis.Details.PlanB.AvgTime)
	return w.Flush()
}

func runMetrics(ctx context.Context, out io.Writer, server string) error {
	var snap abtest.Snapshot
	if err := newAPIClient(server).getJSON(ctx, "/v1/abtest/metrics", &snap); err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "PLAN\tTOTAL\tSUCCESS\tERROR RATE\tAVG TIME\tAVG SIZE\n")
	for _, row := range []struct {
		name string
		m    abtest.PlanMetrics
	}{{"A", snap.PlanA}, {"B", snap.PlanB}} {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.0fms\t%.0f\n", row.name, row.m.TotalExecutions,
			row.m.SuccessfulExecutions, row.m.ErrorRatePct, row.m.AverageExecutionTimeMs, row.m.AverageResponseSize)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal tests: %d (since %s)\n", snap.Overall.TotalTests,
		snap.Overall.StartTime.Format(time.RFC3339))
	return nil
}

func runExport(ctx context.Context, out io.Writer, server, format string) error {
	path := "/v1/abtest/export?format=" + url.QueryEscape(format)
	data, err := newAPIClient(server).getRaw(ctx, path)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func runReset(ctx context.Context, out io.Writer, server string, yes bool) error {
	if !yes {
		fmt.Fprint(out, "Reset all experiment metrics? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}
	if err := newAPIClient(server).postJSON(ctx, "/v1/abtest/reset", nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "Experiment metrics reset.")
	return nil
}

func runDispatch(ctx context.Context, out io.Writer, server, operation, payload string, fallback bool) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("arguments must be valid JSON")
	}
	path := "/v1/operations/" + url.PathEscape(operation)
	if fallback {
		path += "?fallback=" + strconv.FormatBool(true)
	}
	var resp dispatch.Response
	if err := newAPIClient(server).postJSON(ctx, path, []byte(payload), &resp); err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Text())
	return nil
}

// =============================================================================
// Config Handlers
// =============================================================================

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s is invalid:\n", configPath)
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
		}
		return err
	}
	fmt.Fprintf(out, "%s is valid\n", configPath)
	fmt.Fprintf(out, "  split: plan A %d%% / plan B %d%% (hash %s, enabled %t)\n",
		cfg.Experiment.PlanAPercentage, cfg.Experiment.PlanBPercentage,
		cfg.Experiment.HashAlgorithm, cfg.Experiment.Enabled)
	gates := cfg.Routing.Gates()
	fmt.Fprintf(out, "  routing: fallback_mode=%t use_queue=%t\n", gates.FallbackMode, gates.UseQueue)
	fmt.Fprintf(out, "  bots: %d, reporter: %t (%s)\n", len(cfg.Telegram.Bots), cfg.Reporter.Enabled, cfg.Reporter.Schedule)
	return nil
}

// =============================================================================
// Queue Handlers
// =============================================================================

func runQueueRecent(ctx context.Context, out io.Writer, configPath, event string, count int64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pub, err := queue.NewPublisher(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer pub.Close()

	depth, err := pub.Depth(ctx, event)
	if err != nil {
		return err
	}
	messages, err := pub.Recent(ctx, event, count)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d messages\n", pub.StreamName(event), depth)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, m := range messages {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}
