// Package main provides the CLI entry point for dualpath, an A/B routing layer
// that sends media operations either to a durable queue (Plan A) or to a
// direct bot handler (Plan B) and compares the two.
//
// # Basic Usage
//
// Start the server:
//
//	dualpath serve --config dualpath.yaml
//
// Inspect a running server:
//
//	dualpath analyze
//	dualpath export --format prometheus
//
// Compute a bucket offline:
//
//	dualpath decide user-42
//
// # Environment Variables
//
//   - DUALPATH_CONFIG: Path to configuration file (default: dualpath.yaml)
//   - DUALPATH_SERVER: Base URL of a running server for client commands
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "dualpath.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dualpath",
		Short: "dualpath - A/B routing between a queued and a direct execution path",
		Long: `dualpath routes media operations (image generation, speech synthesis, video)
either to a Redis Streams queue (Plan A) or directly to a Telegram bot handler
(Plan B), records per-plan outcomes, and reports which plan performs better.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDecideCmd(),
		buildAnalyzeCmd(),
		buildMetricsCmd(),
		buildExportCmd(),
		buildResetCmd(),
		buildDispatchCmd(),
		buildConfigCmd(),
		buildQueueCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("DUALPATH_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
