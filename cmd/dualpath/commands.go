package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dualpath server",
		Long: `Start the dualpath server.

The server will:
1. Load configuration from the specified file (or dualpath.yaml)
2. Connect to Redis for the queued path and analytics
3. Start the configured Telegram bots and generation handlers
4. Serve the HTTP API, health checks and Prometheus metrics
5. Run the periodic significance reporter
6. Reload the experiment split and routing gates when the file changes

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  dualpath serve

  # Start with custom config and debug logging
  dualpath serve --config /etc/dualpath/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Experiment Commands
// =============================================================================

func buildDecideCmd() *cobra.Command {
	var (
		configPath string
		planA      int
		hash       string
	)
	cmd := &cobra.Command{
		Use:   "decide <identifier>...",
		Short: "Show which plan identifiers are assigned to",
		Long: `Compute plan assignments offline using the same bucketing as the server.

The split and hash algorithm come from the configuration file when it exists;
--plan-a and --hash override them.`,
		Example: `  dualpath decide 12345 67890
  dualpath decide --plan-a 20 --hash legacy user-1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := decideOverrides{hash: hash}
			if cmd.Flags().Changed("plan-a") {
				overrides.planA = &planA
			}
			return runDecide(cmd.OutOrStdout(), resolveConfigPath(configPath), overrides, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&planA, "plan-a", 50, "Plan A percentage (0-100)")
	cmd.Flags().StringVar(&hash, "hash", "", "Hash algorithm (fnv1a or legacy)")
	return cmd
}

func buildAnalyzeCmd() *cobra.Command {
	var (
		server string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show the current analysis from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), resolveServer(server), asJSON)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL (default $DUALPATH_SERVER or http://localhost:8080)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func buildMetricsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print per-plan metrics from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd.Context(), cmd.OutOrStdout(), resolveServer(server))
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL")
	return cmd
}

func buildExportCmd() *cobra.Command {
	var (
		server string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export metrics, configuration and analysis",
		Example: `  dualpath export > experiment.json
  dualpath export --format prometheus`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout(), resolveServer(server), format)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (json or prometheus)")
	return cmd
}

func buildResetCmd() *cobra.Command {
	var (
		server string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero the experiment metrics on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), cmd.OutOrStdout(), resolveServer(server), yes)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	return cmd
}

func buildDispatchCmd() *cobra.Command {
	var (
		server   string
		fallback bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch <operation> <json-args>",
		Short: "Send an operation to a running server",
		Example: `  dualpath dispatch generate_image '{"prompt":"a lighthouse","user_id":42,"chat_id":42}'
  dualpath dispatch synthesize_speech '{"text":"hello"}' --fallback`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := "{}"
			if len(args) == 2 {
				payload = args[1]
			}
			return runDispatch(cmd.Context(), cmd.OutOrStdout(), resolveServer(server), args[0], payload, fallback)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Force the direct path (Plan B)")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// =============================================================================
// Queue Commands
// =============================================================================

func buildQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the Redis event streams",
	}
	cmd.AddCommand(buildQueueRecentCmd())
	return cmd
}

func buildQueueRecentCmd() *cobra.Command {
	var (
		configPath string
		count      int64
	)
	cmd := &cobra.Command{
		Use:   "recent <event>",
		Short: "Print the newest messages on an event stream",
		Example: `  dualpath queue recent image/generate
  dualpath queue recent analytics/ab-test-result --count 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRecent(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), args[0], count)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().Int64VarP(&count, "count", "n", 10, "Number of messages")
	return cmd
}
