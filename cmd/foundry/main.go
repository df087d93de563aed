// Package main implements the foundry CLI: it runs the generation
// pipeline and exposes the operator commands for blocked runs, budget
// inspection, and offline workspace validation.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forgeworks/foundry/internal/agent"
	"github.com/forgeworks/foundry/internal/observability"
	"github.com/forgeworks/foundry/internal/pipeline/budget"
	"github.com/forgeworks/foundry/internal/pipeline/engine"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "foundry",
	Short:   "LLM-backed application generation pipeline",
	Long:    "foundry drives a dependency-ordered generation pipeline: each step prompts an agent,\nreviews the output, validates critical artifacts, and checkpoints the result under a token budget.",
	Version: version,

	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	runConfigPath  string
	runWorkspace   string
	runLogsRoot    string
	runEntity      string
	runMetricsAddr string
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "run configuration file (required)")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "override the configured workspace directory")
	runCmd.Flags().StringVar(&runLogsRoot, "logs-root", "", "override the configured logs directory")
	runCmd.Flags().StringVar(&runEntity, "entity", "", "override the configured entity name")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9091)")
	_ = runCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full generation pipeline once",
	Long: `Run the full generation pipeline once.

The agent backend is configured through OPENAI_API_KEY and, for compatible
gateways, OPENAI_BASE_URL.

Examples:
  foundry run --config run.yaml
  foundry run --config run.yaml --workspace ./out --metrics-addr :9091`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := engine.LoadConfig(runConfigPath)
	if err != nil {
		return err
	}
	if runWorkspace != "" {
		cfg.Workspace = runWorkspace
	}
	if runLogsRoot != "" {
		cfg.LogsRoot = runLogsRoot
	}
	if runEntity != "" {
		cfg.Entity = runEntity
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	inv, err := agent.NewInvokerFromEnv()
	if err != nil {
		return err
	}

	metrics := budget.NewMetrics(nil)
	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(runMetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	eng, err := engine.New(cfg, engine.Deps{
		Generator: inv,
		Reviewer:  inv,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	fo, err := eng.Run(cmd.Context())
	if fo != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", fo.RunID, fo.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "budget: spent %.3f, remaining %.3f (%s)\n", fo.SpentUnits, fo.RemainingUnits, fo.BudgetTier)
		if len(fo.SkippedSteps) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "skipped: %v\n", fo.SkippedSteps)
		}
		if len(fo.BlockedSteps) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "blocked: %v\n", fo.BlockedSteps)
		}
		if fo.FailedStep != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "failed at %s: %s\n", fo.FailedStep, fo.FailureReason)
		}
	}
	return err
}
