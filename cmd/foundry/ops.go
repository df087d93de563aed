package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeworks/foundry/internal/pipeline/engine"
	"github.com/forgeworks/foundry/internal/pipeline/state"
	"github.com/forgeworks/foundry/internal/pipeline/structural"
)

var (
	opsLogsRoot      string
	validateDir      string
	validateEntity   string
	validateStrictFS bool
)

func init() {
	unblockCmd.Flags().StringVar(&opsLogsRoot, "logs-root", "", "logs directory of the blocked project (required)")
	_ = unblockCmd.MarkFlagRequired("logs-root")
	rootCmd.AddCommand(unblockCmd)

	budgetCmd.Flags().StringVar(&opsLogsRoot, "logs-root", "", "logs directory of a finished run (required)")
	_ = budgetCmd.MarkFlagRequired("logs-root")
	rootCmd.AddCommand(budgetCmd)

	validateCmd.Flags().StringVar(&validateDir, "workspace", "", "workspace directory to validate (required)")
	validateCmd.Flags().StringVar(&validateEntity, "entity", "item", "entity name the contracts are derived from")
	validateCmd.Flags().BoolVar(&validateStrictFS, "strict", false, "also require optional step outputs (tests, docs)")
	_ = validateCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(validateCmd)
}

var unblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "Clear a quality-gate block so the project can run again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		blk, blocked, err := state.ReadBlock(opsLogsRoot)
		if err != nil {
			return err
		}
		if !blocked {
			fmt.Fprintln(cmd.OutOrStdout(), "project is not blocked")
			return nil
		}
		if err := state.Unblock(opsLogsRoot); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unblocked: step %s had scored %d (threshold %d)\n",
			blk.Step, blk.QualityScore, blk.Threshold)
		return nil
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the budget accounting of the last run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := os.ReadFile(filepath.Join(opsLogsRoot, "final.json"))
		if err != nil {
			return fmt.Errorf("no final outcome found: %w", err)
		}
		var fo state.FinalOutcome
		if err := json.Unmarshal(b, &fo); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s): %s\n", fo.RunID, fo.Project, fo.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "spent %.3f, remaining %.3f, tier %s\n", fo.SpentUnits, fo.RemainingUnits, fo.BudgetTier)
		if fo.FailedStep != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "failed at %s: %s\n", fo.FailedStep, fo.FailureReason)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the structural and contract checks against a workspace",
	Long: `Run the structural and contract checks against a workspace without
invoking any agent. Useful after manual edits to generated code.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := engine.NewWorkspace(validateDir)
		if err != nil {
			return err
		}
		produced, err := ws.List()
		if err != nil {
			return err
		}

		var issues []string
		contracts := engine.DefaultContracts(validateEntity)
		for _, step := range contracts.Steps() {
			c, _ := contracts.Lookup(step)
			if !validateStrictFS && !c.Critical {
				continue
			}
			for _, missing := range c.MissingPaths(produced) {
				issues = append(issues, fmt.Sprintf("%s: %s", step, missing))
			}
		}
		if src, err := ws.Read(engine.RouterPath(validateEntity)); err == nil {
			for _, issue := range structural.CheckRouter(src) {
				issues = append(issues, "router: "+issue)
			}
		}
		if src, err := ws.Read(engine.ClientPath()); err == nil {
			for _, issue := range structural.CheckClient(src, validateEntity) {
				issues = append(issues, "client: "+issue)
			}
		}

		if len(issues) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "workspace is valid")
			return nil
		}
		for _, issue := range issues {
			fmt.Fprintln(cmd.OutOrStdout(), issue)
		}
		return fmt.Errorf("%d validation issue(s)", len(issues))
	},
}
