package main

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Plan and execute rollbacks to a prior Version",
}

func openSystem(cmd *cobra.Command) (*system, error) {
	configPath, _ := cmd.Flags().GetString("config")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return buildSystem(cfg, stateDir)
}

var rollbackRunCmd = &cobra.Command{
	Use:   "run TARGET_VERSION_ID",
	Short: "Execute a rollback to TARGET_VERSION_ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		result, err := sys.facade.Rollback(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Rollback %s: %s\n", result.TargetVersionID, result.Status)
		for _, step := range result.Steps {
			status := "ok"
			if step.Err != nil {
				status = step.Err.Error()
			}
			fmt.Printf("  [%d] %-20s %-12s %s\n", step.Instruction.StepIndex, step.Instruction.Action, step.Instruction.Target, status)
		}
		return nil
	},
}

var rollbackDryRunCmd = &cobra.Command{
	Use:   "dry-run TARGET_VERSION_ID",
	Short: "Plan a rollback without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		plan, err := sys.facade.AnalyzeRollback(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Plan for %s: %d group(s), estimated duration %s\n", args[0], len(plan.Groups), plan.EstimatedDuration)
		for i, group := range plan.Groups {
			fmt.Printf("  Group %d:\n", i)
			for _, instr := range group.Instructions {
				fmt.Printf("    [%d] %-20s %s\n", instr.StepIndex, instr.Action, instr.Target)
			}
		}
		return nil
	},
}

var rollbackAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort an in-progress rollback",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		if err := sys.executor.Abort(); err != nil {
			return err
		}
		fmt.Println("✓ Rollback abort requested")
		return nil
	},
}

func init() {
	rollbackCmd.AddCommand(rollbackRunCmd)
	rollbackCmd.AddCommand(rollbackDryRunCmd)
	rollbackCmd.AddCommand(rollbackAbortCmd)
}
