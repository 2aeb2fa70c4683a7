package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fleetctl/pkg/drtest"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/spf13/cobra"
)

var drTestCmd = &cobra.Command{
	Use:   "dr-test",
	Short: "Run disaster-recovery rehearsals and inspect their results",
}

var drTestRunNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Run a disaster-recovery rehearsal immediately, outside its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenariosFile, _ := cmd.Flags().GetString("scenarios-file")
		names, _ := cmd.Flags().GetStringSlice("scenarios")

		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		if scenariosFile == "" {
			scenariosFile = filepath.Join(sys.cfg.Process.SnapshotRoot, "dr-scenarios.json")
		}
		if len(names) == 0 {
			names = sys.cfg.DRTest.Scenarios
		}

		scenarios, err := drtest.LoadScenarios(scenariosFile, names)
		if err != nil {
			return err
		}

		execution, err := sys.facade.RunDRTest(context.Background(), scenarios)
		if err != nil {
			return err
		}

		fmt.Printf("DR test execution %s: %s\n", execution.ID, execution.Status)
		for _, result := range execution.Results {
			fmt.Printf("  %-20s %-10s recovered in %s (expected %s)\n",
				result.ScenarioName, result.Status, result.ActualRecoveryTime, result.ExpectedRecoveryTime)
			for _, issue := range result.Issues {
				fmt.Printf("    [%s] %s\n", issue.Severity, issue.Message)
			}
		}
		return nil
	},
}

var drTestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a DR test is currently running",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		if sys.drtest.Running() {
			fmt.Println("DR test: running")
		} else {
			fmt.Println("DR test: idle")
		}
		return nil
	},
}

var drTestReportCmd = &cobra.Command{
	Use:   "report EXECUTION_ID",
	Short: "Render a stored DR test execution report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		var found *types.TestExecution
		for _, e := range sys.drtest.History() {
			if e.ID == args[0] {
				ev := e
				found = &ev
				break
			}
		}
		if found == nil {
			return errs.New(errs.KindNotFound, "no such DR test execution "+args[0])
		}

		report, err := drtest.RenderReport(found, format)
		if err != nil {
			return err
		}
		fmt.Println(string(report))
		return nil
	},
}

func init() {
	drTestCmd.AddCommand(drTestRunNowCmd)
	drTestCmd.AddCommand(drTestStatusCmd)
	drTestCmd.AddCommand(drTestReportCmd)

	drTestRunNowCmd.Flags().String("scenarios-file", "", "Path to the JSON scenario file (defaults to <snapshotRoot>/dr-scenarios.json)")
	drTestRunNowCmd.Flags().StringSlice("scenarios", nil, "Scenario names to run (defaults to drTest.scenarios from config)")
	drTestReportCmd.Flags().String("format", "json", "Report format: json, html, or csv")
}
