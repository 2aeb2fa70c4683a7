package main

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/integrity"
	"github.com/spf13/cobra"
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Run and inspect integrity sweeps over replicated backups",
}

var integrityRunNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Run an integrity sweep immediately, outside its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		results := sys.facade.RunIntegrityTests(context.Background(), sys.cfg.Integrity.TestCount)
		if len(results) == 0 {
			fmt.Println("No backups to test")
			return nil
		}

		fmt.Printf("%-20s %-16s %-8s %s\n", "BACKUP", "LOCATION", "STATUS", "DETAIL")
		failed := 0
		for _, r := range results {
			fmt.Printf("%-20s %-16s %-8s %s\n", truncate(r.BackupID, 20), truncate(r.LocationID, 16), r.Status, r.Detail)
			if r.Status == integrity.CaseFailed {
				failed++
			}
		}
		if failed > 0 {
			return errs.New(errs.KindChecksumMismatch, fmt.Sprintf("%d of %d integrity cases failed", failed, len(results)))
		}
		return nil
	},
}

var integrityHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent integrity test results",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		history := sys.integrity.History()
		if len(history) == 0 {
			fmt.Println("No integrity test history")
			return nil
		}

		fmt.Printf("%-20s %-16s %-8s %-20s %s\n", "BACKUP", "LOCATION", "STATUS", "RAN AT", "DETAIL")
		for _, r := range history {
			fmt.Printf("%-20s %-16s %-8s %-20s %s\n",
				truncate(r.BackupID, 20),
				truncate(r.LocationID, 16),
				r.Status,
				r.RanAt.Format("2006-01-02T15:04:05Z07:00"),
				r.Detail)
		}
		return nil
	},
}

func init() {
	integrityCmd.AddCommand(integrityRunNowCmd)
	integrityCmd.AddCommand(integrityHistoryCmd)
}
