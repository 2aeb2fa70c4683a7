package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run, list, and restore replicated backups",
}

var backupRunNowCmd = &cobra.Command{
	Use:   "run-now",
	Short: "Run a backup immediately, outside its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		sourceRoot := sys.cfg.Backup.SourceRoots[0]
		record, err := sys.facade.CreateBackup(context.Background(), sourceRoot)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Backup created: %s\n", record.ID)
		fmt.Printf("  Files: %d\n", len(record.SourceFiles))
		fmt.Printf("  Encrypted size: %d bytes\n", record.EncryptedSize)
		if record.Insufficient {
			fmt.Println("  Warning: replicated below minCopies")
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		records := sys.catalog.List()
		if len(records) == 0 {
			fmt.Println("No backups found")
			return nil
		}

		fmt.Printf("%-20s %-12s %-20s %s\n", "ID", "SIZE", "CREATED", "STATUS")
		for _, r := range records {
			status := "ok"
			if r.Insufficient {
				status = "insufficient-copies"
			}
			fmt.Printf("%-20s %-12d %-20s %s\n",
				truncate(r.ID, 20),
				r.EncryptedSize,
				r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				status)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore BACKUP_ID",
	Short: "Restore a backup to a target directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")

		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.stop()

		if err := sys.facade.RestoreBackup(context.Background(), args[0], target); err != nil {
			return err
		}

		fmt.Printf("✓ Backup restored: %s -> %s\n", args[0], target)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupRunNowCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)

	backupRestoreCmd.Flags().String("target", "", "Directory to restore the backup into")
	backupRestoreCmd.MarkFlagRequired("target")
}
