package main

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/versionstore"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Inspect and manage deployment Versions",
}

func openVersionStore(cmd *cobra.Command) (*versionstore.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")
	stateDir, _ := cmd.Flags().GetString("state-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	store, err := versionstore.Open(filepath.Join(stateDir, "versions"), cfg.VersionStore)
	if err != nil {
		return nil, fmt.Errorf("opening version store: %w", err)
	}
	return store, nil
}

var versionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List Versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVersionStore(cmd)
		if err != nil {
			return err
		}

		versions := store.List()
		if len(versions) == 0 {
			fmt.Println("No versions found")
			return nil
		}

		fmt.Printf("%-20s %-12s %-10s %s\n", "ID", "VERSION", "STATUS", "CREATED")
		for _, v := range versions {
			fmt.Printf("%-20s %-12s %-10s %s\n",
				truncate(v.ID, 20),
				truncate(v.VersionStr, 12),
				v.Status,
				v.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

var versionActivateCmd = &cobra.Command{
	Use:   "activate VERSION_ID",
	Short: "Mark a Version active without running a rollback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVersionStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Activate(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Version activated: %s\n", args[0])
		return nil
	},
}

var versionArchiveCmd = &cobra.Command{
	Use:   "archive VERSION_ID",
	Short: "Archive a Version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openVersionStore(cmd)
		if err != nil {
			return err
		}
		if err := store.Archive(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Version archived: %s\n", args[0])
		return nil
	},
}

func init() {
	versionCmd.AddCommand(versionListCmd)
	versionCmd.AddCommand(versionActivateCmd)
	versionCmd.AddCommand(versionArchiveCmd)
}
