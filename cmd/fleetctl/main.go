package main

import (
	"fmt"
	"os"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.ExitCode(errs.KindOf(err)))
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - production deployment control plane",
	Long: `fleetctl drives deployment versioning, rollback, backup
replication, integrity testing, and disaster-recovery rehearsal for a
fleet of host-supervised services from a single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/fleetctl/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().String("state-dir", "/var/lib/fleetctl", "Directory for on-disk state (versions, catalog, storage index)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(integrityCmd)
	rootCmd.AddCommand(drTestCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
