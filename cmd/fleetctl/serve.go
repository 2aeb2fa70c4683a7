package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane daemon",
	Long: `Run the control plane daemon: load configuration, build every
component, start the scheduled backup/integrity/DR-test tracks and the
reconciliation sweep, and serve metrics and health endpoints until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		stateDir, _ := cmd.Flags().GetString("state-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		sys, err := buildSystem(cfg, stateDir)
		if err != nil {
			return fmt.Errorf("building control plane: %w", err)
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("version-store", true, "ready")
		metrics.RegisterComponent("storage-manager", true, "ready")
		metrics.RegisterComponent("scheduler", false, "starting")

		sys.start()
		metrics.RegisterComponent("scheduler", true, "ready")
		fmt.Println("✓ Control plane started")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if pprofEnabled {
				mux.HandleFunc("/debug/pprof/", pprof.Index)
				mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
				mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
				mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
				mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			}
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints:\n")
		fmt.Printf("  - Health check: http://%s/health\n", metricsAddr)
		fmt.Printf("  - Readiness:    http://%s/ready\n", metricsAddr)
		fmt.Printf("  - Liveness:     http://%s/live\n", metricsAddr)
		if pprofEnabled {
			fmt.Printf("✓ Profiling endpoints enabled at http://%s/debug/pprof/\n", metricsAddr)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		sys.stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP endpoints")
	serveCmd.Flags().Bool("enable-pprof", false, "Mount net/http/pprof endpoints alongside metrics")
}
