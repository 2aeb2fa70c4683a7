package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// VersionSource gives the Aggregator the currently active Version, if
// any, without coupling it to the Version Store's full API.
type VersionSource interface {
	Active() (*types.Version, bool)
}

// Aggregator periodically cross-checks process state and health probes
// for every service in the active Version, keeping metrics.HealthChecker
// current.
type Aggregator struct {
	versions   VersionSource
	supervisor ports.Supervisor
	probe      ports.Probe
	timeout    time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a new Aggregator. timeout bounds each service's health
// probe during a sweep.
func New(versions VersionSource, supervisor ports.Supervisor, probe ports.Probe, timeout time.Duration) *Aggregator {
	return &Aggregator{
		versions:   versions,
		supervisor: supervisor,
		probe:      probe,
		timeout:    timeout,
		logger:     log.WithComponent("status-aggregator"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (a *Aggregator) Start() {
	go a.run()
}

// Stop stops the sweep loop.
func (a *Aggregator) Stop() {
	close(a.stopCh)
}

func (a *Aggregator) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	a.logger.Info().Msg("status aggregator started")

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopCh:
			a.logger.Info().Msg("status aggregator stopped")
			return
		}
	}
}

func (a *Aggregator) sweep() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.StatusAggregationDuration)
		metrics.StatusAggregationCyclesTotal.Inc()
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	active, ok := a.versions.Active()
	if !ok {
		return
	}

	ctx := context.Background()
	procs, err := a.supervisor.ListProcesses(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list processes during status sweep")
		return
	}
	running := make(map[string]ports.ProcessStatus, len(procs))
	for _, p := range procs {
		running[p.Name] = p.Status
	}

	for _, svc := range active.Services {
		status, seen := running[svc.Name]
		if !seen || status != ports.ProcessRunning {
			metrics.RegisterComponent(svc.Name, false, "process not running")
			continue
		}

		result, err := a.probe.Check(ctx, svc.Name, a.timeout)
		if err != nil {
			metrics.RegisterComponent(svc.Name, false, "probe error: "+err.Error())
			continue
		}
		metrics.RegisterComponent(svc.Name, result.Healthy, result.Detail)
	}
}
