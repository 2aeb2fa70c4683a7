package health

import (
	"context"
	"time"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/ports"
)

// Registry maps service names to the Checker that probes them and
// implements ports.Probe, so the Rollback Executor's validate-service
// step and the poll-until-healthy loop can depend on the port rather
// than this package directly.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register associates a service name with the Checker that probes it.
func (r *Registry) Register(serviceName string, checker Checker) {
	r.checkers[serviceName] = checker
}

// Check implements ports.Probe. timeout bounds the whole check,
// including any checker-internal timeout, whichever is tighter.
func (r *Registry) Check(ctx context.Context, serviceName string, timeout time.Duration) (ports.ProbeResult, error) {
	checker, ok := r.checkers[serviceName]
	if !ok {
		return ports.ProbeResult{}, errs.New(errs.KindProbeUnreachable, "no health checker registered for "+serviceName)
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := checker.Check(checkCtx)
	return ports.ProbeResult{
		Healthy:   result.Healthy,
		LatencyMs: result.Duration.Milliseconds(),
		Detail:    result.Message,
	}, nil
}
