package drtest

import (
	"context"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// SupervisorInjector implements FailureInjector against the process
// Supervisor. stop-service and kill-process map directly onto
// StopProcess for every target component. The remaining failure kinds
// have no real counterpart a single control-plane binary can trigger
// against its own host (disconnect-network, fill-disk, exhaust-memory,
// custom-script); they are logged as simulated and no fault is applied,
// but the harness still waits out FailureDuration and runs the recovery
// rehearsal for them as it does for any other kind.
type SupervisorInjector struct {
	supervisor ports.Supervisor
	logger     zerolog.Logger
}

// NewSupervisorInjector builds a SupervisorInjector.
func NewSupervisorInjector(supervisor ports.Supervisor) *SupervisorInjector {
	return &SupervisorInjector{supervisor: supervisor, logger: log.WithComponent("dr-test-injector")}
}

// Inject triggers the scenario's declared failure.
func (s *SupervisorInjector) Inject(ctx context.Context, scenario types.Scenario) error {
	switch scenario.Failure {
	case types.FailureStopService, types.FailureKillProcess:
		for _, target := range scenario.TargetComponents {
			if err := s.supervisor.StopProcess(ctx, target); err != nil {
				return errs.Wrap(errs.KindSupervisorError, "injecting "+string(scenario.Failure)+" on "+target, err)
			}
		}
		return nil
	case types.FailureDisconnectNetwork, types.FailureFillDisk, types.FailureExhaustMemory, types.FailureCustomScript:
		s.logger.Warn().
			Str("scenario", scenario.Name).
			Str("failure", string(scenario.Failure)).
			Strs("targets", scenario.TargetComponents).
			Dur("duration", scenario.FailureDuration).
			Msg("simulated failure injection: no host-level fault available for this kind, recording timing only")
		return nil
	default:
		return errs.New(errs.KindInvalidArgument, "unknown failure kind "+string(scenario.Failure))
	}
}

// Heal reverses a stop-service/kill-process injection by restarting
// the affected components. The simulated kinds need no reversal.
func (s *SupervisorInjector) Heal(ctx context.Context, scenario types.Scenario) error {
	switch scenario.Failure {
	case types.FailureStopService, types.FailureKillProcess:
		var firstErr error
		for _, target := range scenario.TargetComponents {
			if err := s.supervisor.StartProcess(ctx, target); err != nil && firstErr == nil {
				firstErr = errs.Wrap(errs.KindServiceStartFailed, "healing "+target+" after injected failure", err)
			}
		}
		return firstErr
	default:
		return nil
	}
}
