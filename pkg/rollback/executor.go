package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// RunStatus is the Executor's run-level state machine.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunPlanning  RunStatus = "planning"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// Restorer supplies the snapshot data the Executor copies into place.
// Implementations own the source-of-truth backup tree and the
// service install paths; the Executor only knows the action contract.
type Restorer interface {
	RestoreFiles(ctx context.Context, serviceName string) error
	RestoreConfig(ctx context.Context, path string) error
	RestoreDatabase(ctx context.Context, target string) error
}

// VersionAccess is the slice of the Version Store the Executor needs:
// read the current active Version and flip activation on success.
type VersionAccess interface {
	Active() (*types.Version, bool)
	Activate(targetID string) error
}

// StepResult is the outcome of one dispatched Instruction.
type StepResult struct {
	Instruction types.Instruction
	Err         error
	Duration    time.Duration
}

// Result is the outcome of one Execute call.
type Result struct {
	TargetVersionID string
	Status          RunStatus
	Steps           []StepResult
	StartedAt       time.Time
	EndedAt         time.Time
	Err             error
	ValidationSteps []StepResult
}

const probePollInterval = 200 * time.Millisecond

// Executor runs a ScheduledPlan group by group under a hard overall
// deadline, reports progress on the event bus, and activates the
// target Version in the Version Store on success.
type Executor struct {
	supervisor ports.Supervisor
	probe      ports.Probe
	restorer   Restorer
	versions   VersionAccess
	bus        *events.Broker
	cfg        config.RollbackConfig
	logger     zerolog.Logger

	mu        sync.Mutex
	state     RunStatus
	cancelRun context.CancelFunc
}

// NewExecutor builds an Executor. bus may be nil, in which case
// progress events are dropped.
func NewExecutor(supervisor ports.Supervisor, probe ports.Probe, restorer Restorer, versions VersionAccess, bus *events.Broker, cfg config.RollbackConfig) *Executor {
	return &Executor{
		supervisor: supervisor,
		probe:      probe,
		restorer:   restorer,
		versions:   versions,
		bus:        bus,
		cfg:        cfg,
		logger:     log.WithComponent("rollback-executor"),
		state:      RunIdle,
	}
}

// State reports the Executor's current lifecycle state.
func (e *Executor) State() RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Abort cancels the in-flight run, if any, and asks the Supervisor to
// restart every service as a best-effort recovery of some functionality.
func (e *Executor) Abort() error {
	e.mu.Lock()
	if e.state != RunRunning {
		e.mu.Unlock()
		return errs.New(errs.KindInvalidArgument, "no rollback in progress to abort")
	}
	cancel := e.cancelRun
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Execute runs plan against targetVersionID. It rejects a second
// concurrent call with kRollbackInProgress.
func (e *Executor) Execute(ctx context.Context, plan ScheduledPlan, targetVersionID string) (*Result, error) {
	e.mu.Lock()
	if e.state == RunRunning {
		e.mu.Unlock()
		return nil, errs.New(errs.KindRollbackInProgress, "a rollback is already running")
	}
	if active, ok := e.versions.Active(); ok && active.ID == targetVersionID {
		e.mu.Unlock()
		return nil, errs.New(errs.KindAlreadyActive, "target version is already active")
	}
	e.state = RunPlanning
	e.mu.Unlock()

	deadline := time.Duration(e.cfg.OverallDeadlineSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)

	e.mu.Lock()
	e.state = RunRunning
	e.cancelRun = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cancelRun = nil
		e.mu.Unlock()
		cancel()
	}()

	result := &Result{TargetVersionID: targetVersionID, StartedAt: time.Now()}
	timer := metrics.NewTimer()
	e.publish(events.EventRollbackStarted, targetVersionID, "rollback started")

	totalGroups := len(plan.Groups)
	var groupDurations []time.Duration
	fatal := false

groupLoop:
	for gi, group := range plan.Groups {
		if err := runCtx.Err(); err != nil {
			fatal = true
			break groupLoop
		}

		groupStart := time.Now()
		groupResults, abortedGroup := e.runGroup(runCtx, group)
		result.Steps = append(result.Steps, groupResults...)
		groupDurations = append(groupDurations, time.Since(groupStart))

		for _, sr := range groupResults {
			outcome := "success"
			if sr.Err != nil {
				outcome = "failure"
			}
			metrics.RollbackStepsTotal.WithLabelValues(string(sr.Instruction.Action), outcome).Inc()
		}

		e.publishProgress(gi+1, totalGroups, group, averageDuration(groupDurations))

		if abortedGroup {
			fatal = true
			break groupLoop
		}
		if err := runCtx.Err(); err != nil {
			fatal = true
			break groupLoop
		}
	}

	result.EndedAt = time.Now()

	if runCtx.Err() != nil {
		e.mu.Lock()
		e.state = RunFailed
		e.mu.Unlock()

		if runCtx.Err() == context.DeadlineExceeded {
			result.Status = RunFailed
			result.Err = errs.New(errs.KindDeadlineExceeded, "rollback exceeded overall deadline")
		} else {
			e.supervisor.StartAll(context.Background())
			result.Status = RunAborted
			result.Err = errs.New(errs.KindAborted, "rollback aborted")
			e.mu.Lock()
			e.state = RunAborted
			e.mu.Unlock()
		}
		timer.ObserveDuration(metrics.RollbackDuration)
		metrics.RollbacksTotal.WithLabelValues(string(result.Status)).Inc()
		e.publish(events.EventRollbackAborted, targetVersionID, result.Err.Error())
		return result, result.Err
	}

	if fatal {
		e.mu.Lock()
		e.state = RunFailed
		e.mu.Unlock()
		result.Status = RunFailed
		result.Err = firstFatalErr(result.Steps)
		timer.ObserveDuration(metrics.RollbackDuration)
		metrics.RollbacksTotal.WithLabelValues("failed").Inc()
		e.publish(events.EventRollbackCompleted, targetVersionID, "rollback failed")
		return result, result.Err
	}

	if err := e.versions.Activate(targetVersionID); err != nil {
		e.mu.Lock()
		e.state = RunFailed
		e.mu.Unlock()
		result.Status = RunFailed
		result.Err = err
		timer.ObserveDuration(metrics.RollbackDuration)
		metrics.RollbacksTotal.WithLabelValues("failed").Inc()
		return result, err
	}

	if e.cfg.AutoValidate {
		if active, ok := e.versions.Active(); ok {
			result.ValidationSteps = e.validateAll(ctx, active.Services)
		}
	}

	e.mu.Lock()
	e.state = RunCompleted
	e.mu.Unlock()
	result.Status = RunCompleted
	timer.ObserveDuration(metrics.RollbackDuration)
	metrics.RollbacksTotal.WithLabelValues("success").Inc()
	e.publish(events.EventRollbackCompleted, targetVersionID, "rollback completed")
	return result, nil
}

// runGroup dispatches every instruction in a group concurrently and
// reports whether a fatal (abortOnFailure) step failed.
func (e *Executor) runGroup(ctx context.Context, group Group) ([]StepResult, bool) {
	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()

	results := make([]StepResult, len(group.Instructions))
	var wg sync.WaitGroup
	var fatalMu sync.Mutex
	fatal := false

	for i, instr := range group.Instructions {
		wg.Add(1)
		go func(i int, instr types.Instruction) {
			defer wg.Done()
			start := time.Now()
			err := e.dispatch(groupCtx, instr)
			results[i] = StepResult{Instruction: instr, Err: err, Duration: time.Since(start)}
			if err != nil {
				e.logger.Error().Err(err).Str("action", string(instr.Action)).Str("target", instr.Target).Msg("rollback step failed")
				if instr.AbortOnFailure {
					fatalMu.Lock()
					fatal = true
					fatalMu.Unlock()
					cancelGroup()
				}
			}
		}(i, instr)
	}
	wg.Wait()

	return results, fatal
}

func (e *Executor) dispatch(ctx context.Context, instr types.Instruction) error {
	timeout := instr.Timeout
	if timeout <= 0 {
		timeout = time.Duration(e.cfg.PerStepTimeoutSec) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch instr.Action {
	case types.ActionStopService:
		return e.stopService(stepCtx, instr.Target)
	case types.ActionRestoreFiles:
		return e.restorer.RestoreFiles(stepCtx, instr.Target)
	case types.ActionRestoreConfig:
		return e.restorer.RestoreConfig(stepCtx, instr.Target)
	case types.ActionRestoreDatabase:
		return e.restorer.RestoreDatabase(stepCtx, instr.Target)
	case types.ActionStartService:
		return e.startService(stepCtx, instr.Target)
	case types.ActionValidateService:
		return e.validateService(stepCtx, instr.Target)
	default:
		return errs.New(errs.KindInvalidArgument, "unknown rollback action "+string(instr.Action))
	}
}

func (e *Executor) stopService(ctx context.Context, target string) error {
	var err error
	if target == types.TargetAll {
		err = e.supervisor.StopAll(ctx)
	} else {
		err = e.supervisor.StopProcess(ctx, target)
	}
	if err != nil {
		return errs.Wrap(errs.KindSupervisorError, "stop-service failed for "+target, err)
	}
	return nil
}

func (e *Executor) startService(ctx context.Context, target string) error {
	var err error
	if target == types.TargetAll {
		err = e.supervisor.StartAll(ctx)
	} else {
		err = e.supervisor.StartProcess(ctx, target)
	}
	if err != nil {
		return errs.Wrap(errs.KindServiceStartFailed, "start-service failed for "+target, err)
	}
	if target == types.TargetAll {
		return nil
	}

	ticker := time.NewTicker(probePollInterval)
	defer ticker.Stop()
	for {
		result, err := e.probe.Check(ctx, target, probePollInterval)
		if err == nil && result.Healthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindServiceStartFailed, fmt.Sprintf("%s did not become healthy before timeout", target), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Executor) validateService(ctx context.Context, target string) error {
	result, err := e.probe.Check(ctx, target, probePollInterval)
	if err != nil {
		return errs.Wrap(errs.KindServiceValidationFailed, "validate-service probe failed for "+target, err)
	}
	if !result.Healthy {
		return errs.New(errs.KindServiceValidationFailed, "validate-service: "+target+" is unhealthy: "+result.Detail)
	}
	return nil
}

func (e *Executor) validateAll(ctx context.Context, services []types.ServiceRecord) []StepResult {
	out := make([]StepResult, 0, len(services))
	for _, svc := range services {
		start := time.Now()
		err := e.validateService(ctx, svc.Name)
		out = append(out, StepResult{
			Instruction: types.Instruction{Action: types.ActionValidateService, Target: svc.Name},
			Err:         err,
			Duration:    time.Since(start),
		})
	}
	return out
}

func (e *Executor) publish(eventType events.EventType, target, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"target": target},
	})
}

func (e *Executor) publishProgress(completed, total int, group Group, avgGroupDuration time.Duration) {
	if e.bus == nil {
		return
	}
	remaining := total - completed
	eta := time.Duration(remaining) * avgGroupDuration

	var currentAction, currentTarget string
	if len(group.Instructions) > 0 {
		currentAction = string(group.Instructions[0].Action)
		currentTarget = group.Instructions[0].Target
	}

	e.bus.Publish(&events.Event{
		Type:    events.EventRollbackGroupCompleted,
		Message: fmt.Sprintf("group %d/%d completed", completed, total),
		Metadata: map[string]string{
			"completedGroups": fmt.Sprintf("%d", completed),
			"totalGroups":     fmt.Sprintf("%d", total),
			"currentAction":   currentAction,
			"target":          currentTarget,
			"etaSeconds":      fmt.Sprintf("%.1f", eta.Seconds()),
		},
	})
}

func averageDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

// Rehearse runs plan against targetVersionID without the already-active
// guard and without activating the target or running AutoValidate
// afterward. The DR Test Harness uses it to exercise the stop/restore/
// start/validate path against the currently-active Version's own plan
// without swapping Version Store state.
func (e *Executor) Rehearse(ctx context.Context, plan ScheduledPlan, targetVersionID string) (*Result, error) {
	e.mu.Lock()
	if e.state == RunRunning {
		e.mu.Unlock()
		return nil, errs.New(errs.KindRollbackInProgress, "a rollback is already running")
	}
	e.state = RunPlanning
	e.mu.Unlock()

	deadline := time.Duration(e.cfg.OverallDeadlineSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)

	e.mu.Lock()
	e.state = RunRunning
	e.cancelRun = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cancelRun = nil
		e.mu.Unlock()
		cancel()
	}()

	result := &Result{TargetVersionID: targetVersionID, StartedAt: time.Now()}
	e.publish(events.EventRollbackStarted, targetVersionID, "dr test rehearsal started")

	totalGroups := len(plan.Groups)
	var groupDurations []time.Duration
	fatal := false

rehearseLoop:
	for gi, group := range plan.Groups {
		if err := runCtx.Err(); err != nil {
			fatal = true
			break rehearseLoop
		}

		groupStart := time.Now()
		groupResults, abortedGroup := e.runGroup(runCtx, group)
		result.Steps = append(result.Steps, groupResults...)
		groupDurations = append(groupDurations, time.Since(groupStart))

		e.publishProgress(gi+1, totalGroups, group, averageDuration(groupDurations))

		if abortedGroup {
			fatal = true
			break rehearseLoop
		}
		if err := runCtx.Err(); err != nil {
			fatal = true
			break rehearseLoop
		}
	}

	result.EndedAt = time.Now()

	if runCtx.Err() != nil {
		e.mu.Lock()
		e.state = RunFailed
		e.mu.Unlock()
		if runCtx.Err() == context.DeadlineExceeded {
			result.Status = RunFailed
			result.Err = errs.New(errs.KindDeadlineExceeded, "dr test rehearsal exceeded overall deadline")
		} else {
			e.supervisor.StartAll(context.Background())
			result.Status = RunAborted
			result.Err = errs.New(errs.KindAborted, "dr test rehearsal aborted")
		}
		e.publish(events.EventRollbackAborted, targetVersionID, result.Err.Error())
		return result, result.Err
	}

	if fatal {
		e.mu.Lock()
		e.state = RunFailed
		e.mu.Unlock()
		result.Status = RunFailed
		result.Err = firstFatalErr(result.Steps)
		return result, result.Err
	}

	e.mu.Lock()
	e.state = RunCompleted
	e.mu.Unlock()
	result.Status = RunCompleted
	e.publish(events.EventRollbackCompleted, targetVersionID, "dr test rehearsal completed")
	return result, nil
}

func firstFatalErr(steps []StepResult) error {
	for _, s := range steps {
		if s.Err != nil && s.Instruction.AbortOnFailure {
			return s.Err
		}
	}
	for _, s := range steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return errs.New(errs.KindUnexpected, "rollback failed for an unknown reason")
}
