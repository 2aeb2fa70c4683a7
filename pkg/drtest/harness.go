package drtest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/rollback"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VersionSource is the slice of the Version Store the Harness needs: it
// resolves a scenario's recovery Version by id.
type VersionSource interface {
	Get(id string) (*types.Version, error)
}

// Planner builds a ScheduledPlan from a Version's raw Instructions.
type Planner interface {
	Plan(instructions []types.Instruction, services []types.ServiceRecord) (rollback.ScheduledPlan, error)
}

// Rehearser drives a ScheduledPlan without mutating Version Store state.
type Rehearser interface {
	Rehearse(ctx context.Context, plan rollback.ScheduledPlan, targetVersionID string) (*rollback.Result, error)
}

// FailureInjector simulates and heals one Scenario's declared failure.
type FailureInjector interface {
	Inject(ctx context.Context, scenario types.Scenario) error
	Heal(ctx context.Context, scenario types.Scenario) error
}

const maxExecutionHistory = 100
const defaultProbeTimeout = 5 * time.Second

// Harness runs DR test scenarios: inject, recover, validate, score.
// Only one Run may be in flight at a time.
type Harness struct {
	versions VersionSource
	planner  Planner
	executor Rehearser
	injector FailureInjector
	probe    ports.Probe
	bus      *events.Broker
	logger   zerolog.Logger

	probeTimeout time.Duration

	mu      sync.Mutex
	running bool
	history []types.TestExecution
}

// New builds a Harness.
func New(versions VersionSource, planner Planner, executor Rehearser, injector FailureInjector, probe ports.Probe, bus *events.Broker) *Harness {
	return &Harness{
		versions:     versions,
		planner:      planner,
		executor:     executor,
		injector:     injector,
		probe:        probe,
		bus:          bus,
		logger:       log.WithComponent("dr-test-harness"),
		probeTimeout: defaultProbeTimeout,
	}
}

// Running reports whether a TestExecution is currently in flight.
func (h *Harness) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Run executes every scenario in order, producing one TestExecution.
// A second call while one is already in flight fails fast.
func (h *Harness) Run(ctx context.Context, scenarios []types.Scenario) (*types.TestExecution, error) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil, errs.New(errs.KindOperationBusy, "a DR test execution is already running")
	}
	h.running = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	execution := &types.TestExecution{
		ID:        uuid.NewString(),
		Scenarios: scenarios,
		StartedAt: time.Now(),
		Status:    types.TestExecRunning,
	}
	h.publish(events.EventDRTestStarted, execution.ID, "dr test execution started")

	for _, scenario := range scenarios {
		if err := ctx.Err(); err != nil {
			execution.Results = append(execution.Results, types.TestResult{
				ScenarioName: scenario.Name,
				Status:       types.TestResultSkipped,
				Issues:       []types.Issue{{Severity: types.IssueWarning, Message: "execution cancelled before scenario ran"}},
			})
			continue
		}
		result := h.runScenario(ctx, scenario)
		execution.Results = append(execution.Results, result)

		outcome := string(result.Status)
		metrics.DRTestRecoveryDuration.WithLabelValues(scenario.Name).Observe(result.ActualRecoveryTime.Seconds())
		for _, issue := range result.Issues {
			metrics.DRTestIssuesTotal.WithLabelValues(string(issue.Severity)).Inc()
		}
		h.logger.Info().Str("scenario", scenario.Name).Str("status", outcome).Dur("recovery", result.ActualRecoveryTime).Msg("dr test scenario completed")
	}

	execution.EndedAt = time.Now()
	execution.Status = types.TestExecCompleted
	for _, r := range execution.Results {
		if r.Status == types.TestResultFailed {
			execution.Status = types.TestExecFailed
			break
		}
	}
	execution.Metrics = aggregateMetrics(execution.Results)

	metrics.DRTestExecutionsTotal.WithLabelValues(string(execution.Status)).Inc()
	h.recordHistory(*execution)
	h.publish(events.EventDRTestCompleted, execution.ID, "dr test execution completed: "+string(execution.Status))
	return execution, nil
}

// History returns every retained TestExecution, oldest first.
func (h *Harness) History() []types.TestExecution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.TestExecution(nil), h.history...)
}

func (h *Harness) recordHistory(execution types.TestExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, execution)
	if len(h.history) > maxExecutionHistory {
		h.history = h.history[len(h.history)-maxExecutionHistory:]
	}
}

func (h *Harness) runScenario(ctx context.Context, scenario types.Scenario) types.TestResult {
	start := time.Now()
	result := types.TestResult{ScenarioName: scenario.Name, ExpectedRecoveryTime: scenario.Expected.MaxRecoveryTime}

	if !scenario.DryRun {
		if err := h.injector.Inject(ctx, scenario); err != nil {
			result.Status = types.TestResultFailed
			result.Issues = append(result.Issues, types.Issue{Severity: types.IssueCritical, Message: "failure injection failed: " + err.Error()})
			return result
		}
		defer h.injector.Heal(context.Background(), scenario)

		select {
		case <-time.After(scenario.FailureDuration):
		case <-ctx.Done():
			result.Status = types.TestResultSkipped
			result.Issues = append(result.Issues, types.Issue{Severity: types.IssueWarning, Message: "cancelled during failure window"})
			return result
		}
	}

	recovery, err := h.versions.Get(scenario.RecoveryVersion)
	if err != nil {
		result.Status = types.TestResultFailed
		result.Issues = append(result.Issues, types.Issue{Severity: types.IssueCritical, Message: "recovery version lookup failed: " + err.Error()})
		return result
	}

	plan, err := h.planner.Plan(recovery.Plan.Instructions, recovery.Services)
	if err != nil {
		result.Status = types.TestResultFailed
		result.Issues = append(result.Issues, types.Issue{Severity: types.IssueCritical, Message: "rollback planning failed: " + err.Error()})
		return result
	}

	if scenario.DryRun {
		result.ActualRecoveryTime = plan.EstimatedDuration
		result.Status = types.TestResultPassed
		if result.ActualRecoveryTime > scenario.Expected.MaxRecoveryTime {
			result.Status = types.TestResultFailed
			result.Issues = append(result.Issues, types.Issue{Severity: types.IssueWarning, Message: "estimated recovery time exceeds expected maximum"})
		}
		return result
	}

	if _, runErr := h.executor.Rehearse(ctx, plan, scenario.RecoveryVersion); runErr != nil {
		result.ActualRecoveryTime = time.Since(start)
		result.Status = types.TestResultFailed
		result.Issues = append(result.Issues, types.Issue{Severity: types.IssueCritical, Message: "recovery failed: " + runErr.Error()})
		return result
	}
	result.ActualRecoveryTime = time.Since(start)

	result.Status = types.TestResultPassed
	for _, step := range scenario.Validations {
		vr := h.evaluate(ctx, step)
		result.Validations = append(result.Validations, vr)
		if !vr.Passed {
			result.Status = types.TestResultFailed
			result.Issues = append(result.Issues, types.Issue{Severity: types.IssueCritical, Message: "validation failed: " + step.Name})
		}
	}

	if result.ActualRecoveryTime > scenario.Expected.MaxRecoveryTime {
		result.Status = types.TestResultFailed
		result.Issues = append(result.Issues, types.Issue{
			Severity: types.IssueCritical,
			Message:  "actual recovery time exceeded expected maximum",
		})
	}

	return result
}

// evaluate checks one ValidationStep against a live probe. The probe
// contract only reports health and latency: equals/not-equals compare
// against health expressed as 1/0, and gte/lte/within-range compare
// against observed latency in milliseconds.
func (h *Harness) evaluate(ctx context.Context, step types.ValidationStep) types.ValidationResult {
	probeResult, err := h.probe.Check(ctx, step.Probe, h.probeTimeout)
	if err != nil {
		return types.ValidationResult{Step: step, Passed: false, Message: "probe error: " + err.Error()}
	}

	var actual float64
	switch step.Op {
	case types.AssertEquals, types.AssertNotEquals:
		if probeResult.Healthy {
			actual = 1
		}
	default:
		actual = float64(probeResult.LatencyMs)
	}

	var passed bool
	switch step.Op {
	case types.AssertEquals:
		passed = actual == step.Expected
	case types.AssertNotEquals:
		passed = actual != step.Expected
	case types.AssertGTE:
		passed = actual >= step.Expected
	case types.AssertLTE:
		passed = actual <= step.Expected
	case types.AssertWithinRange:
		passed = math.Abs(actual-step.Expected) <= step.Tolerance
	}

	return types.ValidationResult{Step: step, Passed: passed, Actual: actual, Message: probeResult.Detail}
}

func (h *Harness) publish(eventType events.EventType, executionID, message string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"executionId": executionID},
	})
}

func aggregateMetrics(results []types.TestResult) map[string]float64 {
	out := make(map[string]float64)
	var totalRecovery time.Duration
	passed := 0.0
	for _, r := range results {
		totalRecovery += r.ActualRecoveryTime
		if r.Status == types.TestResultPassed {
			passed++
		}
	}
	out["scenariosTotal"] = float64(len(results))
	out["scenariosPassed"] = passed
	if len(results) > 0 {
		out["averageRecoverySeconds"] = totalRecovery.Seconds() / float64(len(results))
	}
	return out
}
