package facade

import (
	"context"
	"sync"

	"github.com/cuemby/fleetctl/pkg/backup"
	"github.com/cuemby/fleetctl/pkg/drtest"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/integrity"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/reconciler"
	"github.com/cuemby/fleetctl/pkg/rollback"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/cuemby/fleetctl/pkg/versionstore"
	"github.com/rs/zerolog"
)

// operation names the mutating operation families the Facade serializes.
type operation string

const (
	opDeploy   operation = "deploy"
	opRollback operation = "rollback"
	opDRTest   operation = "dr-test"
)

// SystemStatus is the response shape for getSystemStatus.
type SystemStatus struct {
	Health        metrics.HealthStatus
	ActiveVersion *types.Version
	RollbackState rollback.RunStatus
	DRTestRunning bool
	BusyWith      string
}

// Facade is the Orchestrator Facade: one composition root owning every
// other component, exposing the public operation surface, and
// serializing deploy/rollback/dr-test behind a single lock.
type Facade struct {
	versions  *versionstore.Store
	planner   *rollback.Planner
	executor  *rollback.Executor
	backups   *backup.Manager
	integrity *integrity.Tester
	drtest    *drtest.Harness
	status    *reconciler.Aggregator
	bus       *events.Broker
	logger    zerolog.Logger

	opMu  sync.Mutex
	opOn  bool
	opWho operation
}

// New builds a Facade over already-constructed components.
func New(
	versions *versionstore.Store,
	planner *rollback.Planner,
	executor *rollback.Executor,
	backups *backup.Manager,
	integrityTester *integrity.Tester,
	drHarness *drtest.Harness,
	status *reconciler.Aggregator,
	bus *events.Broker,
) *Facade {
	return &Facade{
		versions:  versions,
		planner:   planner,
		executor:  executor,
		backups:   backups,
		integrity: integrityTester,
		drtest:    drHarness,
		status:    status,
		bus:       bus,
		logger:    log.WithComponent("orchestrator-facade"),
	}
}

func (f *Facade) acquire(op operation) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()
	if f.opOn {
		return errs.New(errs.KindOperationBusy, "facade busy with "+string(f.opWho))
	}
	f.opOn = true
	f.opWho = op
	return nil
}

func (f *Facade) release() {
	f.opMu.Lock()
	f.opOn = false
	f.opWho = ""
	f.opMu.Unlock()
}

func (f *Facade) publish(eventType events.EventType, message string, metadata map[string]string) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(&events.Event{Type: eventType, Message: message, Metadata: metadata})
}

// CreateVersion deploys a new Version. It holds the deploy lock for the
// duration of the Version Store write.
func (f *Facade) CreateVersion(in versionstore.CreateInput) (*types.Version, error) {
	if err := f.acquire(opDeploy); err != nil {
		return nil, err
	}
	defer f.release()

	timer := metrics.NewTimer()
	v, err := f.versions.Create(in)
	timer.ObserveDuration(metrics.VersionCreateDuration)
	if err != nil {
		return nil, err
	}
	f.publish(events.EventVersionCreated, "version created: "+v.ID, map[string]string{"versionId": v.ID})
	return v, nil
}

// Rollback plans and executes a rollback to targetVersionID.
func (f *Facade) Rollback(ctx context.Context, targetVersionID string) (*rollback.Result, error) {
	if err := f.acquire(opRollback); err != nil {
		return nil, err
	}
	defer f.release()

	target, err := f.versions.Get(targetVersionID)
	if err != nil {
		return nil, err
	}

	plan, err := f.planner.Plan(target.Plan.Instructions, target.Services)
	if err != nil {
		return nil, err
	}

	result, err := f.executor.Execute(ctx, plan, targetVersionID)
	if result != nil {
		f.publish(events.EventRollbackCompleted, "rollback "+string(result.Status)+" for "+targetVersionID, map[string]string{"versionId": targetVersionID, "status": string(result.Status)})
	}
	return result, err
}

// AnalyzeRollback plans a rollback to targetVersionID without executing
// it: a dry run that mutates no persisted state.
func (f *Facade) AnalyzeRollback(targetVersionID string) (rollback.ScheduledPlan, error) {
	target, err := f.versions.Get(targetVersionID)
	if err != nil {
		return rollback.ScheduledPlan{}, err
	}
	return f.planner.Plan(target.Plan.Instructions, target.Services)
}

// ListRollbackTargets returns every non-archived Version other than the
// currently active one, newest first.
func (f *Facade) ListRollbackTargets() []*types.Version {
	var targets []*types.Version
	for _, v := range f.versions.List() {
		if v.Status == types.VersionArchived || v.Status == types.VersionActive {
			continue
		}
		targets = append(targets, v)
	}
	return targets
}

// CreateBackup runs a backup job over sourceRoot.
func (f *Facade) CreateBackup(ctx context.Context, sourceRoot string) (types.BackupRecord, error) {
	record, err := f.backups.Run(ctx, sourceRoot)
	if err != nil {
		return types.BackupRecord{}, err
	}
	eventType := events.EventBackupReplicated
	if record.Insufficient {
		eventType = events.EventBackupInsufficientCopies
	}
	f.publish(eventType, "backup "+record.ID+" completed", map[string]string{"backupId": record.ID})
	return record, nil
}

// RestoreBackup retrieves and materializes backupID under targetRoot.
func (f *Facade) RestoreBackup(ctx context.Context, backupID, targetRoot string) error {
	if err := f.backups.Restore(ctx, backupID, targetRoot); err != nil {
		return err
	}
	f.publish(events.EventBackupRestored, "backup "+backupID+" restored", map[string]string{"backupId": backupID})
	return nil
}

// RunIntegrityTests runs the weekly sweep over the k most recent backups.
func (f *Facade) RunIntegrityTests(ctx context.Context, k int) []integrity.CaseResult {
	results := f.integrity.Run(ctx, k)
	for _, r := range results {
		eventType := events.EventIntegrityTestCompleted
		if r.Status == integrity.CaseFailed {
			eventType = events.EventIntegrityTestFailed
		}
		f.publish(eventType, "integrity test for "+r.BackupID+" at "+r.LocationID, map[string]string{"backupId": r.BackupID, "locationId": r.LocationID})
	}
	return results
}

// RunDRTest runs the given scenarios through the DR Test Harness.
func (f *Facade) RunDRTest(ctx context.Context, scenarios []types.Scenario) (*types.TestExecution, error) {
	if err := f.acquire(opDRTest); err != nil {
		return nil, err
	}
	defer f.release()

	execution, err := f.drtest.Run(ctx, scenarios)
	if err != nil {
		return nil, err
	}
	f.publish(events.EventDRTestCompleted, "dr test execution "+execution.ID+" "+string(execution.Status), map[string]string{"executionId": execution.ID, "status": string(execution.Status)})
	return execution, nil
}

// GetSystemStatus aggregates component health, the active Version, and
// whether a mutating operation is currently in flight.
func (f *Facade) GetSystemStatus() SystemStatus {
	f.opMu.Lock()
	busyWith := string(f.opWho)
	f.opMu.Unlock()

	active, _ := f.versions.Active()
	return SystemStatus{
		Health:        metrics.GetHealth(),
		ActiveVersion: active,
		RollbackState: f.executor.State(),
		DRTestRunning: f.drtest.Running(),
		BusyWith:      busyWith,
	}
}
