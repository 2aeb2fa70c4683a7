package main

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetctl/pkg/backup"
	"github.com/cuemby/fleetctl/pkg/backupcat"
	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/drtest"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/facade"
	"github.com/cuemby/fleetctl/pkg/fsrestore"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/integrity"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/procsup"
	"github.com/cuemby/fleetctl/pkg/reconciler"
	"github.com/cuemby/fleetctl/pkg/retry"
	"github.com/cuemby/fleetctl/pkg/rollback"
	"github.com/cuemby/fleetctl/pkg/schedule"
	"github.com/cuemby/fleetctl/pkg/scheduler"
	"github.com/cuemby/fleetctl/pkg/storagemgr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/cuemby/fleetctl/pkg/versionstore"
)

// system is every component the CLI composes, wired from one Config.
// Daemon mode keeps all of it running; one-shot commands construct the
// same graph, act, and tear down, so the two paths can never drift
// apart.
type system struct {
	cfg        *config.Config
	versions   *versionstore.Store
	supervisor *procsup.Supervisor
	probes     *health.Registry
	planner    *rollback.Planner
	executor   *rollback.Executor
	storage    *storagemgr.Manager
	catalog    *backupcat.Catalog
	backups    *backup.Manager
	integrity  *integrity.Tester
	drtest     *drtest.Harness
	reconciler *reconciler.Aggregator
	bus        *events.Broker
	facade     *facade.Facade
	scheduler  *scheduler.Scheduler
}

// buildSystem constructs the full dependency graph described by cfg
// under stateDir. It does not start any background goroutine; call
// start() on the result to do that.
func buildSystem(cfg *config.Config, stateDir string) (*system, error) {
	versions, err := versionstore.Open(filepath.Join(stateDir, "versions"), cfg.VersionStore)
	if err != nil {
		return nil, err
	}

	supervisor := procsup.New(cfg.Process.Services)

	probes := health.NewRegistry()
	if active, ok := versions.Active(); ok {
		for _, svc := range active.Services {
			if svc.ProbeEndpoint == "" {
				continue
			}
			probes.Register(svc.Name, health.NewHTTPChecker(svc.ProbeEndpoint))
		}
	}

	crypto := ports.NewAEADCrypto()
	planner := rollback.NewPlanner()
	bus := events.NewBroker()

	restorer := fsrestore.New(cfg.Process.SnapshotRoot, cfg.Process.InstallRoot)
	executor := rollback.NewExecutor(supervisor, probes, restorer, versions, bus, cfg.Rollback)

	locations, err := buildStorageLocations(cfg.Storage)
	if err != nil {
		return nil, err
	}
	storage, err := storagemgr.New(locations, cfg.Storage.MinCopies, cfg.Storage.MaxCopies, filepath.Join(stateDir, "storage-index.db"))
	if err != nil {
		return nil, err
	}

	catalog, err := backupcat.Open(filepath.Join(stateDir, "backup-catalog"))
	if err != nil {
		return nil, err
	}

	backups, err := backup.New(crypto, storage, catalog, cfg.Backup)
	if err != nil {
		return nil, err
	}

	archiveKey, err := hex.DecodeString(cfg.Backup.AEADKeyHex)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "backup.aeadKey is not valid hex", err)
	}
	sourceRoot := ""
	if len(cfg.Backup.SourceRoots) > 0 {
		sourceRoot = cfg.Backup.SourceRoots[0]
	}
	integrityTester := integrity.New(catalog, storage, crypto, archiveKey, sourceRoot, integrity.Config{
		TestCount:              cfg.Integrity.TestCount,
		TestAllLocations:       cfg.Integrity.TestAllLocations,
		SandboxRoot:            cfg.Integrity.SandboxRoot,
		ContentCompareMaxBytes: cfg.Integrity.ContentCompareMaxBytes,
	})

	injector := drtest.NewSupervisorInjector(supervisor)
	drHarness := drtest.New(versions, planner, executor, injector, probes, bus)

	recon := reconciler.New(versions, supervisor, probes, 30*time.Second)

	fc := facade.New(versions, planner, executor, backups, integrityTester, drHarness, recon, bus)

	sched, err := buildScheduler(cfg, fc)
	if err != nil {
		return nil, err
	}

	return &system{
		cfg:        cfg,
		versions:   versions,
		supervisor: supervisor,
		probes:     probes,
		planner:    planner,
		executor:   executor,
		storage:    storage,
		catalog:    catalog,
		backups:    backups,
		integrity:  integrityTester,
		drtest:     drHarness,
		reconciler: recon,
		bus:        bus,
		facade:     fc,
		scheduler:  sched,
	}, nil
}

// buildStorageLocations adapts config.StorageLocationConfig entries
// into storagemgr.Location values. Only the "local" kind has a
// concrete ports.ObjectStore adapter in this build; an "object-store"
// location fails construction with a clear error rather than silently
// falling back to a fabricated cloud SDK client.
func buildStorageLocations(cfg config.StorageConfig) ([]storagemgr.Location, error) {
	locations := make([]storagemgr.Location, 0, len(cfg.Locations))
	for _, locCfg := range cfg.Locations {
		if !locCfg.Enabled {
			continue
		}
		if locCfg.Kind != "local" {
			return nil, errs.New(errs.KindInvalidArgument, "storage location "+locCfg.ID+": kind "+locCfg.Kind+" has no adapter in this build, only \"local\" is supported")
		}
		root, ok := locCfg.Config["root"]
		if !ok || root == "" {
			return nil, errs.New(errs.KindInvalidArgument, "storage location "+locCfg.ID+": local kind requires config.root")
		}
		store, err := ports.NewLocalObjectStore(root)
		if err != nil {
			return nil, err
		}
		locations = append(locations, storagemgr.Location{
			StorageLocation: types.StorageLocation{
				ID:       locCfg.ID,
				Kind:     types.StorageLocal,
				Config:   locCfg.Config,
				Enabled:  locCfg.Enabled,
				Priority: locCfg.Priority,
			},
			Store: store,
		})
	}
	if len(locations) == 0 {
		return nil, errs.New(errs.KindInvalidArgument, "no enabled storage locations configured")
	}
	return locations, nil
}

func buildScheduler(cfg *config.Config, fc *facade.Facade) (*scheduler.Scheduler, error) {
	dailyBackup, err := schedule.ParseClockTime(cfg.Backup.DailyFireTime)
	if err != nil {
		return nil, err
	}
	weeklyDay, err := schedule.ParseWeekday(cfg.Integrity.WeeklyFireDay)
	if err != nil {
		return nil, err
	}
	weeklyTime, err := schedule.ParseClockTime(cfg.Integrity.WeeklyFireTime)
	if err != nil {
		return nil, err
	}
	monthlyTime, err := schedule.ParseClockTime(cfg.DRTest.MonthlyFireTime)
	if err != nil {
		return nil, err
	}

	sourceRoot := ""
	if len(cfg.Backup.SourceRoots) > 0 {
		sourceRoot = cfg.Backup.SourceRoots[0]
	}

	trackRetry := retry.Policy{Attempts: 3, Delay: 30 * time.Second}

	tracks := []scheduler.Track{
		{
			Name:     "backup",
			NextFire: func(from time.Time) time.Time { return schedule.NextDaily(from, dailyBackup) },
			Job: func(ctx context.Context) error {
				_, err := fc.CreateBackup(ctx, sourceRoot)
				return err
			},
			RetryPolicy:   trackRetry,
			IsRecoverable: isRecoverable,
		},
		{
			Name:     "integrity",
			NextFire: func(from time.Time) time.Time { return schedule.NextWeekly(from, weeklyDay, weeklyTime) },
			Job: func(ctx context.Context) error {
				fc.RunIntegrityTests(ctx, cfg.Integrity.TestCount)
				return nil
			},
			RetryPolicy:   trackRetry,
			IsRecoverable: isRecoverable,
		},
		{
			Name:     "dr-test",
			NextFire: func(from time.Time) time.Time { return schedule.NextMonthly(from, cfg.DRTest.MonthlyFireDay, monthlyTime) },
			Job: func(ctx context.Context) error {
				scenarioFile := filepath.Join(cfg.Process.SnapshotRoot, "dr-scenarios.json")
				scenarios, err := drtest.LoadScenarios(scenarioFile, cfg.DRTest.Scenarios)
				if err != nil {
					return err
				}
				_, err = fc.RunDRTest(ctx, scenarios)
				return err
			},
			RetryPolicy:   trackRetry,
			IsRecoverable: isRecoverable,
		},
	}

	return scheduler.New(tracks), nil
}

// isRecoverable lets the scheduler retry a scheduled job only when the
// failure was marked recoverable at the point it was raised: a busy
// facade or a transient probe failure, not a validation error that
// will fail identically on the next attempt.
func isRecoverable(err error) bool {
	fault, ok := errs.As(err)
	return ok && fault.Recoverable
}

// start launches every background goroutine: the event bus
// distribution loop, the reconciliation sweep, and the scheduled
// backup/integrity/DR-test tracks. Daemon mode calls this; one-shot
// commands never do.
func (s *system) start() {
	s.bus.Start()
	s.reconciler.Start()
	s.scheduler.Start()
}

// stop reverses start: schedulers and sweeps first, then the event
// bus, then anything holding a file handle.
func (s *system) stop() {
	s.scheduler.Stop()
	s.reconciler.Stop()
	s.bus.Stop()
	s.storage.Close()
}
