package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/backup"
	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/drtest"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/integrity"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/ports/fakes"
	"github.com/cuemby/fleetctl/pkg/reconciler"
	"github.com/cuemby/fleetctl/pkg/rollback"
	"github.com/cuemby/fleetctl/pkg/storagemgr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/cuemby/fleetctl/pkg/versionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestorer struct{}

func (fakeRestorer) RestoreFiles(ctx context.Context, serviceName string) error { return nil }
func (fakeRestorer) RestoreConfig(ctx context.Context, path string) error       { return nil }
func (fakeRestorer) RestoreDatabase(ctx context.Context, target string) error   { return nil }

type fakeStorage struct{ blobs map[string][]byte }

func newFakeStorage() *fakeStorage { return &fakeStorage{blobs: make(map[string][]byte)} }

func (f *fakeStorage) Store(ctx context.Context, backupID, hash string, blob []byte) (storagemgr.StoreResult, error) {
	f.blobs[backupID] = blob
	return storagemgr.StoreResult{BackupID: backupID, SucceededAt: []string{"L1"}}, nil
}

func (f *fakeStorage) Retrieve(ctx context.Context, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error) {
	blob, ok := f.blobs[backupID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no such backup")
	}
	return blob, nil
}

type fakeCatalog struct{ records map[string]types.BackupRecord }

func newFakeCatalog() *fakeCatalog { return &fakeCatalog{records: make(map[string]types.BackupRecord)} }

func (c *fakeCatalog) Put(record types.BackupRecord) error {
	c.records[record.ID] = record
	return nil
}

func (c *fakeCatalog) Get(id string) (types.BackupRecord, error) {
	r, ok := c.records[id]
	if !ok {
		return types.BackupRecord{}, errs.New(errs.KindNotFound, "no such record")
	}
	return r, nil
}

func (c *fakeCatalog) Delete(id string) error { delete(c.records, id); return nil }

func (c *fakeCatalog) Recent(n int) []types.BackupRecord {
	var out []types.BackupRecord
	for _, r := range c.records {
		out = append(out, r)
	}
	if n < len(out) {
		return out[:n]
	}
	return out
}

func buildFacade(t *testing.T) (*Facade, *versionstore.Store) {
	t.Helper()

	versions, err := versionstore.Open(t.TempDir(), config.VersionStoreConfig{MaxVersions: 10})
	require.NoError(t, err)

	planner := rollback.NewPlanner()
	supervisor := fakes.NewSupervisor()
	probe := fakes.NewProbe()
	executor := rollback.NewExecutor(supervisor, probe, fakeRestorer{}, versions, nil, config.RollbackConfig{
		OverallDeadlineSec: 5,
		PerStepTimeoutSec:  2,
	})

	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	status := reconciler.New(versions, supervisor, probe, time.Second)

	harness := drtest.New(versions, planner, executor, drtest.NewSupervisorInjector(supervisor), probe, bus)

	f := New(versions, planner, executor, nil, nil, harness, status, bus)
	return f, versions
}

func seedVersion(t *testing.T, versions *versionstore.Store, serviceName string) *types.Version {
	t.Helper()
	v, err := versions.Create(versionstore.CreateInput{
		VersionStr: "1.0.0",
		Services: []types.ServiceRecord{
			{Name: serviceName, ProbeEndpoint: serviceName, StartupTimeout: time.Second},
		},
		Plan: types.RollbackPlan{
			Instructions: []types.Instruction{
				{StepIndex: 0, Action: types.ActionStopService, Target: serviceName, Timeout: time.Second},
				{StepIndex: 1, Action: types.ActionStartService, Target: serviceName, Timeout: time.Second},
				{StepIndex: 2, Action: types.ActionValidateService, Target: serviceName, Timeout: time.Second},
			},
		},
	})
	require.NoError(t, err)
	return v
}

func TestFacade_CreateVersionPublishesEvent(t *testing.T) {
	f, _ := buildFacade(t)
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)

	v, err := f.CreateVersion(versionstore.CreateInput{VersionStr: "1.0.0"})
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventVersionCreated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected version.created event")
	}
}

func TestFacade_ListRollbackTargetsExcludesActiveAndArchived(t *testing.T) {
	f, versions := buildFacade(t)
	v1 := seedVersion(t, versions, "svc-a")
	v2 := seedVersion(t, versions, "svc-a")
	require.NoError(t, versions.Activate(v1.ID))
	require.NoError(t, versions.Archive(v2.ID))
	v3 := seedVersion(t, versions, "svc-a")

	targets := f.ListRollbackTargets()
	var ids []string
	for _, v := range targets {
		ids = append(ids, v.ID)
	}
	assert.Contains(t, ids, v3.ID)
	assert.NotContains(t, ids, v1.ID)
	assert.NotContains(t, ids, v2.ID)
}

func TestFacade_AnalyzeRollbackDoesNotMutateState(t *testing.T) {
	f, versions := buildFacade(t)
	v1 := seedVersion(t, versions, "svc-a")
	require.NoError(t, versions.Activate(v1.ID))
	v2 := seedVersion(t, versions, "svc-a")

	plan, err := f.AnalyzeRollback(v2.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Groups)

	active, ok := versions.Active()
	require.True(t, ok)
	assert.Equal(t, v1.ID, active.ID)
}

func TestFacade_RollbackRejectsConcurrentOperations(t *testing.T) {
	f, _ := buildFacade(t)
	require.NoError(t, f.acquire(opDeploy))
	defer f.release()

	_, err := f.Rollback(context.Background(), "does-not-matter")
	require.Error(t, err)
	assert.Equal(t, errs.KindOperationBusy, errs.KindOf(err))
}

func TestFacade_GetSystemStatusReportsActiveVersionAndIdleState(t *testing.T) {
	f, versions := buildFacade(t)
	v := seedVersion(t, versions, "svc-a")
	require.NoError(t, versions.Activate(v.ID))

	status := f.GetSystemStatus()
	require.NotNil(t, status.ActiveVersion)
	assert.Equal(t, v.ID, status.ActiveVersion.ID)
	assert.Equal(t, rollback.RunIdle, status.RollbackState)
	assert.False(t, status.DRTestRunning)
	assert.Empty(t, status.BusyWith)
}

func TestFacade_CreateAndRestoreBackupRoundTrips(t *testing.T) {
	sourceRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("hello"), 0o644))

	versions, err := versionstore.Open(t.TempDir(), config.VersionStoreConfig{MaxVersions: 10})
	require.NoError(t, err)
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)

	mgr, err := backup.New(ports.NewAEADCrypto(), newFakeStorage(), newFakeCatalog(), config.BackupConfig{
		IncludeGlobs:     []string{"**/*"},
		CompressionLevel: 3,
		AEADKeyHex:       "ab00000000000000000000000000000000000000000000000000000000000000",
	})
	require.NoError(t, err)

	f := New(versions, rollback.NewPlanner(), nil, mgr, nil, nil, nil, bus)
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)

	record, err := f.CreateBackup(context.Background(), sourceRoot)
	require.NoError(t, err)
	assert.False(t, record.Insufficient)

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventBackupReplicated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected backup.replicated event")
	}

	targetRoot := t.TempDir()
	require.NoError(t, f.RestoreBackup(context.Background(), record.ID, targetRoot))
	restored, err := os.ReadFile(filepath.Join(targetRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(restored))
}

func TestFacade_RunIntegrityTestsWithNoBackupsReturnsNoResults(t *testing.T) {
	versions, err := versionstore.Open(t.TempDir(), config.VersionStoreConfig{MaxVersions: 10})
	require.NoError(t, err)
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)

	tester := integrity.New(emptyBackupSource{}, emptyLocationStore{}, ports.NewAEADCrypto(), nil, t.TempDir(), integrity.Config{})
	f := New(versions, rollback.NewPlanner(), nil, nil, tester, nil, nil, bus)

	results := f.RunIntegrityTests(context.Background(), 5)
	assert.Empty(t, results)
}

type emptyBackupSource struct{}

func (emptyBackupSource) Recent(n int) []types.BackupRecord { return nil }

type emptyLocationStore struct{}

func (emptyLocationStore) Locations() []string { return nil }
func (emptyLocationStore) RetrieveFrom(ctx context.Context, locationID, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error) {
	return nil, errs.New(errs.KindNotFound, "no locations")
}
