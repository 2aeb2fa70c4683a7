package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/storagemgr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	blobs map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: make(map[string][]byte)}
}

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

type fakeCatalog struct {
	records map[string]types.BackupRecord
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{records: make(map[string]types.BackupRecord)}
}

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

func (c *fakeCatalog) Delete(id string) error {
	delete(c.records, id)
	return nil
}

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

func testConfig() config.BackupConfig {
	return config.BackupConfig{
		SourceRoots:      []string{"."},
		IncludeGlobs:     []string{"**/*"},
		RetentionDays:    7,
		DailyFireTime:    "02:00",
		CompressionLevel: 3,
		AEADKeyHex:       strings.Repeat("ab", 32),
	}
}

func TestManager_RunEncodesReplicatesAndCatalogs(t *testing.T) {
	sourceRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "sub", "b.txt"), []byte("world"), 0o644))

	storage := newFakeStorage()
	catalog := newFakeCatalog()
	mgr, err := New(ports.NewAEADCrypto(), storage, catalog, testConfig())
	require.NoError(t, err)

	record, err := mgr.Run(context.Background(), sourceRoot)
	require.NoError(t, err)
	assert.Len(t, record.SourceFiles, 2)
	assert.False(t, record.Insufficient)
	assert.Contains(t, catalog.records, record.ID)
	assert.Contains(t, storage.blobs, record.ID)
}

func TestManager_RestoreRoundTrips(t *testing.T) {
	sourceRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("hello"), 0o644))

	storage := newFakeStorage()
	catalog := newFakeCatalog()
	mgr, err := New(ports.NewAEADCrypto(), storage, catalog, testConfig())
	require.NoError(t, err)

	record, err := mgr.Run(context.Background(), sourceRoot)
	require.NoError(t, err)

	targetRoot := t.TempDir()
	require.NoError(t, mgr.Restore(context.Background(), record.ID, targetRoot))

	restored, err := os.ReadFile(filepath.Join(targetRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(restored))
}

func TestManager_RunRejectsEmptySourceTree(t *testing.T) {
	sourceRoot := t.TempDir()
	storage := newFakeStorage()
	catalog := newFakeCatalog()
	mgr, err := New(ports.NewAEADCrypto(), storage, catalog, testConfig())
	require.NoError(t, err)

	_, err = mgr.Run(context.Background(), sourceRoot)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestNew_RejectsInvalidKeyHex(t *testing.T) {
	cfg := testConfig()
	cfg.AEADKeyHex = "not-hex"
	_, err := New(ports.NewAEADCrypto(), newFakeStorage(), newFakeCatalog(), cfg)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}
