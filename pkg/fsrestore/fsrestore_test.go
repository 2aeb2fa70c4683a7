package fsrestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestorer_RestoreFilesCopiesTree(t *testing.T) {
	snapshotRoot := t.TempDir()
	installRoot := t.TempDir()

	svcDir := filepath.Join(snapshotRoot, "services", "web")
	require.NoError(t, os.MkdirAll(filepath.Join(svcDir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(svcDir, "bin", "web"), []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(svcDir, "manifest.yaml"), []byte("name: web"), 0o644))

	r := New(snapshotRoot, installRoot)
	require.NoError(t, r.RestoreFiles(context.Background(), "web"))

	data, err := os.ReadFile(filepath.Join(installRoot, "web", "bin", "web"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	data, err = os.ReadFile(filepath.Join(installRoot, "web", "manifest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "name: web", string(data))
}

func TestRestorer_RestoreConfigCopiesSingleFile(t *testing.T) {
	snapshotRoot := t.TempDir()
	installRoot := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(snapshotRoot, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshotRoot, "configs", "app.yaml"), []byte("key: value"), 0o644))

	r := New(snapshotRoot, installRoot)
	require.NoError(t, r.RestoreConfig(context.Background(), "app.yaml"))

	data, err := os.ReadFile(filepath.Join(installRoot, "config", "app.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "key: value", string(data))
}

func TestRestorer_RestoreDatabaseMissingSnapshotFails(t *testing.T) {
	r := New(t.TempDir(), t.TempDir())
	err := r.RestoreDatabase(context.Background(), "primary")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
