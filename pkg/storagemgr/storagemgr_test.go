package storagemgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/ports/fakes"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, minCopies, maxCopies int, locs ...Location) *Manager {
	t.Helper()
	m, err := New(locs, minCopies, maxCopies, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_StoreReplicatesInPriorityOrder(t *testing.T) {
	a := fakes.NewObjectStore()
	b := fakes.NewObjectStore()
	m := newManager(t, 1, 2,
		Location{StorageLocation: types.StorageLocation{ID: "a", Priority: 1, Enabled: true}, Store: a},
		Location{StorageLocation: types.StorageLocation{ID: "b", Priority: 2, Enabled: true}, Store: b},
	)

	result, err := m.Store(context.Background(), "backup-1", "hash1", []byte("blob"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.SucceededAt)
}

func TestManager_StoreBelowMinCopiesReturnsInsufficientError(t *testing.T) {
	a := fakes.NewObjectStore()
	a.Unavail = true
	b := fakes.NewObjectStore()
	b.Unavail = true
	m := newManager(t, 1, 2,
		Location{StorageLocation: types.StorageLocation{ID: "a", Priority: 1, Enabled: true}, Store: a},
		Location{StorageLocation: types.StorageLocation{ID: "b", Priority: 2, Enabled: true}, Store: b},
	)

	result, err := m.Store(context.Background(), "backup-1", "hash1", []byte("blob"))
	require.Error(t, err)
	assert.True(t, result.Insufficient)
}

func TestManager_StoreStopsAtMaxCopies(t *testing.T) {
	a := fakes.NewObjectStore()
	b := fakes.NewObjectStore()
	c := fakes.NewObjectStore()
	m := newManager(t, 1, 1,
		Location{StorageLocation: types.StorageLocation{ID: "a", Priority: 1, Enabled: true}, Store: a},
		Location{StorageLocation: types.StorageLocation{ID: "b", Priority: 2, Enabled: true}, Store: b},
		Location{StorageLocation: types.StorageLocation{ID: "c", Priority: 3, Enabled: true}, Store: c},
	)

	result, err := m.Store(context.Background(), "backup-1", "hash1", []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, result.SucceededAt)
}

func TestManager_RetrieveSkipsCorruptCopies(t *testing.T) {
	ctx := context.Background()
	crypto := ports.NewAEADCrypto()

	good := []byte("good-content")
	goodHash := crypto.HashSHA256(good)
	goodHashHex := hexEncode(goodHash[:])

	a := fakes.NewObjectStore()
	require.NoError(t, a.Put(ctx, "backup-1", []byte("wrong-content")))
	b := fakes.NewObjectStore()
	require.NoError(t, b.Put(ctx, "backup-1", good))

	m := newManager(t, 1, 2,
		Location{StorageLocation: types.StorageLocation{ID: "a", Priority: 1, Enabled: true}, Store: a},
		Location{StorageLocation: types.StorageLocation{ID: "b", Priority: 2, Enabled: true}, Store: b},
	)

	data, err := m.Retrieve(ctx, "backup-1", goodHashHex, crypto)
	require.NoError(t, err)
	assert.Equal(t, good, data)
}

func TestManager_CleanupDeletesRejectedKeys(t *testing.T) {
	ctx := context.Background()
	a := fakes.NewObjectStore()
	require.NoError(t, a.Put(ctx, "keep-me", []byte("x")))
	require.NoError(t, a.Put(ctx, "drop-me", []byte("x")))

	m := newManager(t, 1, 1, Location{StorageLocation: types.StorageLocation{ID: "a", Priority: 1, Enabled: true}, Store: a})

	err := m.Cleanup(ctx, func(key string) bool { return key == "keep-me" })
	require.NoError(t, err)

	keys, err := a.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep-me"}, keys)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xF]
	}
	return string(out)
}
