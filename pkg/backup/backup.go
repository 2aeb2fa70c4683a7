package backup

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetctl/pkg/codec"
	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/glob"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/storagemgr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// Catalog persists BackupRecord side-cars. pkg/backupcat.Catalog
// satisfies this.
type Catalog interface {
	Put(record types.BackupRecord) error
	Get(id string) (types.BackupRecord, error)
	Delete(id string) error
	Recent(n int) []types.BackupRecord
}

// StorageManager replicates and retrieves encoded blobs. pkg/storagemgr.Manager
// satisfies this.
type StorageManager interface {
	Store(ctx context.Context, backupID, hash string, blob []byte) (storagemgr.StoreResult, error)
	Retrieve(ctx context.Context, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error)
}

// Manager runs backup and restore jobs: enumerate source files, encode
// through the Backup Codec, replicate through the Storage Manager, and
// catalog the result.
type Manager struct {
	codec   *codec.Codec
	crypto  ports.Crypto
	storage StorageManager
	catalog Catalog
	cfg     config.BackupConfig
	key     []byte
	logger  zerolog.Logger
}

// New builds a Manager. cfg.AEADKeyHex must decode to a 32-byte key.
func New(crypto ports.Crypto, storage StorageManager, catalog Catalog, cfg config.BackupConfig) (*Manager, error) {
	key, err := hex.DecodeString(cfg.AEADKeyHex)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "backup.aeadKey is not valid hex", err)
	}
	return &Manager{
		codec:   codec.New(crypto, cfg.CompressionLevel),
		crypto:  crypto,
		storage: storage,
		catalog: catalog,
		cfg:     cfg,
		key:     key,
		logger:  log.WithComponent("backup-manager"),
	}, nil
}

// Run encodes every included file under sourceRoot, replicates the
// blob, and catalogs the resulting BackupRecord.
func (m *Manager) Run(ctx context.Context, sourceRoot string) (types.BackupRecord, error) {
	timer := metrics.NewTimer()

	relPaths, err := enumerate(sourceRoot, m.cfg.IncludeGlobs, m.cfg.ExcludeGlobs)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return types.BackupRecord{}, err
	}

	blob, record, err := m.codec.Encode(sourceRoot, relPaths, m.key)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return types.BackupRecord{}, err
	}
	record.CreatedAt = time.Now()

	storeResult, err := m.storage.Store(ctx, record.ID, record.Hash, blob)
	if err != nil {
		record.Insufficient = true
		m.logger.Warn().Err(err).Str("backup_id", record.ID).Msg("replication below minCopies")
	}

	if err := m.catalog.Put(record); err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return types.BackupRecord{}, errs.Wrap(errs.KindUnexpected, "cataloging backup record", err)
	}

	metrics.BackupSizeBytes.Observe(float64(record.EncryptedSize))
	metrics.ReplicationCopies.Observe(float64(len(storeResult.SucceededAt)))
	timer.ObserveDuration(metrics.BackupDuration)

	if record.Insufficient {
		metrics.BackupsTotal.WithLabelValues("insufficient").Inc()
	} else {
		metrics.BackupsTotal.WithLabelValues("success").Inc()
	}

	m.logger.Info().
		Str("backup_id", record.ID).
		Int("files", len(relPaths)).
		Int("copies", len(storeResult.SucceededAt)).
		Bool("insufficient", record.Insufficient).
		Msg("backup completed")

	return record, nil
}

// Restore retrieves backupID and materializes it under targetRoot.
func (m *Manager) Restore(ctx context.Context, backupID, targetRoot string) error {
	record, err := m.catalog.Get(backupID)
	if err != nil {
		return err
	}

	blob, err := m.storage.Retrieve(ctx, backupID, record.Hash, m.crypto)
	if err != nil {
		return err
	}

	return m.codec.Decode(blob, m.key, record.Hash, targetRoot)
}

// enumerate walks sourceRoot and returns every regular file's
// canonical relative path whose name passes the include/exclude glob
// filters.
func enumerate(sourceRoot string, includes, excludes []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(sourceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !glob.Included(rel, includes, excludes) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "enumerating backup source files", err)
	}
	if len(paths) == 0 {
		return nil, errs.New(errs.KindInvalidArgument, "backup source "+sourceRoot+" matched no files")
	}
	return paths, nil
}
