// Package backupcat persists BackupRecord side-cars, one JSON file per
// backup id, the same atomic-write discipline pkg/versionstore uses
// for Versions. It is the catalog the Backup flow and Integrity Tester
// consult for "what was backed up and when" without touching blob
// storage itself.
package backupcat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/types"
)

// Catalog is a directory of BackupRecord side-cars.
type Catalog struct {
	mu  sync.RWMutex
	dir string
}

// Open creates dir if needed and returns a Catalog backed by it.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "creating backup catalog directory", err)
	}
	return &Catalog{dir: dir}, nil
}

func (c *Catalog) path(id string) string {
	return filepath.Join(c.dir, id+".meta")
}

// Put atomically writes a BackupRecord's side-car.
func (c *Catalog) Put(record types.BackupRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "marshaling backup record", err)
	}

	final := c.path(record.ID)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "creating backup record side-car", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.Wrap(errs.KindUnexpected, "writing backup record side-car", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.KindUnexpected, "syncing backup record side-car", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.KindUnexpected, "closing backup record side-car", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.Wrap(errs.KindUnexpected, "renaming backup record side-car", err)
	}
	return nil
}

// Get reads one BackupRecord by id.
func (c *Catalog) Get(id string) (types.BackupRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return types.BackupRecord{}, errs.New(errs.KindNotFound, "backup record "+id+" not found")
		}
		return types.BackupRecord{}, errs.Wrap(errs.KindUnexpected, "reading backup record", err)
	}
	var record types.BackupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.BackupRecord{}, errs.Wrap(errs.KindMetadataInvalid, "parsing backup record", err)
	}
	return record, nil
}

// Delete removes a BackupRecord's side-car, if present.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindUnexpected, "removing backup record", err)
	}
	return nil
}

// List returns every BackupRecord, newest first. Corrupt side-cars are
// skipped and do not fail the call.
func (c *Catalog) List() []types.BackupRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}

	var records []types.BackupRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".meta" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		var record types.BackupRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records
}

// Recent returns at most n of the most recently created BackupRecords.
func (c *Catalog) Recent(n int) []types.BackupRecord {
	all := c.List()
	if n >= len(all) {
		return all
	}
	return all[:n]
}
