// Package storagemgr implements the Storage Manager: it replicates
// encoded backup blobs across an ordered list of StorageLocations,
// enforces minimum/maximum copy counts, and retrieves the first
// hash-matching copy it can find. A BoltDB-backed local index records
// where each backup landed (IndexLookup); List and Retrieve do not read
// it and always query the locations. The index is a rebuildable cache,
// never the system of record: every location's own objects remain
// authoritative.
package storagemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

var bucketIndex = []byte("backup_index")

// indexEntry is the cached record of where one backup landed.
type indexEntry struct {
	BackupID  string   `json:"backupId"`
	Hash      string   `json:"hash"`
	Locations []string `json:"locations"`
}

// Location pairs a configured StorageLocation with the live port that
// talks to it.
type Location struct {
	types.StorageLocation
	Store ports.ObjectStore
}

// Manager is the Storage Manager. Locations is priority-ordered
// (lowest Priority value tried first) and fixed for the Manager's
// lifetime; reconfiguring locations requires constructing a new
// Manager.
type Manager struct {
	locations []Location
	minCopies int
	maxCopies int
	db        *bolt.DB
	logger    zerolog.Logger

	mu sync.Mutex // serializes Cleanup per backup id
}

// New constructs a Manager. indexPath is the path to the BoltDB cache
// file; it is created if absent and may be deleted safely (Rebuild
// repopulates it from the locations themselves).
func New(locations []Location, minCopies, maxCopies int, indexPath string) (*Manager, error) {
	sorted := append([]Location(nil), locations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	db, err := bolt.Open(indexPath, 0o600, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "opening storage index", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindUnexpected, "creating storage index bucket", err)
	}

	return &Manager{
		locations: sorted,
		minCopies: minCopies,
		maxCopies: maxCopies,
		db:        db,
		logger:    log.WithComponent("storage-manager"),
	}, nil
}

// Close releases the index database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// StoreResult reports what happened at each attempted location.
type StoreResult struct {
	BackupID        string
	SucceededAt     []string
	FailedAt        map[string]error
	Insufficient    bool
}

// Store replicates blob under key backupID to locations in priority
// order until maxCopies succeed or locations are exhausted. It returns
// an error only when fewer than minCopies succeeded; partial success at
// or above minCopies is reported via StoreResult.Insufficient=false with
// FailedAt populated for any location that did not take the copy.
func (m *Manager) Store(ctx context.Context, backupID string, hash string, blob []byte) (StoreResult, error) {
	result := StoreResult{BackupID: backupID, FailedAt: make(map[string]error)}

	for _, loc := range m.locations {
		if !loc.Enabled {
			continue
		}
		if len(result.SucceededAt) >= m.maxCopies {
			break
		}
		if err := loc.Store.Put(ctx, backupID, blob); err != nil {
			result.FailedAt[loc.ID] = err
			m.logger.Warn().Err(err).Str("location", loc.ID).Str("backup_id", backupID).Msg("replication attempt failed")
			continue
		}
		result.SucceededAt = append(result.SucceededAt, loc.ID)
	}

	if err := m.recordIndex(backupID, hash, result.SucceededAt); err != nil {
		m.logger.Warn().Err(err).Str("backup_id", backupID).Msg("failed to update storage index")
	}

	if len(result.SucceededAt) < m.minCopies {
		result.Insufficient = true
		return result, errs.New(errs.KindInsufficientCopies,
			fmt.Sprintf("backup %s replicated to %d/%d required locations", backupID, len(result.SucceededAt), m.minCopies))
	}
	return result, nil
}

// Retrieve fetches the blob for backupID from the first location (by
// priority) that returns it with a hash matching expectedHash. It skips
// locations that error or return a corrupt blob, trying the next.
func (m *Manager) Retrieve(ctx context.Context, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error) {
	var lastErr error
	for _, loc := range m.locations {
		if !loc.Enabled {
			continue
		}
		data, err := loc.Store.Get(ctx, backupID)
		if err != nil {
			lastErr = err
			continue
		}
		sum := crypto.HashSHA256(data)
		if fmt.Sprintf("%x", sum) != expectedHash {
			lastErr = errs.New(errs.KindChecksumMismatch, fmt.Sprintf("location %s returned corrupt blob for %s", loc.ID, backupID))
			continue
		}
		return data, nil
	}
	if lastErr != nil {
		return nil, errs.Wrap(errs.KindNotFound, "no location held a valid copy of "+backupID, lastErr)
	}
	return nil, errs.New(errs.KindNotFound, "no location held a copy of "+backupID)
}

// RetrieveFrom fetches the blob for backupID from one specific location
// by id, verifying it against expectedHash. Unlike Retrieve, it does
// not fall back to other locations: the Integrity Tester uses this to
// test one location's copy in isolation.
func (m *Manager) RetrieveFrom(ctx context.Context, locationID, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error) {
	for _, loc := range m.locations {
		if loc.ID != locationID {
			continue
		}
		if !loc.Enabled {
			return nil, errs.New(errs.KindLocationUnavailable, "location "+locationID+" is disabled")
		}
		data, err := loc.Store.Get(ctx, backupID)
		if err != nil {
			return nil, errs.Wrap(errs.KindLocationUnavailable, "retrieving from "+locationID, err)
		}
		sum := crypto.HashSHA256(data)
		if fmt.Sprintf("%x", sum) != expectedHash {
			return nil, errs.New(errs.KindChecksumMismatch, fmt.Sprintf("location %s returned corrupt blob for %s", locationID, backupID))
		}
		return data, nil
	}
	return nil, errs.New(errs.KindNotFound, "no such location "+locationID)
}

// Locations returns the ids of every enabled location, in priority order.
func (m *Manager) Locations() []string {
	ids := make([]string, 0, len(m.locations))
	for _, loc := range m.locations {
		if loc.Enabled {
			ids = append(ids, loc.ID)
		}
	}
	return ids
}

// LocationListing is one location's enumeration result; Err is set
// when that location could not be listed, which does not fail the
// overall List call.
type LocationListing struct {
	LocationID string
	Keys       []string
	Err        error
}

// List enumerates backup keys at every enabled location concurrently.
func (m *Manager) List(ctx context.Context, prefix string) []LocationListing {
	results := make([]LocationListing, len(m.locations))
	var wg sync.WaitGroup
	for i, loc := range m.locations {
		wg.Add(1)
		go func(i int, loc Location) {
			defer wg.Done()
			if !loc.Enabled {
				results[i] = LocationListing{LocationID: loc.ID}
				return
			}
			keys, err := loc.Store.List(ctx, prefix)
			results[i] = LocationListing{LocationID: loc.ID, Keys: keys, Err: err}
		}(i, loc)
	}
	wg.Wait()
	return results
}

// Cleanup applies per-location retention: for every key enumerated at a
// location, keep calls the retention predicate and deletes keys it
// rejects. Cleanup for different backup ids may run concurrently, but
// a single backup id's cleanup is serialized against a concurrent
// Store of the same id.
func (m *Manager) Cleanup(ctx context.Context, keep func(key string) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, loc := range m.locations {
		loc := loc
		if !loc.Enabled {
			continue
		}
		g.Go(func() error {
			keys, err := loc.Store.List(gctx, "")
			if err != nil {
				m.logger.Warn().Err(err).Str("location", loc.ID).Msg("cleanup: listing failed")
				return nil
			}
			for _, key := range keys {
				if keep(key) {
					continue
				}
				m.mu.Lock()
				err := loc.Store.Delete(gctx, key)
				m.mu.Unlock()
				if err != nil {
					m.logger.Warn().Err(err).Str("location", loc.ID).Str("key", key).Msg("cleanup: delete failed")
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) recordIndex(backupID, hash string, locationIDs []string) error {
	entry := indexEntry{BackupID: backupID, Hash: hash, Locations: locationIDs}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put([]byte(backupID), data)
	})
}

// IndexLookup returns the cached replication record for a backup id, if
// the index has observed it. This is a performance shortcut only:
// callers must not treat a miss as "does not exist" without falling
// back to List/Retrieve against the locations themselves.
func (m *Manager) IndexLookup(backupID string) (locations []string, hash string, found bool) {
	_ = m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIndex).Get([]byte(backupID))
		if data == nil {
			return nil
		}
		var entry indexEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		locations = entry.Locations
		hash = entry.Hash
		found = true
		return nil
	})
	return locations, hash, found
}

// Rebuild discards the cached index and repopulates it by listing every
// location directly, in case the BoltDB file was lost or corrupted.
func (m *Manager) Rebuild(ctx context.Context) error {
	listings := m.List(ctx, "")

	byKey := make(map[string][]string)
	for _, listing := range listings {
		if listing.Err != nil {
			m.logger.Warn().Err(listing.Err).Str("location", listing.LocationID).Msg("rebuild: skipping unreachable location")
			continue
		}
		for _, key := range listing.Keys {
			byKey[key] = append(byKey[key], listing.LocationID)
		}
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndex)
		if err := tx.DeleteBucket(bucketIndex); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketIndex)
		if err != nil {
			return err
		}
		for key, locs := range byKey {
			data, err := json.Marshal(indexEntry{BackupID: key, Locations: locs})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
