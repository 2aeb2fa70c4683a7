// Package versionstore persists Version records one JSON file per
// record under versions/<versionId>.json, written atomically (temp
// file, fsync, rename). It is the system of record for deployment
// history; BoltDB is deliberately not used here (see Storage Manager's
// cache, which is a rebuildable index rather than a system of record).
package versionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists and indexes Version records under a directory root.
// Reads may run concurrently; writes (including Activate) are
// serialized by mu.
type Store struct {
	mu       sync.RWMutex
	dir      string
	cfg      config.VersionStoreConfig
	logger   zerolog.Logger
	versions map[string]*types.Version
	activeID string
}

// Open loads every *.json record directly under dir, reconstructing the
// active Version. If more than one record claims status=active, the
// store is corrupt: Open fails closed and names every offending id.
func Open(dir string, cfg config.VersionStoreConfig) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "creating version store directory", err)
	}

	s := &Store{
		dir:      dir,
		cfg:      cfg,
		logger:   log.WithComponent("version-store"),
		versions: make(map[string]*types.Version),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnexpected, "reading version store directory", err)
	}

	var activeIDs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errs.Wrap(errs.KindUnexpected, "reading version record "+entry.Name(), err)
		}
		var v types.Version
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errs.Wrap(errs.KindMetadataInvalid, "parsing version record "+entry.Name(), err)
		}
		s.versions[v.ID] = &v
		if v.Status == types.VersionActive {
			activeIDs = append(activeIDs, v.ID)
		}
	}

	if len(activeIDs) > 1 {
		sort.Strings(activeIDs)
		return nil, errs.New(errs.KindMetadataInvalid,
			fmt.Sprintf("corrupt version store: multiple active versions %s", strings.Join(activeIDs, ", ")))
	}
	if len(activeIDs) == 1 {
		s.activeID = activeIDs[0]
	}

	return s, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// writeAtomic marshals v and writes it to disk via temp file + fsync +
// rename, so a crash mid-write never leaves a partially-written record.
func (s *Store) writeAtomic(v *types.Version) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "marshaling version record", err)
	}

	final := s.pathFor(v.ID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindUnexpected, "creating temp version file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.Wrap(errs.KindUnexpected, "writing temp version file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.KindUnexpected, "fsyncing temp version file", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.KindUnexpected, "closing temp version file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.Wrap(errs.KindUnexpected, "renaming version file into place", err)
	}
	return nil
}

// CreateInput carries the fields a caller supplies to Create; the rest
// (ID, CreatedAt, Status) are assigned by the store.
type CreateInput struct {
	VersionStr   string
	Services     []types.ServiceRecord
	Metadata     types.Metadata
	Dependencies types.Dependencies
	Plan         types.RollbackPlan
}

// Create persists a new inactive Version and applies retention.
func (s *Store) Create(in CreateInput) (*types.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("v-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	v := &types.Version{
		ID:           id,
		VersionStr:   in.VersionStr,
		CreatedAt:    time.Now(),
		Services:     in.Services,
		Metadata:     in.Metadata,
		Dependencies: in.Dependencies,
		Status:       types.VersionInactive,
		Plan:         in.Plan,
	}

	if err := s.writeAtomic(v); err != nil {
		return nil, err
	}
	s.versions[id] = v

	s.applyRetentionLocked()
	s.logger.Info().Str("version_id", id).Msg("version created")
	return cloneVersion(v), nil
}

// Activate atomically swaps the previously-active Version (if any) to
// inactive and targetID to active. Both writes must succeed; if the
// second write fails the in-memory view is rolled back to its prior
// state, so callers never observe a store with zero or two actives.
func (s *Store) Activate(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[targetID]
	if !ok {
		return errs.New(errs.KindNotFound, "version not found: "+targetID)
	}
	if target.Status == types.VersionActive {
		return errs.New(errs.KindAlreadyActive, "version is already active: "+targetID)
	}
	if target.Status == types.VersionArchived {
		return errs.New(errs.KindInvalidArgument, "cannot activate an archived version")
	}

	prevActiveID := s.activeID
	var prevActive *types.Version
	if prevActiveID != "" {
		prevActive = s.versions[prevActiveID]
	}

	if prevActive != nil {
		prevActive.Status = types.VersionInactive
		if err := s.writeAtomic(prevActive); err != nil {
			prevActive.Status = types.VersionActive
			return errs.Wrap(errs.KindUnexpected, "deactivating previous version", err)
		}
	}

	target.Status = types.VersionActive
	if err := s.writeAtomic(target); err != nil {
		target.Status = types.VersionInactive
		if prevActive != nil {
			prevActive.Status = types.VersionActive
			_ = s.writeAtomic(prevActive)
		}
		return errs.Wrap(errs.KindUnexpected, "activating version", err)
	}

	s.activeID = targetID
	s.logger.Info().Str("version_id", targetID).Str("previous_active", prevActiveID).Msg("version activated")
	return nil
}

// Get returns a copy of one Version by id.
func (s *Store) Get(id string) (*types.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "version not found: "+id)
	}
	return cloneVersion(v), nil
}

// List returns every Version, newest first.
func (s *Store) List() []*types.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, cloneVersion(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Active returns the current active Version, or false if none has ever
// been activated.
func (s *Store) Active() (*types.Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, false
	}
	return cloneVersion(s.versions[s.activeID]), true
}

// Archive marks a non-active Version as archived.
func (s *Store) Archive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archiveLocked(id)
}

func (s *Store) archiveLocked(id string) error {
	v, ok := s.versions[id]
	if !ok {
		return errs.New(errs.KindNotFound, "version not found: "+id)
	}
	if v.Status == types.VersionActive {
		return errs.New(errs.KindInvalidArgument, "cannot archive the active version")
	}
	if v.Status == types.VersionArchived {
		return nil
	}
	v.Status = types.VersionArchived
	if err := s.writeAtomic(v); err != nil {
		v.Status = types.VersionInactive
		return err
	}
	return nil
}

// Delete removes a non-active Version's record. Callers are
// responsible for removing its backup-snapshot tree, if any, before or
// after this call.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return errs.New(errs.KindNotFound, "version not found: "+id)
	}
	if v.Status == types.VersionActive {
		return errs.New(errs.KindInvalidArgument, "cannot delete the active version")
	}

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindUnexpected, "removing version record", err)
	}
	delete(s.versions, id)
	return nil
}

// Compare reports service and dependency differences between two
// Versions.
func (s *Store) Compare(fromID, toID string) (types.CompareResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, ok := s.versions[fromID]
	if !ok {
		return types.CompareResult{}, errs.New(errs.KindNotFound, "version not found: "+fromID)
	}
	to, ok := s.versions[toID]
	if !ok {
		return types.CompareResult{}, errs.New(errs.KindNotFound, "version not found: "+toID)
	}

	fromByName := make(map[string]types.ServiceRecord, len(from.Services))
	for _, sr := range from.Services {
		fromByName[sr.Name] = sr
	}
	toByName := make(map[string]types.ServiceRecord, len(to.Services))
	for _, sr := range to.Services {
		toByName[sr.Name] = sr
	}

	result := types.CompareResult{DependencyDelta: make(map[string]string)}
	for name, toRec := range toByName {
		fromRec, existed := fromByName[name]
		if !existed {
			result.ServicesAdded = append(result.ServicesAdded, name)
			continue
		}
		if fromRec.ArtifactFingerprint != toRec.ArtifactFingerprint || fromRec.ConfigFingerprint != toRec.ConfigFingerprint {
			result.ServicesModified = append(result.ServicesModified, types.ServiceDelta{
				Name:                   name,
				ArtifactFingerprintOld: fromRec.ArtifactFingerprint,
				ArtifactFingerprintNew: toRec.ArtifactFingerprint,
				ConfigFingerprintOld:   fromRec.ConfigFingerprint,
				ConfigFingerprintNew:   toRec.ConfigFingerprint,
			})
		}
	}
	for name := range fromByName {
		if _, stillPresent := toByName[name]; !stillPresent {
			result.ServicesRemoved = append(result.ServicesRemoved, name)
		}
	}
	sort.Strings(result.ServicesAdded)
	sort.Strings(result.ServicesRemoved)
	sort.Slice(result.ServicesModified, func(i, j int) bool {
		return result.ServicesModified[i].Name < result.ServicesModified[j].Name
	})

	if from.Dependencies.ConfigFingerprint != to.Dependencies.ConfigFingerprint {
		result.DependencyDelta["configFingerprint"] = fmt.Sprintf("%s -> %s", from.Dependencies.ConfigFingerprint, to.Dependencies.ConfigFingerprint)
	}
	return result, nil
}

// ServiceHistory returns, for one service name, the chronological list
// of Versions in which that service's fingerprint changed.
func (s *Store) ServiceHistory(serviceName string) []types.ServiceHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*types.Version, 0, len(s.versions))
	for _, v := range s.versions {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	var history []types.ServiceHistoryEntry
	var lastArtifact, lastConfig string
	seen := false
	for _, v := range all {
		for _, rec := range v.Services {
			if rec.Name != serviceName {
				continue
			}
			if !seen || rec.ArtifactFingerprint != lastArtifact || rec.ConfigFingerprint != lastConfig {
				history = append(history, types.ServiceHistoryEntry{
					VersionID: v.ID,
					CreatedAt: v.CreatedAt,
					Record:    rec,
				})
				lastArtifact = rec.ArtifactFingerprint
				lastConfig = rec.ConfigFingerprint
				seen = true
			}
		}
	}
	return history
}

// applyRetentionLocked archives the oldest non-archived, non-active
// Versions once their count exceeds cfg.MaxVersions. Callers must hold
// mu.
func (s *Store) applyRetentionLocked() {
	var candidates []*types.Version
	for _, v := range s.versions {
		if v.Status != types.VersionArchived {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) <= s.cfg.MaxVersions {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	excess := len(candidates) - s.cfg.MaxVersions
	for _, v := range candidates {
		if excess <= 0 {
			break
		}
		if v.Status == types.VersionActive {
			continue
		}
		if err := s.archiveLocked(v.ID); err != nil {
			s.logger.Warn().Err(err).Str("version_id", v.ID).Msg("retention: failed to archive version")
			continue
		}
		excess--
	}
}

func cloneVersion(v *types.Version) *types.Version {
	cp := *v
	cp.Services = append([]types.ServiceRecord(nil), v.Services...)
	cp.Plan.Instructions = append([]types.Instruction(nil), v.Plan.Instructions...)
	if v.Plan.ArtifactSnapshots != nil {
		cp.Plan.ArtifactSnapshots = make(map[string]string, len(v.Plan.ArtifactSnapshots))
		for k, val := range v.Plan.ArtifactSnapshots {
			cp.Plan.ArtifactSnapshots[k] = val
		}
	}
	return &cp
}
