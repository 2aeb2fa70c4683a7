package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/codec"
	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BackupSource supplies the records to test.
type BackupSource interface {
	Recent(n int) []types.BackupRecord
}

// LocationStore is the slice of the Storage Manager the Integrity
// Tester consumes: retrieve one location's copy in isolation.
type LocationStore interface {
	Locations() []string
	RetrieveFrom(ctx context.Context, locationID, backupID, expectedHash string, crypto ports.Crypto) ([]byte, error)
}

// CaseStatus is the outcome of one TestCase.
type CaseStatus string

const (
	CasePassed CaseStatus = "passed"
	CaseFailed CaseStatus = "failed"
)

// CaseResult is the outcome of testing one BackupRecord at one location.
type CaseResult struct {
	BackupID   string
	LocationID string
	Status     CaseStatus
	Kind       errs.Kind
	Detail     string
	RanAt      time.Time
}

const maxHistory = 500

// Tester runs the weekly integrity sweep: select the K most recent
// BackupRecords, run one TestCase per eligible location, and retain a
// bounded history of results.
type Tester struct {
	backups    BackupSource
	locations  LocationStore
	crypto     ports.Crypto
	archiveKey []byte
	codec      *codec.Codec
	sourceRoot string

	testAllLocations       bool
	sandboxRoot            string
	contentCompareMaxBytes int64
	limiter                *rate.Limiter

	logger zerolog.Logger

	mu      sync.Mutex
	history []CaseResult
}

// Config configures one Tester.
type Config struct {
	TestCount              int
	TestAllLocations       bool
	SandboxRoot            string
	ContentCompareMaxBytes int64
	// MaxRetrievalsPerSecond paces how fast the Tester pulls blobs off
	// each location, so a weekly sweep never saturates a location's
	// I/O budget. Zero disables pacing.
	MaxRetrievalsPerSecond float64
}

// New builds a Tester. sourceRoot is the directory the original
// backups were taken from, used as the byte-comparison reference.
func New(backups BackupSource, locations LocationStore, crypto ports.Crypto, archiveKey []byte, sourceRoot string, cfg Config) *Tester {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MaxRetrievalsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRetrievalsPerSecond), 1)
	}
	return &Tester{
		backups:                backups,
		locations:              locations,
		crypto:                 crypto,
		archiveKey:             archiveKey,
		codec:                  codec.New(crypto, 0),
		sourceRoot:             sourceRoot,
		testAllLocations:       cfg.TestAllLocations,
		sandboxRoot:            cfg.SandboxRoot,
		contentCompareMaxBytes: cfg.ContentCompareMaxBytes,
		limiter:                limiter,
		logger:                 log.WithComponent("integrity-tester"),
	}
}

// Run selects the K most recent BackupRecords and runs a TestCase
// against every eligible location for each.
func (t *Tester) Run(ctx context.Context, k int) []CaseResult {
	records := t.backups.Recent(k)
	locationIDs := t.locations.Locations()
	if !t.testAllLocations && len(locationIDs) > 0 {
		locationIDs = locationIDs[:1]
	}

	var results []CaseResult
	for _, record := range records {
		for _, locationID := range locationIDs {
			if err := t.limiter.Wait(ctx); err != nil {
				return results
			}
			result := t.runCase(ctx, record, locationID)
			results = append(results, result)

			outcome := "passed"
			if result.Status == CaseFailed {
				outcome = "failed"
			}
			metrics.IntegrityTestsTotal.WithLabelValues(outcome).Inc()
		}
	}

	t.mu.Lock()
	t.history = append(t.history, results...)
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.mu.Unlock()

	return results
}

// History returns every retained CaseResult, oldest first.
func (t *Tester) History() []CaseResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CaseResult(nil), t.history...)
}

func (t *Tester) runCase(ctx context.Context, record types.BackupRecord, locationID string) CaseResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IntegrityTestDuration)

	fail := func(kind errs.Kind, detail string) CaseResult {
		return CaseResult{BackupID: record.ID, LocationID: locationID, Status: CaseFailed, Kind: kind, Detail: detail, RanAt: time.Now()}
	}

	if err := codec.ValidateRecordMetadata(record); err != nil {
		f, _ := errs.As(err)
		return fail(f.Kind, err.Error())
	}

	blob, err := t.locations.RetrieveFrom(ctx, locationID, record.ID, record.Hash, t.crypto)
	if err != nil {
		kind := errs.KindOf(err)
		return fail(kind, err.Error())
	}

	sandboxDir := filepath.Join(t.sandboxRoot, "test-"+uuid.NewString())
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return fail(errs.KindUnexpected, "creating sandbox: "+err.Error())
	}
	defer os.RemoveAll(sandboxDir)

	if err := t.codec.Decode(blob, t.archiveKey, record.Hash, sandboxDir); err != nil {
		kind := errs.KindOf(err)
		return fail(kind, err.Error())
	}

	for _, relPath := range record.SourceFiles {
		original := filepath.Join(t.sourceRoot, relPath)
		restored := filepath.Join(sandboxDir, relPath)

		origInfo, err := os.Stat(original)
		if err != nil {
			return fail(errs.KindMetadataInvalid, fmt.Sprintf("original file %s missing: %v", relPath, err))
		}
		restoredInfo, err := os.Stat(restored)
		if err != nil {
			return fail(errs.KindMetadataInvalid, fmt.Sprintf("restored file %s missing: %v", relPath, err))
		}
		if origInfo.Size() != restoredInfo.Size() {
			return fail(errs.KindChecksumMismatch, fmt.Sprintf("%s size mismatch: original %d, restored %d", relPath, origInfo.Size(), restoredInfo.Size()))
		}
		if origInfo.Size() <= t.contentCompareMaxBytes {
			origData, err := os.ReadFile(original)
			if err != nil {
				return fail(errs.KindUnexpected, "reading original: "+err.Error())
			}
			restoredData, err := os.ReadFile(restored)
			if err != nil {
				return fail(errs.KindUnexpected, "reading restored: "+err.Error())
			}
			if string(origData) != string(restoredData) {
				return fail(errs.KindChecksumMismatch, fmt.Sprintf("%s content mismatch", relPath))
			}
		}
	}

	return CaseResult{BackupID: record.ID, LocationID: locationID, Status: CasePassed, RanAt: time.Now()}
}
