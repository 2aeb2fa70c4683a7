// Package config loads and validates fleetctl's configuration: a closed
// set of option structs, one per component, with no dynamic maps. Every
// field named in the external interface is represented; unknown keys
// fail the load instead of being silently ignored.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/schedule"
	"gopkg.in/yaml.v3"
)

// RetentionPolicy governs what happens to archived Versions that age out.
type RetentionPolicy string

const (
	RetentionArchiveThenDelete RetentionPolicy = "archive-then-delete"
	RetentionNeverDelete       RetentionPolicy = "never-delete"
)

// VersionStoreConfig configures the Version Store.
type VersionStoreConfig struct {
	MaxVersions     int             `yaml:"maxVersions"`
	RetentionPolicy RetentionPolicy `yaml:"retentionPolicy"`
}

func (c VersionStoreConfig) Validate() error {
	if c.MaxVersions < 1 {
		return errs.New(errs.KindInvalidArgument, "versionStore.maxVersions must be >= 1")
	}
	switch c.RetentionPolicy {
	case RetentionArchiveThenDelete, RetentionNeverDelete:
	default:
		return errs.New(errs.KindInvalidArgument, "versionStore.retentionPolicy must be archive-then-delete or never-delete")
	}
	return nil
}

// RollbackConfig configures the Rollback Executor.
type RollbackConfig struct {
	OverallDeadlineSec    int  `yaml:"overallDeadlineSec"`
	GracefulShutdownSec   int  `yaml:"gracefulShutdownSec"`
	PerStepTimeoutSec     int  `yaml:"perStepTimeoutSec"`
	ParallelGroupsEnabled bool `yaml:"parallelGroupsEnabled"`
	AutoValidate          bool `yaml:"autoValidate"`
}

func (c RollbackConfig) Validate() error {
	if c.OverallDeadlineSec <= 0 {
		return errs.New(errs.KindInvalidArgument, "rollback.overallDeadlineSec must be > 0")
	}
	if c.GracefulShutdownSec < 0 {
		return errs.New(errs.KindInvalidArgument, "rollback.gracefulShutdownSec must be >= 0")
	}
	if c.PerStepTimeoutSec <= 0 {
		return errs.New(errs.KindInvalidArgument, "rollback.perStepTimeoutSec must be > 0")
	}
	return nil
}

// BackupConfig configures the Backup Codec and its scheduling.
type BackupConfig struct {
	SourceRoots      []string `yaml:"sourceRoots"`
	IncludeGlobs     []string `yaml:"includeGlobs"`
	ExcludeGlobs     []string `yaml:"excludeGlobs"`
	RetentionDays    int      `yaml:"retentionDays"`
	DailyFireTime    string   `yaml:"dailyFireTime"`
	CompressionLevel int      `yaml:"compressionLevel"`
	AEADKeyHex       string   `yaml:"aeadKey"`
}

func (c BackupConfig) Validate() error {
	if len(c.SourceRoots) == 0 {
		return errs.New(errs.KindInvalidArgument, "backup.sourceRoots must be non-empty")
	}
	if c.RetentionDays < 0 {
		return errs.New(errs.KindInvalidArgument, "backup.retentionDays must be >= 0")
	}
	if _, err := schedule.ParseClockTime(c.DailyFireTime); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "backup.dailyFireTime must be HH:MM", err)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return errs.New(errs.KindInvalidArgument, "backup.compressionLevel must be 0-9")
	}
	if len(c.AEADKeyHex) != 64 {
		return errs.New(errs.KindInvalidArgument, "backup.aeadKey must be 32-byte hex (64 chars)")
	}
	return nil
}

// StorageLocationConfig configures one replication target.
type StorageLocationConfig struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"`
	Priority int               `yaml:"priority"`
	Enabled  bool              `yaml:"enabled"`
	Config   map[string]string `yaml:"config"`
}

// StorageConfig configures the Storage Manager.
type StorageConfig struct {
	Locations []StorageLocationConfig `yaml:"locations"`
	MinCopies int                     `yaml:"minCopies"`
	MaxCopies int                     `yaml:"maxCopies"`
}

func (c StorageConfig) Validate() error {
	if len(c.Locations) == 0 {
		return errs.New(errs.KindInvalidArgument, "storage.locations must be non-empty")
	}
	if c.MinCopies < 1 {
		return errs.New(errs.KindInvalidArgument, "storage.minCopies must be >= 1")
	}
	if c.MaxCopies < c.MinCopies {
		return errs.New(errs.KindInvalidArgument, "storage.maxCopies must be >= minCopies")
	}
	for _, loc := range c.Locations {
		if loc.ID == "" {
			return errs.New(errs.KindInvalidArgument, "storage.locations[].id must be set")
		}
		if loc.Kind != "local" && loc.Kind != "object-store" {
			return errs.New(errs.KindInvalidArgument, "storage.locations[].kind must be local or object-store")
		}
	}
	return nil
}

// IntegrityConfig configures the Integrity Tester.
type IntegrityConfig struct {
	WeeklyFireDay          string `yaml:"weeklyFireDay"`
	WeeklyFireTime         string `yaml:"weeklyFireTime"`
	TestCount              int    `yaml:"testCount"`
	TestAllLocations       bool   `yaml:"testAllLocations"`
	SandboxRoot            string `yaml:"sandboxRoot"`
	ContentCompareMaxBytes int64  `yaml:"contentCompareMaxBytes"`
}

func (c IntegrityConfig) Validate() error {
	if _, err := schedule.ParseWeekday(c.WeeklyFireDay); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "integrity.weeklyFireDay invalid", err)
	}
	if _, err := schedule.ParseClockTime(c.WeeklyFireTime); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "integrity.weeklyFireTime must be HH:MM", err)
	}
	if c.TestCount < 1 {
		return errs.New(errs.KindInvalidArgument, "integrity.testCount must be >= 1")
	}
	if c.SandboxRoot == "" {
		return errs.New(errs.KindInvalidArgument, "integrity.sandboxRoot must be set")
	}
	return nil
}

// DRTestConfig configures the DR Test Harness's scheduled run.
type DRTestConfig struct {
	MonthlyFireDay    int      `yaml:"monthlyFireDay"`
	MonthlyFireTime   string   `yaml:"monthlyFireTime"`
	Scenarios         []string `yaml:"scenarios"`
	ReportFormats     []string `yaml:"reportFormats"`
	PreserveOnFailure bool     `yaml:"preserveOnFailure"`
}

func (c DRTestConfig) Validate() error {
	if c.MonthlyFireDay < 1 || c.MonthlyFireDay > 28 {
		return errs.New(errs.KindInvalidArgument, "drTest.monthlyFireDay must be 1-28")
	}
	if _, err := schedule.ParseClockTime(c.MonthlyFireTime); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "drTest.monthlyFireTime must be HH:MM", err)
	}
	for _, format := range c.ReportFormats {
		switch format {
		case "json", "html", "csv":
		default:
			return errs.New(errs.KindInvalidArgument, fmt.Sprintf("drTest.reportFormats: unsupported format %q", format))
		}
	}
	return nil
}

// ProcessConfig maps the services the Process Supervisor manages to
// their launch command, and names the local directories the
// filesystem Restorer copies between during a rollback.
type ProcessConfig struct {
	Services     map[string][]string `yaml:"services"`
	SnapshotRoot string              `yaml:"snapshotRoot"`
	InstallRoot  string              `yaml:"installRoot"`
}

func (c ProcessConfig) Validate() error {
	if len(c.Services) == 0 {
		return errs.New(errs.KindInvalidArgument, "process.services must be non-empty")
	}
	for name, argv := range c.Services {
		if len(argv) == 0 {
			return errs.New(errs.KindInvalidArgument, "process.services["+name+"] must have a non-empty command")
		}
	}
	if c.SnapshotRoot == "" {
		return errs.New(errs.KindInvalidArgument, "process.snapshotRoot must be set")
	}
	if c.InstallRoot == "" {
		return errs.New(errs.KindInvalidArgument, "process.installRoot must be set")
	}
	return nil
}

// Config is the full, closed configuration surface.
type Config struct {
	VersionStore VersionStoreConfig `yaml:"versionStore"`
	Rollback     RollbackConfig     `yaml:"rollback"`
	Backup       BackupConfig       `yaml:"backup"`
	Storage      StorageConfig      `yaml:"storage"`
	Integrity    IntegrityConfig    `yaml:"integrity"`
	DRTest       DRTestConfig       `yaml:"drTest"`
	Process      ProcessConfig      `yaml:"process"`
}

// Validate checks every sub-section.
func (c Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.VersionStore, c.Rollback, c.Backup, c.Storage, c.Integrity, c.DRTest, c.Process,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates configuration from a YAML file. Unknown
// fields are a load-time error rather than being silently dropped.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "reading config file", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "parsing config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
