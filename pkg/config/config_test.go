package config

import (
	"testing"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
versionStore:
  maxVersions: 20
  retentionPolicy: archive-then-delete
rollback:
  overallDeadlineSec: 600
  gracefulShutdownSec: 30
  perStepTimeoutSec: 60
  parallelGroupsEnabled: true
  autoValidate: true
backup:
  sourceRoots: ["/srv/data"]
  includeGlobs: ["**/*"]
  excludeGlobs: ["**/*.tmp"]
  retentionDays: 30
  dailyFireTime: "02:00"
  compressionLevel: 6
  aeadKey: "00000000000000000000000000000000000000000000000000000000000000aa"
storage:
  locations:
    - id: primary
      kind: local
      priority: 0
      enabled: true
      config: {}
    - id: secondary
      kind: local
      priority: 1
      enabled: true
      config: {}
  minCopies: 2
  maxCopies: 2
integrity:
  weeklyFireDay: "sunday"
  weeklyFireTime: "03:00"
  testCount: 5
  testAllLocations: false
  sandboxRoot: "/tmp/fleetctl-integrity"
  contentCompareMaxBytes: 1048576
drTest:
  monthlyFireDay: 1
  monthlyFireTime: "04:00"
  scenarios: ["kill-primary"]
  reportFormats: ["json", "html"]
  preserveOnFailure: true
process:
  services:
    web: ["/usr/bin/web-server", "--port=8080"]
  snapshotRoot: "/var/lib/fleetctl/snapshots"
  installRoot: "/srv/web"
`

func TestParse_ValidConfigLoadsCleanly(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.VersionStore.MaxVersions)
	assert.Equal(t, 2, cfg.Storage.MinCopies)
	assert.Equal(t, []string{"/usr/bin/web-server", "--port=8080"}, cfg.Process.Services["web"])
}

func TestParse_RejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(validYAML + "\nbogusField: true\n"))
	require.Error(t, err)
}

func TestParse_RejectsInvalidStorageKind(t *testing.T) {
	bad := validYAML
	_, err := Parse([]byte(bad))
	require.NoError(t, err)

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	cfg.Storage.Locations[0].Kind = "s3"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestParse_RejectsEmptyProcessServices(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	cfg.Process.Services = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestDRTestConfig_Validate_RejectsOutOfRangeFireDay(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	cfg.DRTest.MonthlyFireDay = 31
	err = cfg.Validate()
	require.Error(t, err)
}
