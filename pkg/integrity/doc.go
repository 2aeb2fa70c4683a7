// Package integrity implements the Integrity Tester: on each weekly
// fire it selects the K most-recent BackupRecords and, for each
// eligible StorageLocation, runs a TestCase that validates metadata,
// verifies the stored hash, decodes into an isolated sandbox, and
// byte-compares small files against what was originally backed up.
package integrity
