/*
Package types defines the data structures shared across fleetctl's control
plane: Versions, ServiceRecords, RollbackPlans and their Instructions,
BackupRecords, StorageLocations, and DR TestExecutions.

# Core types

Deployment history:
  - Version: immutable snapshot of a deployment (services, metadata,
    dependencies, rollback plan); Status is its only mutable field.
  - ServiceRecord: one service's fingerprint within a Version.
  - RollbackPlan / Instruction: the ordered, dependency-respecting steps
    that restore one Version.

Backup and storage:
  - BackupRecord: metadata for one encoded backup blob.
  - StorageLocation: one replication target, ranked by Priority.

Disaster recovery:
  - Scenario / ExpectedOutcome / ValidationStep: what a DR test injects
    and how it is judged.
  - TestExecution / TestResult / ValidationResult / Issue: the run and
    its recorded outcome.

All types are plain structs marshaled with encoding/json; there is no
protocol-buffer layer. Enums are typed strings so persisted JSON stays
readable on disk.
*/
package types
