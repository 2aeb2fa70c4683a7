// Package backup composes the Backup Codec, Storage Manager, and
// Backup Catalog into the two operations the rest of the control plane
// actually calls: Run (enumerate source files, encode, replicate,
// catalog) and Restore (retrieve, decode into place). Scheduling lives
// in pkg/scheduler and the retention sweep in pkg/storagemgr's Cleanup;
// this package is the job body.
package backup
