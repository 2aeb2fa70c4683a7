// Package rollback builds and executes RollbackPlans: the Planner turns
// a Version's raw Instructions into a dependency DAG and schedules it
// into parallel groups, and the Executor dispatches each group through
// the Supervisor and Probe ports under a hard overall deadline.
package rollback
