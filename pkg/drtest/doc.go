// Package drtest implements the DR Test Harness: each scenario injects
// a simulated failure, drives recovery through the Rollback Planner and
// Executor against a pre-declared recovery Version, evaluates its
// ValidationSteps against a live probe, and scores the result. Runs are
// serialized: at most one TestExecution is in flight at a time.
package drtest
