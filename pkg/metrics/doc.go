// Package metrics defines fleetctl's Prometheus metrics (version,
// rollback, backup, integrity, and DR test counters/histograms) and a
// small health-status registry exposed over /health, /ready, and
// /live, in the style of a standard Prometheus + liveness-probe setup.
package metrics
