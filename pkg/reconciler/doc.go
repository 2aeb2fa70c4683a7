// Package reconciler runs a periodic background sweep over the active
// Version's services: it cross-checks Supervisor process state against
// a health Probe and republishes the result into pkg/metrics' health
// registry so getSystemStatus always has a fresh view without blocking
// on a live probe round-trip.
package reconciler
