// Package health implements an HTTP health checker and a Registry
// that adapts it to ports.Probe by service name.
package health
