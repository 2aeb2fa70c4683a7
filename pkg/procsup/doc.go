// Package procsup implements ports.Supervisor against real host
// processes via os/exec. It is the one port contract none of the
// example repos in the retrieval pack implement for real (they ship
// fakes for tests, or manage containers rather than bare processes),
// so this package is built directly on the standard library rather
// than grounded on a third-party process-supervision library.
package procsup
