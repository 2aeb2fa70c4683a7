// Package facade implements the Orchestrator Facade: the single
// composition root that owns one instance of every other component and
// exposes the public operation surface the CLI drives. It serializes
// the three mutating operation families (deploy, rollback, dr-test)
// behind one lock and re-emits every component's events onto a single
// bus.
package facade
