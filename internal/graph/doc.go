// Package graph implements the resource graph store: a typed hierarchy
// of real and virtual nodes with reference edges, the listener
// registries that observe it, and the access claims that arbitrate
// writes.
//
// All state lives in a Graph created by Open; there are no package-level
// registries. Operations are issued through a Session bound to an owner,
// and every operation is authorized by the graph's Oracle.
//
// Mutations are transactional. Each commit records an undo log, writes
// its change set through the optional Persistence and publishes its
// events only when that write succeeds. Events are delivered as compound
// batches per (listener, owner) through an event.Dispatcher whose
// deliveries hold the graph's gate in shared mode.
package graph
