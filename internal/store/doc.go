// Package store provides SQLite-backed durable storage for the real nodes
// of a resource graph.
//
// Store implements graph.Persistence: every committed mutation arrives as
// one write set and is applied in a single transaction, so a failed write
// leaves both the database and the graph unchanged.
//
// # Layout
//
// One row per real node, keyed by location path. Values are stored as
// canonical JSON. Rows are always read in path order so restores are
// deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
