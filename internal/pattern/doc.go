// Package pattern binds declarative descriptors to subgraphs of a
// resource graph and tracks whether each binding is available.
//
// A Descriptor is an explicit table of fields. The binder interprets it
// against a root: fields resolve in declaration order, nested
// descriptors resolve relative to their field, missing required fields
// are materialized as pinned virtual nodes, and every location on the
// way is watched. An Instance re-runs the binder on every compound event
// that touches its watched set and reports each availability transition
// exactly once through its Listener, after the graph's read lock has
// been released.
package pattern
