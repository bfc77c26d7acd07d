// Package security provides permission oracles for the resource graph.
//
// The graph only enforces decisions; this package makes them. AllowAll
// permits everything. PolicyOracle evaluates a YAML rule file with glob
// path patterns and reloads it when the file changes. CachingOracle
// memoizes the decisions of any oracle for a bounded time.
package security
