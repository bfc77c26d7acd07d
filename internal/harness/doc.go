// Package harness runs conformance scenarios against a resource graph.
//
// A scenario drives a fresh in-memory graph, pattern manager and timer
// scheduler through a list of steps. Every step, every event a scenario
// listener receives, every pattern transition and every timer fire is
// appended to a trace. Assertions then check the trace and the final
// graph state, and the trace can be compared against a golden file.
//
// Runs are deterministic: deliveries use an inline executor and time is
// a manual clock that only moves on advance and jump steps.
//
// # Scenario Format
//
//	name: required_child
//	description: "Pattern becomes available once its child is real"
//	start: "2024-01-01T00:00:00Z"
//	types:
//	  - tag: thermostat
//	  - tag: sensor
//	steps:
//	  - op: pattern
//	    name: thermo
//	    path: /t
//	    pattern:
//	      type: thermostat
//	      fields:
//	        - { name: temp, path: temp, type: sensor, required: true }
//	  - op: create
//	    path: /t
//	    type: thermostat
//	  - op: create
//	    path: /t/temp
//	    type: sensor
//	assertions:
//	  - type: pattern
//	    name: thermo
//	    available: true
//	  - type: trace_order
//	    entries:
//	      - "step create /t/temp sensor"
//	      - "pattern available thermo /t"
//
// # Step Operations
//
//   - create, delete, activate, deactivate, reference, unreference, set:
//     graph mutations on path (reference and move targets use target)
//   - listen, unlisten: record events of a structure, value or type
//     registration under a name
//   - pattern, demand, destroy: register, demand and withdraw patterns
//   - timer, stop_timer, resume_timer, retime, destroy_timer: timers
//   - advance, jump: move the manual clock and dispatch due timers
//
// A step with error set must fail with that error code.
//
// # Assertion Types
//
//   - node: state (real, virtual or absent), node_type, active, value, pinned
//   - pattern: available and the number of callbacks received
//   - timer: fires, skipped and running
//   - trace_contains, trace_order, trace_count: trace entries
package harness
