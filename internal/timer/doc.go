// Package timer schedules periodic callbacks against a framework clock.
//
// A Scheduler keeps its timers in a min-heap ordered by next run time and
// dispatches them from a single loop (Run). Listener execution is handed
// to an executor; a timer whose previous invocation is still running
// skips the fire instead of queueing it, so a slow listener never builds
// up a backlog.
package timer
