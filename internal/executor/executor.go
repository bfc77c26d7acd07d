// Package executor provides the task executors that run listener
// callbacks off the thread that produced them.
//
// Graph deliveries, pattern transition callbacks and timer fires are all
// submitted to an Executor. Ordering guarantees are provided by the
// callers (one in-flight task per subscriber or timer), so executors are
// free to run tasks concurrently.
package executor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Executor runs submitted tasks.
//
// Submit must not block on the task itself. It returns false if the
// executor no longer accepts work.
type Executor interface {
	Submit(task func()) bool
}

// Synchronous is implemented by executors that run a task before
// Submit returns. Callers that hold a lock across a task use it to
// avoid re-entering that lock from a nested Submit.
type Synchronous interface {
	Synchronous() bool
}

// Inline runs every task synchronously on the submitting goroutine.
// Used by tests and the scenario harness for deterministic traces.
//
// A task submitted from inside another inline task runs nested in it.
// The event dispatcher defers such nested deliveries until the outer
// delivery has released its read lock; see event.Dispatcher.
type Inline struct{}

// Submit runs the task immediately.
func (Inline) Submit(task func()) bool {
	runSafely(task)
	return true
}

// Synchronous reports true.
func (Inline) Synchronous() bool { return true }

// Goroutine runs every task on a fresh goroutine.
type Goroutine struct{}

// Submit starts the task on a new goroutine.
func (Goroutine) Submit(task func()) bool {
	go runSafely(task)
	return true
}

// runSafely runs a task and recovers panics so one failing callback
// cannot take down a worker or the submitting loop.
func runSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
