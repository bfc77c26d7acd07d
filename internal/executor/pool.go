package executor

import (
	"log/slog"
	"sync"
)

// DefaultWorkers is the worker count used when NewPool gets n <= 0.
const DefaultWorkers = 4

// Pool is a fixed set of worker goroutines draining an unbounded queue.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine, never blocks
//   - Close(): stops intake, lets workers drain queued tasks, then waits
type Pool struct {
	queue   *taskQueue
	wg      sync.WaitGroup
	workers int
}

// NewPool starts n workers.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultWorkers
	}
	p := &Pool{
		queue:   newTaskQueue(),
		workers: n,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	slog.Debug("executor pool started", "workers", n)
	return p
}

// Submit queues a task. Returns false after Close.
func (p *Pool) Submit(task func()) bool {
	return p.queue.Enqueue(task)
}

// Pending returns the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	return p.queue.Len()
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.queue.Close()
	p.wg.Wait()
	slog.Debug("executor pool stopped", "workers", p.workers)
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		if task, ok := p.queue.TryDequeue(); ok {
			runSafely(task)
			continue
		}

		_, open := <-p.queue.Wait()
		if !open {
			// Closed: drain whatever is left, then exit.
			for {
				task, ok := p.queue.TryDequeue()
				if !ok {
					return
				}
				runSafely(task)
			}
		}
	}
}
