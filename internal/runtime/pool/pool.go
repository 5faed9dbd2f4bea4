// Package pool provides the bounded thread pool that executes isolate
// work items. The pool is sized independently of isolate count; callers
// submit work and it eventually runs on some pool thread.
package pool

import (
	"fmt"

	"github.com/loam-lang/loam/internal/runtime/platform"
)

// Task is one unit of pool work.
type Task func()

// DefaultWorkerCount sizes pools whose config passes zero workers.
const DefaultWorkerCount = 4

// ThreadPool runs submitted tasks on a bounded set of platform threads.
// Workers are spawned lazily up to the bound and parked on the pool
// monitor while idle.
type ThreadPool struct {
	mon platform.Monitor

	maxWorkers int
	spawned    int
	idle       int
	queue      []Task
	shutdown   bool
	threads    []*platform.Thread
}

// New creates a pool bounded to maxWorkers threads.
func New(maxWorkers int) *ThreadPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkerCount
	}
	return &ThreadPool{maxWorkers: maxWorkers}
}

// Submit queues t for execution and reports whether it was accepted.
// Submission fails only after Shutdown.
func (p *ThreadPool) Submit(t Task) bool {
	if t == nil {
		return false
	}
	p.mon.Enter()
	if p.shutdown {
		p.mon.Exit()
		return false
	}
	p.queue = append(p.queue, t)
	if p.idle > 0 {
		p.mon.Notify()
	} else if p.spawned < p.maxWorkers {
		p.spawned++
		name := fmt.Sprintf("pool-worker-%d", p.spawned)
		p.threads = append(p.threads, platform.Start(name, p.workerEntry, nil))
	}
	p.mon.Exit()
	return true
}

// Shutdown drains queued tasks, then joins every worker. Subsequent
// Submit calls are rejected.
func (p *ThreadPool) Shutdown() {
	p.mon.Enter()
	if p.shutdown {
		p.mon.Exit()
		return
	}
	p.shutdown = true
	p.mon.NotifyAll()
	threads := p.threads
	p.mon.Exit()

	for _, th := range threads {
		th.Join()
	}
}

func (p *ThreadPool) workerEntry(any) {
	p.mon.Enter()
	for {
		for len(p.queue) == 0 && !p.shutdown {
			p.idle++
			p.mon.Wait()
			p.idle--
		}
		if len(p.queue) == 0 && p.shutdown {
			break
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mon.Exit()
		t()
		p.mon.Enter()
	}
	p.mon.Exit()
}
