// Package worker runs restore pipelines as explicit background tasks.
// The pool replaces fire-and-forget goroutines: every submission returns
// a handle, panics are contained and logged instead of taking the
// process down, and shutdown drains in-flight work.
package worker

import (
	"fmt"
	"runtime/debug"
	"sync"

	"dbvault/internal/logger"
)

// queueDepth bounds how many accepted tasks may wait for a worker.
// Submissions beyond it block the caller, which in practice means the
// API slows down instead of piling up unbounded restores.
const queueDepth = 64

// Handle tracks one submitted task
type Handle struct {
	name string
	done chan struct{}
}

// Done is closed when the task has finished, however it ended
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task has finished
func (h *Handle) Wait() {
	<-h.done
}

type task struct {
	name   string
	fn     func()
	handle *Handle
}

// Pool is a fixed-size background executor
type Pool struct {
	log   logger.Logger
	tasks chan task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts size workers. Size below one is raised to one.
func NewPool(size int, log logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		log:   log,
		tasks: make(chan task, queueDepth),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.runTask(t)
	}
}

// runTask executes one task, converting a panic into a logged failure.
// The handle closes on every exit path so waiters never hang.
func (p *Pool) runTask(t task) {
	defer close(t.handle.done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked",
				"task", t.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	t.fn()
}

// Submit queues fn for execution and returns its handle. Submitting to
// a closed pool returns an error instead of panicking on the channel.
func (p *Pool) Submit(name string, fn func()) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("worker pool is shut down, rejecting task %q", name)
	}
	h := &Handle{name: name, done: make(chan struct{})}
	p.tasks <- task{name: name, fn: fn, handle: h}
	p.mu.Unlock()
	return h, nil
}

// Close stops accepting tasks and waits for in-flight work to drain
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
