package tier

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// Executor runs async tier operations on a bounded goroutine pool.
// After Close, Go refuses new work so callers can complete the callback
// inline with a failure result instead.
type Executor struct {
	mu     sync.RWMutex
	closed bool
	p      *pool.Pool
}

// NewExecutor returns an executor running at most workers tasks at once.
// workers <= 0 picks 2*GOMAXPROCS.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = 2 * runtime.GOMAXPROCS(0)
	}
	return &Executor{p: pool.New().WithMaxGoroutines(workers)}
}

// Go schedules fn and reports false if the executor is closed.
// It may block while the pool is saturated.
func (e *Executor) Go(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.p.Go(fn)
	return true
}

// Close stops accepting work and waits for scheduled tasks to finish.
// It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.p.Wait()
}
