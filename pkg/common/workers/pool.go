// Package workers provides a bounded, semaphore-based concurrency limiter
// for the connection-serving goroutines spawned by pkg/listener.
//
// Each accepted connection still gets its own goroutine (spec.md's
// one-worker-per-connection model), but the number running at once is
// capped so a burst of connections can't exhaust file descriptors or
// goroutine stacks. Excess Submit calls block until a slot frees, which is
// the backpressure mechanism for the accept loop.
package workers

import "context"

// Pool bounds the number of concurrently running jobs.
type Pool struct {
	sem chan struct{}
}

// New creates a Pool that allows at most size jobs to run at once. size <= 0
// is treated as 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit blocks until a slot is available, then runs job in a new goroutine.
// It returns before job completes; callers that need to know when job
// finished should synchronize inside job itself. If ctx is canceled before a
// slot frees, Submit returns ctx.Err() without running job.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-p.sem }()
		job()
	}()
	return nil
}

// InUse reports the number of slots currently occupied. Intended for
// diagnostics and the admin surface, not for synchronization.
func (p *Pool) InUse() int {
	return len(p.sem)
}

// Capacity returns the pool's configured size.
func (p *Pool) Capacity() int {
	return cap(p.sem)
}
