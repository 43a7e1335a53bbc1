package translate

import (
	"context"
	"sync"
	"sync/atomic"

	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

// Pool is a fixed set of workers draining a bounded job queue. Submit blocks
// while the queue is full, so a burst of broadcasts is throttled instead of
// spawning a goroutine per recipient.
type Pool struct {
	jobs chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	busy atomic.Int64
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{jobs: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.busy.Add(1)
		safe.Run("translate-job", job)
		p.busy.Add(-1)
	}
}

// Submit enqueues fn, waiting for room until ctx is done.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.ErrPoolClosed.Wrap()
	}
	select {
	case p.jobs <- fn:
		return nil
	default:
	}
	select {
	case p.jobs <- fn:
		return nil
	case <-ctx.Done():
		return errs.ErrPoolSaturated.WrapMsg(ctx.Err().Error(), "queued", len(p.jobs))
	}
}

// Queued is the number of jobs waiting for a worker.
func (p *Pool) Queued() int { return len(p.jobs) }

// Busy is the number of workers currently running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
