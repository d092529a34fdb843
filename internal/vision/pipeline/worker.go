package pipeline

import (
	"context"
	"errors"
	"sync"
)

// defaultBacklog is the queue capacity when the caller does not size it.
const defaultBacklog = 32

// Job is one queued video-processing request.
type Job struct {
	VideoID string
	Path    string
}

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
// API handlers surface it as backpressure.
var ErrQueueFull = errors.New("pipeline: job queue is full")

// ErrPoolStopped is returned by Enqueue after Stop.
var ErrPoolStopped = errors.New("pipeline: worker pool is stopped")

// Pool fans queued jobs out to a fixed set of workers sharing one
// Processor. Uploads enqueue and return immediately; outcomes land on
// the video rows.
type Pool struct {
	proc    *Processor
	jobs    chan Job
	workers int

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPool sizes the pool. Non-positive workers or backlog select the
// defaults (one worker, defaultBacklog queue slots).
func NewPool(proc *Processor, workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = defaultBacklog
	}
	return &Pool{
		proc:    proc,
		jobs:    make(chan Job, backlog),
		workers: workers,
	}
}

// Start launches the workers. Canceling ctx aborts in-flight jobs at
// their next frame boundary; queued jobs that never ran stay Pending.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	diagf("worker pool: %d workers, backlog %d", p.workers, cap(p.jobs))
}

// Enqueue adds a job without blocking.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		diagf("queued job %s (%d waiting)", job.VideoID, len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes intake and waits for the workers to finish. With a live
// Start context the backlog drains first; with a canceled one the
// workers exit as soon as their current job stops.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	diagf("worker pool: stopped")
}

// Backlog reports how many jobs are waiting to run.
func (p *Pool) Backlog() int {
	return len(p.jobs)
}

// Workers reports the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if _, err := p.proc.Process(ctx, job.VideoID, job.Path); err != nil {
				opsf("worker %d: job %s: %v", id, job.VideoID, err)
			}
		}
	}
}
