package worker

import (
	"context"
	"sync"

	"github.com/martinsuchenak/podd/internal/log"
)

// Pool fans out jobs across a fixed number of workers. The server uses it
// to run commands against many targets without opening unbounded sessions.
type Pool struct {
	maxWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// Job is a unit of work submitted to the pool.
type Job struct {
	ID      string
	Handler func(context.Context) error
	Result  chan error
}

// NewPool creates a pool with the given worker count.
func NewPool(maxWorkers int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		maxWorkers: maxWorkers,
		jobs:       make(chan Job, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info("Worker pool started", "workers", p.maxWorkers)
}

// Stop drains the pool and waits for in-flight jobs.
func (p *Pool) Stop() {
	close(p.jobs)
	p.cancel()
	p.wg.Wait()
}

// Submit queues a job. It returns an error once the pool is shutting down.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			log.Debug("Worker executing job", "worker_id", id, "job_id", job.ID)

			err := job.Handler(p.ctx)
			if job.Result != nil {
				job.Result <- err
			}
		}
	}
}
