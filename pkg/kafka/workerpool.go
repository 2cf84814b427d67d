package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type Job func(ctx context.Context) error

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	workers  int
	jobs     chan Job
	queueLen atomic.Int64
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	log      *logrus.Entry
}

func NewPool(ctx context.Context, workers int, queueSize int, logger *logrus.Entry) *Pool {
	if workers < 1 {
		workers = 1
	}
	pCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		ctx:     pCtx,
		cancel:  cancel,
		log:     logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.run(job); err != nil {
			p.log.WithField("worker", id).WithError(err).Error("job failed")
		}
		p.queueLen.Add(-1)
	}
}

// run executes job, turning a panic into an error so the worker survives it.
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(p.ctx)
}

// Submit blocks while the queue is full. It must not be called after Shutdown.
func (p *Pool) Submit(job Job) {
	p.queueLen.Add(1)
	p.jobs <- job
}

func (p *Pool) QueueLen() int {
	return int(p.queueLen.Load())
}

func (p *Pool) Capacity() int {
	return cap(p.jobs)
}

// Shutdown lets queued jobs finish, then cancels the context handed to jobs.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
}
