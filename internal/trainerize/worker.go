package trainerize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool defaults. One worker matches one browser session; raising Workers
// requires as many logged-in sessions.
const (
	DefaultWorkers    = 1
	DefaultQueueSize  = 64
	DefaultJobTimeout = 3 * time.Minute
)

// Job is one unit of Trainerize work executed by a pool worker.
type Job func(ctx context.Context, client Client) error

// Future resolves when its job has run.
type Future struct {
	done chan struct{}
	err  error
}

// Await blocks until the job finishes or ctx is done.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the job has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

type queuedJob struct {
	job    Job
	future *Future
}

// Pool serializes Trainerize jobs through a fixed set of workers. Callers
// submit work and either await the future or fire and forget.
type Pool struct {
	client     Client
	queue      chan queuedJob
	jobTimeout time.Duration
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// PoolOpts holds configuration options for the worker pool.
type PoolOpts struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// PoolOption defines a configuration option for the worker pool.
type PoolOption func(*PoolOpts)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) PoolOption {
	return func(o *PoolOpts) { o.Workers = n }
}

// WithQueueSize sets the job queue capacity.
func WithQueueSize(n int) PoolOption {
	return func(o *PoolOpts) { o.QueueSize = n }
}

// WithJobTimeout bounds how long one job may run.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(o *PoolOpts) { o.JobTimeout = d }
}

// NewPool creates and starts a worker pool over the given client.
func NewPool(client Client, opts ...PoolOption) *Pool {
	cfg := PoolOpts{
		Workers:    DefaultWorkers,
		QueueSize:  DefaultQueueSize,
		JobTimeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	p := &Pool{
		client:     client,
		queue:      make(chan queuedJob, cfg.QueueSize),
		jobTimeout: cfg.JobTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	slog.Info("Trainerize pool started", "workers", cfg.Workers, "queueSize", cfg.QueueSize)
	return p
}

// Submit enqueues a job and returns its future. Fails fast when the queue
// is full rather than blocking the caller.
func (p *Pool) Submit(job Job) (*Future, error) {
	f := &Future{done: make(chan struct{})}
	select {
	case p.queue <- queuedJob{job: job, future: f}:
		return f, nil
	default:
		return nil, fmt.Errorf("trainerize job queue full")
	}
}

// Stop drains the queue and waits for workers to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
	slog.Info("Trainerize pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for qj := range p.queue {
		p.run(id, qj)
	}
}

func (p *Pool) run(workerID int, qj queuedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	start := time.Now()
	err := qj.job(ctx, p.client)
	if err != nil {
		slog.Error("Trainerize job failed", "worker", workerID, "error", err, "elapsed", time.Since(start))
	} else {
		slog.Debug("Trainerize job completed", "worker", workerID, "elapsed", time.Since(start))
	}

	qj.future.err = err
	close(qj.future.done)
}
