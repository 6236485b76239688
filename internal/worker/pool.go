// Package worker runs export jobs on a bounded go-pkgz/pool worker group.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	MaxWorkers     int           // concurrent export jobs
	WorkerChanSize int           // per-worker channel buffer
	JobTimeout     time.Duration // hard cap per export job
	CloseTimeout   time.Duration // graceful shutdown budget
}

// DefaultPoolConfig returns the production defaults. Exports are long:
// a combined run over many months can take tens of minutes at the
// mandated pacing, so the per-job cap is generous.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:     4,
		WorkerChanSize: 16,
		JobTimeout:     2 * time.Hour,
		CloseTimeout:   30 * time.Second,
	}
}

// task is one queued export job.
type task struct {
	jobID string
	fn    func(ctx context.Context)
}

// Pool executes export jobs with bounded concurrency.
type Pool struct {
	config *PoolConfig

	pool *pool.WorkerGroup[task]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool counters, read atomically.
type PoolMetrics struct {
	JobsProcessed int64
	JobsDropped   int64
	QueueDepth    int32
}

// taskWorker implements pool.Worker for export tasks.
type taskWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *taskWorker) Do(ctx context.Context, t task) error {
	return w.pool.runTask(ctx, t)
}

// NewPool creates a worker pool. Call Start before submitting.
func NewPool(config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start spins up the worker group.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	p.pool = pool.New[task](p.config.MaxWorkers, &taskWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().
		Int("max_workers", p.config.MaxWorkers).
		Int("chan_size", p.config.WorkerChanSize).
		Msg("worker pool started")
	return nil
}

// Stop drains the pool within the close timeout, then cancels any
// stragglers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), p.config.CloseTimeout)
	defer closeCancel()

	if err := p.pool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("dropped", atomic.LoadInt64(&p.metrics.JobsDropped)).
		Msg("worker pool stopped")
}

// Run queues an export job. Returns false when the pool is not running.
// Satisfies the orchestrator's Runner contract.
func (p *Pool) Run(jobID string, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		return false
	}

	p.pool.Submit(task{jobID: jobID, fn: fn})
	atomic.AddInt32(&p.metrics.QueueDepth, 1)
	return true
}

func (p *Pool) runTask(ctx context.Context, t task) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueDepth, -1)

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	p.log.Debug().Str("job_id", t.jobID).Msg("export job picked up")
	t.fn(jobCtx)

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	p.log.Info().
		Str("job_id", t.jobID).
		Dur("elapsed", time.Since(start)).
		Msg("export job finished")
	return nil
}

// Metrics returns a consistent snapshot of the counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsDropped:   atomic.LoadInt64(&p.metrics.JobsDropped),
		QueueDepth:    atomic.LoadInt32(&p.metrics.QueueDepth),
	}
}
