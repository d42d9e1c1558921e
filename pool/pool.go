// Package pool provides the process-wide execution pool used to inject
// commands into agents.
//
// The pool runs a fixed number of workers fed from one FIFO queue. Submit
// blocks while the queue is full, which gives callers backpressure instead
// of unbounded buffering. A job keeps its worker busy for as long as it
// runs, so the number of jobs in flight never exceeds the worker count.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcmrest/jcmrest/core"
)

// Job is a unit of work. ctx is cancelled when the pool stops.
type Job func(ctx context.Context)

// Config configures the pool.
type Config struct {
	// Workers is the number of concurrent jobs.
	// Default: 4
	Workers int `json:"workers"`

	// QueueSize is how many jobs may wait before Submit blocks.
	// Default: 1024
	QueueSize int `json:"queue_size"`

	// ShutdownTimeout bounds how long Stop waits for running jobs.
	// Default: 30s
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Logger is an optional logger for pool operations
	Logger core.Logger `json:"-"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       1024,
		ShutdownTimeout: 30 * time.Second,
	}
}

// FromCoreConfig maps the pool section of the service configuration.
func FromCoreConfig(cfg core.PoolConfig, logger core.Logger) Config {
	return Config{
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers     int   `json:"workers"`
	InFlight    int64 `json:"in_flight"`
	MaxInFlight int64 `json:"max_in_flight"`
	Queued      int64 `json:"queued"`
	Completed   int64 `json:"completed"`
	Panics      int64 `json:"panics"`
}

type queuedJob struct {
	job      Job
	enqueued time.Time
}

// Pool is a fixed-size FIFO worker pool.
type Pool struct {
	config Config
	logger core.Logger
	queue  chan queuedJob

	mu       sync.Mutex
	group    *errgroup.Group
	cancel   context.CancelFunc
	stopping chan struct{}
	submits  sync.WaitGroup // Submit calls past the running check

	running     atomic.Bool
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	queued      atomic.Int64
	completed   atomic.Int64
	panics      atomic.Int64
}

// New creates a pool. Call Start before submitting jobs.
func New(config Config) *Pool {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize < 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &Pool{
		config:   config,
		logger:   core.WithComponent(config.Logger, "framework/pool"),
		queue:    make(chan queuedJob, config.QueueSize),
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return core.NewFrameworkError("Pool.Start", "pool", core.ErrAlreadyStarted)
	}
	select {
	case <-p.stopping:
		return core.NewFrameworkError("Pool.Start", "pool", core.ErrPoolStopped)
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	p.cancel = cancel
	p.running.Store(true)

	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			p.runWorker(gctx, workerID)
			return nil
		})
	}

	p.logger.Info("Execution pool started", map[string]interface{}{
		"workers":    p.config.Workers,
		"queue_size": p.config.QueueSize,
	})
	return nil
}

// Submit enqueues job in FIFO order. It blocks while the queue is full and
// gives up when ctx ends or the pool stops.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", core.ErrInvalidRequest)
	}
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return core.NewFrameworkError("Pool.Submit", "pool", core.ErrPoolStopped)
	}
	p.submits.Add(1)
	p.mu.Unlock()
	defer p.submits.Done()

	p.queued.Add(1)
	select {
	case p.queue <- queuedJob{job: job, enqueued: time.Now()}:
		return nil
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	case <-p.stopping:
		p.queued.Add(-1)
		return core.NewFrameworkError("Pool.Submit", "pool", core.ErrPoolStopped)
	}
}

// Stop cancels the worker context and waits for running jobs, up to the
// shutdown timeout or ctx. Jobs still queued, including those enqueued by a
// Submit racing Stop, run with a cancelled context so they can release
// whoever waits on them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	close(p.stopping)
	p.cancel()
	g := p.group
	p.mu.Unlock()

	p.logger.Info("Stopping execution pool", map[string]interface{}{
		"in_flight": p.inFlight.Load(),
		"queued":    p.queued.Load(),
	})

	done := make(chan struct{})
	go func() {
		p.submits.Wait()
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return fmt.Errorf("%w: pool shutdown: some jobs are still running", core.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	p.drain()
	p.logger.Info("Execution pool stopped", map[string]interface{}{
		"completed": p.completed.Load(),
	})
	return nil
}

// drain runs leftover jobs with a cancelled context.
func (p *Pool) drain() {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case qj := <-p.queue:
			p.queued.Add(-1)
			p.execute(cancelled, "drain", qj)
		default:
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:     p.config.Workers,
		InFlight:    p.inFlight.Load(),
		MaxInFlight: p.maxInFlight.Load(),
		Queued:      p.queued.Load(),
		Completed:   p.completed.Load(),
		Panics:      p.panics.Load(),
	}
}

// Running reports whether the pool accepts jobs.
func (p *Pool) Running() bool {
	return p.running.Load()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	p.logger.Debug("Worker started", map[string]interface{}{
		"worker_id": workerID,
	})
	defer p.logger.Debug("Worker stopped", map[string]interface{}{
		"worker_id": workerID,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case qj := <-p.queue:
			p.queued.Add(-1)
			p.execute(ctx, workerID, qj)
		}
	}
}

// execute runs one job with panic recovery.
func (p *Pool) execute(ctx context.Context, workerID string, qj queuedJob) {
	n := p.inFlight.Add(1)
	for {
		max := p.maxInFlight.Load()
		if n <= max || p.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Job panicked", map[string]interface{}{
				"worker_id": workerID,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
		}
	}()

	p.logger.Debug("Job started", map[string]interface{}{
		"worker_id":     workerID,
		"queue_wait_ms": time.Since(qj.enqueued).Milliseconds(),
	})
	qj.job(ctx)
}
