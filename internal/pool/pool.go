// Package pool bounds capture concurrency to a fixed set of workers and
// funnels every result into exactly one of two completion channels.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/camkeep/camkeep/internal/job"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// Task is one capture invocation bound to its job identifier.
type Task struct {
	JobID string
	Run   func(ctx context.Context) error
}

// Config sizes the pool.
type Config struct {
	Workers          int // concurrent workers; defaults to 5
	MaxJobsPerWorker int // jobs before a worker is recycled; defaults to 100
	QueueSize        int // pending task backlog; defaults to 256
}

func (cfg *Config) sanitize() {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.MaxJobsPerWorker <= 0 {
		cfg.MaxJobsPerWorker = 100
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
}

// Pool runs submitted tasks on a bounded set of workers. Each worker
// processes one task to completion before taking another, and retires after
// MaxJobsPerWorker tasks; a replacement worker takes its place so resource
// leaks from a misbehaving subprocess or runtime stay bounded.
type Pool struct {
	cfg       Config
	logger    *slog.Logger
	tasks     chan Task
	done      chan string
	failed    chan *job.Error
	wg        sync.WaitGroup
	closeOnce sync.Once
	workerSeq atomic.Int64
}

func New(cfg Config, logger *slog.Logger) *Pool {
	cfg.sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan Task, cfg.QueueSize),
		done:   make(chan string, cfg.Workers),
		failed: make(chan *job.Error, cfg.Workers),
	}
}

// Start launches the workers. The context bounds every task execution:
// cancelling it is the process-wide shutdown path that terminates and reaps
// outstanding capture subprocesses.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.workerSeq.Add(1))
	}
	go func() {
		p.wg.Wait()
		close(p.done)
		close(p.failed)
	}()
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(t Task) error {
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake. Workers drain the backlog and exit; the completion
// channels close once the last worker is gone.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
}

// Wait blocks until every worker has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Done delivers identifiers of successfully completed jobs.
func (p *Pool) Done() <-chan string { return p.done }

// Failed delivers wrapped failures.
func (p *Pool) Failed() <-chan *job.Error { return p.failed }

func (p *Pool) worker(ctx context.Context, id int64) {
	defer p.wg.Done()

	executed := 0
	for {
		if executed >= p.cfg.MaxJobsPerWorker {
			p.logger.Debug("recycling worker", "worker", id, "executed", executed)
			p.wg.Add(1)
			go p.worker(ctx, p.workerSeq.Add(1))
			return
		}
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, t)
			executed++
		}
	}
}

// execute runs one task and delivers its result to exactly one completion
// channel. During shutdown an undeliverable result is dropped rather than
// wedging the worker.
func (p *Pool) execute(ctx context.Context, t Task) {
	err := p.runTask(ctx, t)
	if err == nil {
		select {
		case p.done <- t.JobID:
		case <-ctx.Done():
		}
		return
	}

	var jobErr *job.Error
	if !errors.As(err, &jobErr) {
		jobErr = &job.Error{JobID: t.JobID, Err: err}
	}
	select {
	case p.failed <- jobErr:
	case <-ctx.Done():
		p.logger.Error("dropping failure during shutdown", "job_id", t.JobID, "err", jobErr)
	}
}

// runTask contains a panicking task so one job can never take down the pool.
func (p *Pool) runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.Run(ctx)
}
