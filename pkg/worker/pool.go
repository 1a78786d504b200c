// Package worker runs the task consumers and the periodic jobs of a drip
// worker process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/drip/pkg/metrics"
	"github.com/dukex/drip/pkg/queue"
	"github.com/robfig/cron/v3"
)

// Task results counted by the pool.
const (
	TaskAcked   = "acked"
	TaskRetried = "retried"
	TaskBuried  = "buried"
	TaskDropped = "dropped"
)

// Processor runs one execution of an enrollment.
type Processor interface {
	Process(ctx context.Context, enrollmentID string) error
}

// Sweeper re-enqueues enrollments whose task was lost.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	ID             string
	Concurrency    int
	ReserveTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	// PromoteSchedule and SweepSchedule are cron specs; empty disables the job.
	PromoteSchedule string
	SweepSchedule   string
}

func DefaultConfig(id string) Config {
	return Config{
		ID:              id,
		Concurrency:     10,
		ReserveTimeout:  5 * time.Second,
		MaxAttempts:     5,
		RetryBackoff:    5 * time.Second,
		MaxBackoff:      10 * time.Minute,
		PromoteSchedule: "@every 1s",
		SweepSchedule:   "@every 1m",
	}
}

// Pool consumes the task queue with Concurrency goroutines.
type Pool struct {
	queue     queue.Queue
	processor Processor
	sweeper   Sweeper
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config
	now       func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. sweeper and m may be nil.
func NewPool(q queue.Queue, processor Processor, sweeper Sweeper, m *metrics.Metrics, logger *slog.Logger, config Config) *Pool {
	defaults := DefaultConfig(config.ID)

	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	if config.ReserveTimeout <= 0 {
		config.ReserveTimeout = defaults.ReserveTimeout
	}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}

	if config.MaxBackoff < config.RetryBackoff {
		config.MaxBackoff = max(defaults.MaxBackoff, config.RetryBackoff)
	}

	return &Pool{
		queue:     q,
		processor: processor,
		sweeper:   sweeper,
		metrics:   m,
		logger:    logger.With("module", "worker_pool", "worker_id", config.ID),
		config:    config,
		now:       time.Now,
	}
}

func (p *Pool) workerName(i int) string {
	return fmt.Sprintf("%s-%d", p.config.ID, i)
}

// Start recovers tasks a previous run of this worker left behind, schedules
// the periodic jobs and starts the consumers. It does not block.
func (p *Pool) Start(ctx context.Context) error {
	for i := range p.config.Concurrency {
		recovered, err := p.queue.Recover(ctx, p.workerName(i))
		if err != nil {
			return fmt.Errorf("failed to recover tasks of %s: %w", p.workerName(i), err)
		}

		if recovered > 0 {
			p.logger.InfoContext(ctx, "Recovered unfinished tasks", "worker", p.workerName(i), "count", recovered)
		}
	}

	ctx, p.cancel = context.WithCancel(ctx)

	err := p.startJobs(ctx)
	if err != nil {
		p.cancel()

		return err
	}

	for i := range p.config.Concurrency {
		p.wg.Add(1)

		go p.consume(ctx, p.workerName(i))
	}

	p.logger.InfoContext(ctx, "Worker pool started", "concurrency", p.config.Concurrency)

	return nil
}

// Stop halts the jobs and waits for in-flight tasks to finish.
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}

	if p.cron != nil {
		<-p.cron.Stop().Done()
	}

	p.wg.Wait()

	p.logger.InfoContext(ctx, "Worker pool stopped")
}

// Run starts the pool and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	err := p.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	p.Stop(context.WithoutCancel(ctx))

	return nil
}

func (p *Pool) consume(ctx context.Context, worker string) {
	defer p.wg.Done()

	logger := p.logger.With("worker", worker)

	for {
		task, err := p.queue.Reserve(ctx, worker, p.config.ReserveTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}

			logger.ErrorContext(ctx, "Failed to reserve task", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}

			continue
		}

		if task == nil {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		p.handle(context.WithoutCancel(ctx), logger, worker, task)
	}
}

// handle runs the task to completion. It ignores pool cancellation so a
// started execution is never abandoned halfway.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, worker string, task *queue.Task) {
	logger = logger.With("task_id", task.ID, "enrollment_id", task.EnrollmentID, "attempt", task.Attempt)

	if task.Type != queue.TypeProcessEnrollment {
		logger.WarnContext(ctx, "Dropping task of unknown type", "type", task.Type)
		p.finish(ctx, logger, worker, task, TaskDropped)

		return
	}

	err := p.processor.Process(ctx, task.EnrollmentID)
	if err == nil {
		p.finish(ctx, logger, worker, task, TaskAcked)

		return
	}

	if task.Attempt+1 >= p.config.MaxAttempts {
		logger.ErrorContext(ctx, "Task failed too many times, burying", "error", err)

		buryErr := p.queue.Bury(ctx, worker, task)
		if buryErr != nil {
			logger.ErrorContext(ctx, "Failed to bury task", "error", buryErr)
		}

		p.metrics.IncTask(TaskBuried)

		return
	}

	at := p.now().Add(p.backoff(task.Attempt))

	logger.WarnContext(ctx, "Task failed, retrying", "error", err, "retry_at", at)

	retryErr := p.queue.Retry(ctx, worker, task, at)
	if retryErr != nil {
		logger.ErrorContext(ctx, "Failed to retry task", "error", retryErr)
	}

	p.metrics.IncTask(TaskRetried)
}

func (p *Pool) finish(ctx context.Context, logger *slog.Logger, worker string, task *queue.Task, result string) {
	err := p.queue.Ack(ctx, worker, task)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to ack task", "error", err)
	}

	p.metrics.IncTask(result)
}

// backoff doubles the base delay for each attempt already made.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.config.RetryBackoff

	for range attempt {
		delay *= 2
		if delay >= p.config.MaxBackoff {
			return p.config.MaxBackoff
		}
	}

	return delay
}
