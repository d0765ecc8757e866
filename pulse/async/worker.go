package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/sym"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}

// JobExecutor runs one attempt of an import job. Returning context.Canceled
// after the job's context is cancelled finalizes the job as cancelled.
type JobExecutor interface {
	Execute(ctx context.Context, job *ImportJob) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *ImportJob) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *ImportJob) error {
	return f(ctx, job)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // global concurrency limit
	PollInterval time.Duration `json:"poll_interval"` // fallback wake-up for backoff-gated jobs
	StopTimeout  time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// WorkerPool drains a Queue with a fixed number of workers
type WorkerPool struct {
	queue      *Queue
	executor   JobExecutor
	poolConfig WorkerPoolConfig
	workers    int
	parentCtx  context.Context
	ctx        context.Context
	cancel     context.CancelCauseFunc
	wg         sync.WaitGroup
	logger     pulseLogger

	mu            sync.Mutex
	running       bool
	activeWorkers int
	jobsProcessed int
	startTime     time.Time
}

// NewWorkerPool creates a worker pool. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, queue *Queue, executor JobExecutor, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = defaults.PollInterval
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = defaults.StopTimeout
	}

	workerCtx, cancel := context.WithCancelCause(ctx)
	return &WorkerPool{
		queue:      queue,
		executor:   executor,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{logger.Named("pulse")},
	}
}

// Start recovers jobs orphaned by a previous process and launches the workers
// ✿ Opening
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return nil
	}
	// Restarting after Stop needs a fresh context
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancelCause(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.running = true
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	ctx := wp.ctx
	wp.mu.Unlock()

	recovered, err := wp.queue.Recover(ctx)
	if err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	} else if recovered > 0 {
		wp.logger.Starting("Opening - requeued jobs left in-progress by previous run", logger.FieldCount, recovered)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, logger.FieldWorkers, wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
	wp.logger.Starting("Worker pool started", logger.FieldWorkers, wp.workers, "poll_interval", wp.poolConfig.PollInterval)
	return nil
}

// Stop cancels running jobs' contexts and waits for workers to exit
// ❀ Closing: in-flight jobs return to pending without spending an attempt
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.cancel(ErrShuttingDown)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Pulse("WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(wp.poolConfig.StopTimeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be finishing", "timeout", wp.poolConfig.StopTimeout)
	}
}

// worker processes jobs until ctx ends
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		processed, err := wp.processNextJob(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil || db.IsDatabaseClosed(err) {
				return
			}
			errorCount++
			wp.logger.Errorw("Worker error processing job",
				logger.FieldWorkerID, id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)
			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					logger.FieldWorkerID, id,
					logger.FieldBackoff, backoffDuration)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
		case processed:
			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					logger.FieldWorkerID, id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second
			// there may be more work; also give another idle worker a chance
			wp.queue.signal()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wp.queue.wake:
		case <-ticker.C:
		}
	}
}

// processNextJob dequeues one job and runs it. processed is false when
// nothing was eligible.
func (wp *WorkerPool) processNextJob(ctx context.Context, workerID int) (processed bool, err error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, jobCtx, err := wp.queue.dequeue(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.jobsProcessed++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldWorkerID, workerID,
		logger.FieldAttempt, job.Attempt,
		logger.FieldPriority, job.Priority,
	)
	log.Infow(sym.Pulse+" Job started", logger.FieldTrigger, job.TriggerType, logger.FieldSources, job.Sources)

	start := time.Now()
	execErr := wp.execute(logger.WithJobID(jobCtx, job.ID), job)
	interrupted := execErr != nil && ctx.Err() != nil

	final, err := wp.queue.finish(ctx, job.ID, execErr, interrupted)
	if err != nil {
		return true, err
	}

	fields := []interface{}{logger.FieldState, final.State, logger.FieldDurationMS, time.Since(start).Milliseconds()}
	switch final.State {
	case JobStateCompleted:
		log.Infow(sym.Pulse+" Job completed", fields...)
	case JobStateCancelled:
		log.Infow(sym.Pulse+" Job cancelled", fields...)
	case JobStatePending:
		if interrupted {
			wp.logger.Closing("Job interrupted by shutdown, requeued", logger.FieldJobID, job.ID)
			break
		}
		ec := ClassifyError(execErr)
		log.Warnw(sym.Pulse+" Retry scheduled", append(fields,
			logger.FieldError, execErr,
			logger.FieldErrorKind, ec.Code,
			logger.FieldBackoff, time.Duration(final.LastBackoffMS)*time.Millisecond,
			logger.FieldMaxAttempts, final.MaxAttempts)...)
	case JobStateFailed:
		ec := ClassifyError(execErr)
		log.Errorw(sym.Pulse+" Job failed", append(fields,
			logger.FieldError, execErr,
			logger.FieldErrorKind, ec.Code,
			logger.FieldMaxAttempts, final.MaxAttempts)...)
	}
	return true, nil
}

// execute runs the executor, turning a panic into a job failure
func (wp *WorkerPool) execute(ctx context.Context, job *ImportJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("executor panic: %v", r)
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			err = errors.WithDetail(err, string(debug.Stack()))
		}
	}()
	return wp.executor.Execute(ctx, job)
}

// Queue returns the job queue
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// IsRunning reports whether Start has been called without a matching Stop
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.running
}
