// Package schedule submits periodic import jobs to the queue and prunes
// old job and log history.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/sym"
)

// TriggeredBy identifies jobs submitted by the scheduler
const TriggeredBy = "scheduler"

// DefaultInterval is used when Config.Interval is unset
const DefaultInterval = time.Hour

// Cleaner deletes finished history older than a cutoff
type Cleaner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config contains configuration for the scheduler
type Config struct {
	Interval    time.Duration // time between periodic submissions
	Priority    int           // priority of periodic jobs
	Concurrency int           // per-job source fan-out, 0 = queue default
	BatchSize   int           // upsert batch size, 0 = queue default
	Retention   time.Duration // finished history older than this is deleted; 0 keeps all
}

// Status is a snapshot of scheduler state
type Status struct {
	Active          bool       `json:"active"`
	TaskCount       int64      `json:"taskCount"` // periodic jobs submitted since process start
	ImportInterval  string     `json:"importInterval"`
	IntervalSeconds int64      `json:"intervalSeconds"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	SkippedTicks    int64      `json:"skippedTicks"`
}

// Scheduler submits one cron job per interval. A tick is skipped while a
// previous scheduled job is still pending or running.
type Scheduler struct {
	queue    *async.Queue
	cleaners []Cleaner
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu        sync.Mutex
	cfg       Config
	active    bool
	cancel    context.CancelFunc
	reset     chan struct{}
	wg        sync.WaitGroup
	taskCount int64
	skipped   int64
	lastRunAt *time.Time
	nextRunAt *time.Time
}

// NewScheduler creates a stopped scheduler. cleaners are pruned on every tick
// when cfg.Retention is set.
func NewScheduler(queue *async.Queue, cfg Config, log *zap.SugaredLogger, cleaners ...Cleaner) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		queue:    queue,
		cleaners: cleaners,
		cfg:      cfg,
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
		reset:    make(chan struct{}, 1),
	}
}

// Start begins periodic submissions. The first job is submitted one
// interval after Start.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return errors.Wrap(errors.ErrConflict, "scheduler is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.active = true
	next := time.Now().UTC().Add(s.cfg.Interval)
	s.nextRunAt = &next

	s.wg.Add(1)
	go s.run(ctx, s.cfg.Interval)
	s.pulseLog.Infow(sym.PulseOpen+" Scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Stop halts periodic submissions. Jobs already queued are unaffected.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrConflict, "scheduler is not running")
	}
	s.active = false
	s.nextRunAt = nil
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.pulseLog.Infow(sym.PulseClose + " Scheduler stopped")
	return nil
}

// SetInterval changes the interval; a running scheduler restarts its timer
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.cfg.Interval {
		return
	}
	s.cfg.Interval = d
	if s.active {
		next := time.Now().UTC().Add(d)
		s.nextRunAt = &next
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
	s.pulseLog.Infow("Scheduler interval changed", "interval", d)
}

// Trigger submits a job outside the timer, for manual and API requests
func (s *Scheduler) Trigger(ctx context.Context, opts async.TriggerOptions) (*async.Ticket, error) {
	if opts.TriggerType == "" {
		opts.TriggerType = async.TriggerManual
	}
	ticket, err := s.queue.Submit(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Import triggered",
		logger.FieldJobID, ticket.ID(),
		logger.FieldTrigger, opts.TriggerType,
		"triggered_by", opts.TriggeredBy)
	return ticket, nil
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:          s.active,
		TaskCount:       s.taskCount,
		ImportInterval:  s.cfg.Interval.String(),
		IntervalSeconds: int64(s.cfg.Interval / time.Second),
		LastRunAt:       copyTime(s.lastRunAt),
		NextRunAt:       copyTime(s.nextRunAt),
		SkippedTicks:    s.skipped,
	}
}

// IsActive reports whether the scheduler is running
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			s.mu.Lock()
			interval = s.cfg.Interval
			s.mu.Unlock()
			ticker.Reset(interval)
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// tick prunes history and submits the periodic job
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	cfg := s.cfg
	next := now.Add(cfg.Interval)
	s.nextRunAt = &next
	s.mu.Unlock()

	s.prune(ctx, now, cfg.Retention)

	if s.queue.HasActive(async.TriggerCron, TriggeredBy) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.pulseLog.Debugw("Scheduled import still active, skipping tick")
		return
	}

	ticket, err := s.queue.Submit(ctx, async.TriggerOptions{
		Priority:    cfg.Priority,
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		TriggerType: async.TriggerCron,
		TriggeredBy: TriggeredBy,
	})
	if err != nil {
		// Don't spam logs - a rejected tick is retried next interval
		s.pulseLog.Warnw("Scheduled import not submitted", logger.FieldError, err)
		return
	}

	s.mu.Lock()
	s.taskCount++
	s.lastRunAt = &now
	s.mu.Unlock()
	s.pulseLog.Infow(sym.Pulse+" Scheduled import submitted",
		logger.FieldJobID, ticket.ID(),
		"next_run_at", next.Format(time.RFC3339))
}

func (s *Scheduler) prune(ctx context.Context, now time.Time, retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	for _, c := range s.cleaners {
		n, err := c.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			s.pulseLog.Warnw("History cleanup failed", logger.FieldError, err)
			continue
		}
		if n > 0 {
			s.pulseLog.Infow("Pruned finished history", logger.FieldCount, n, "cutoff", cutoff.Format(time.RFC3339))
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
