package async

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

const (
	// DefaultMaxPending caps the pending set when QueueConfig leaves it unset
	DefaultMaxPending = 1000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// QueueConfig tunes admission and retry
type QueueConfig struct {
	MaxPending         int
	MaxAttempts        int
	Backoff            Backoff
	DefaultConcurrency int
	DefaultBatchSize   int
}

// QueueStats is a point-in-time count of jobs by state
type QueueStats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Cancelled int  `json:"cancelled"`
	Delayed   int  `json:"delayed"`
	Total     int  `json:"total"`
	Paused    bool `json:"paused"`
}

// Queue is the import job queue. Pending jobs live in an in-memory heap
// backed by the import_jobs table.
type Queue struct {
	store  *Store
	cfg    QueueConfig
	logger *zap.SugaredLogger
	now    func() time.Time

	mu       sync.Mutex
	pending  pendingHeap
	live     map[string]*ImportJob // pending and in-progress
	cancels  map[string]context.CancelFunc
	tickets  map[string]*Ticket
	finished map[JobState]int
	seq      int64
	loaded   bool
	paused   bool
	closed   bool

	subMu       sync.RWMutex
	subscribers []chan *ImportJob

	wake chan struct{}
}

// NewQueue creates a queue over db
func NewQueue(db *sql.DB, cfg QueueConfig, logger *zap.SugaredLogger) *Queue {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Queue{
		store:    NewStore(db),
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		live:     make(map[string]*ImportJob),
		cancels:  make(map[string]context.CancelFunc),
		tickets:  make(map[string]*Ticket),
		finished: make(map[JobState]int),
		wake:     make(chan struct{}, 1),
	}
}

// Store exposes the persistence layer for maintenance tasks
func (q *Queue) Store() *Store {
	return q.store
}

// Recover requeues jobs left in-progress by a previous process and loads all
// pending jobs into the heap. Safe to call more than once.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return 0, err
	}

	inProgress := JobStateInProgress
	stuck, err := q.store.ListJobs(ctx, &inProgress, 0)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list in-progress jobs")
	}

	recovered := 0
	now := q.now()
	for _, job := range stuck {
		if _, running := q.cancels[job.ID]; running {
			continue
		}
		if err := job.transition(JobStatePending, now); err != nil {
			return recovered, err
		}
		job.Error = ""
		if err := q.store.UpdateJob(ctx, job); err != nil {
			return recovered, errors.Wrapf(err, "failed to requeue job %s", job.ID)
		}
		q.live[job.ID] = job
		heap.Push(&q.pending, job)
		recovered++
	}

	if q.pending.Len() > 0 {
		q.signal()
	}
	return recovered, nil
}

// loadLocked seeds sequence, counters and the pending heap from the store once
func (q *Queue) loadLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}

	seq, err := q.store.MaxSeq(ctx)
	if err != nil {
		return err
	}
	if seq > q.seq {
		q.seq = seq
	}

	counts, err := q.store.CountByState(ctx)
	if err != nil {
		return err
	}
	for _, state := range []JobState{JobStateCompleted, JobStateFailed, JobStateCancelled} {
		q.finished[state] += counts[state]
	}

	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, job := range pending {
		if _, ok := q.live[job.ID]; ok {
			continue
		}
		q.live[job.ID] = job
		heap.Push(&q.pending, job)
	}

	q.loaded = true
	return nil
}

// Submit validates opts, persists a pending job and returns its ticket
func (q *Queue) Submit(ctx context.Context, opts TriggerOptions) (*Ticket, error) {
	opts = opts.WithDefaults(q.cfg.DefaultConcurrency, q.cfg.DefaultBatchSize)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, &errors.RejectedError{Reason: "queue is shut down"}
	}
	if err := q.loadLocked(ctx); err != nil {
		return nil, err
	}
	if q.pending.Len() >= q.cfg.MaxPending {
		return nil, &errors.RejectedError{Reason: fmt.Sprintf("pending queue is full (%d jobs)", q.cfg.MaxPending)}
	}

	q.seq++
	job := newImportJob(opts, q.seq, q.cfg.MaxAttempts, q.now())
	if err := q.store.CreateJob(ctx, job); err != nil {
		q.seq--
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Trigger: %s", job.TriggerType))
		return nil, errors.WithDetail(err, fmt.Sprintf("Priority: %d", job.Priority))
	}

	q.live[job.ID] = job
	heap.Push(&q.pending, job)
	ticket := newTicket(job.ID)
	q.tickets[job.ID] = ticket

	q.notifySubscribers(job.clone())
	q.signal()
	return ticket, nil
}

// dequeue takes the best eligible job and marks it in-progress. The returned
// context is cancelled by Cancel or when parent ends.
func (q *Queue) dequeue(parent context.Context) (*ImportJob, context.Context, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return nil, nil, nil
	}
	now := q.now()
	job := q.pending.popEligible(now)
	if job == nil {
		return nil, nil, nil
	}

	if err := job.transition(JobStateInProgress, now); err != nil {
		return nil, nil, err
	}
	job.Attempt++
	if err := q.store.UpdateJob(parent, job); err != nil {
		job.Attempt--
		job.State = JobStatePending
		heap.Push(&q.pending, job)
		return nil, nil, err
	}

	jobCtx, cancel := context.WithCancel(parent)
	q.cancels[job.ID] = cancel
	q.notifySubscribers(job.clone())
	return job.clone(), jobCtx, nil
}

// finish applies the outcome of one execution and returns the job's new snapshot
func (q *Queue) finish(ctx context.Context, id string, execErr error, interrupted bool) (*ImportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cancel, ok := q.cancels[id]; ok {
		cancel()
		delete(q.cancels, id)
	}
	job, ok := q.live[id]
	if !ok {
		return nil, errors.AssertionFailedf("finished job %s is not live", id)
	}

	now := q.now()
	var err error
	switch {
	case execErr == nil:
		job.Error = ""
		err = job.transition(JobStateCompleted, now)
	case job.cancelRequested:
		job.Error = "cancelled by request"
		err = job.transition(JobStateCancelled, now)
	case interrupted:
		// worker pool shut down mid-run; the attempt does not count
		job.Attempt--
		job.Error = ""
		err = job.transition(JobStatePending, now)
	case job.Attempt < job.MaxAttempts && Retryable(execErr):
		delay := q.cfg.Backoff.Delay(job.Attempt)
		notBefore := now.Add(delay)
		job.Error = execErr.Error()
		err = job.transition(JobStatePending, now)
		job.NotBefore = &notBefore
		job.LastBackoffMS = delay.Milliseconds()
	default:
		job.Error = execErr.Error()
		err = job.transition(JobStateFailed, now)
	}
	if err != nil {
		return nil, err
	}

	// the job must be recorded even if the worker's context is gone
	if storeErr := q.store.UpdateJob(context.WithoutCancel(ctx), job); storeErr != nil {
		q.logger.Errorw("Failed to persist job outcome", logger.FieldJobID, id, logger.FieldState, job.State, logger.FieldError, storeErr)
	}

	if job.State == JobStatePending {
		heap.Push(&q.pending, job)
		q.signal()
	} else {
		q.retireLocked(job)
	}

	snapshot := job.clone()
	q.notifySubscribers(snapshot)
	return snapshot, nil
}

// retireLocked drops a terminal job from the live set and resolves its ticket
func (q *Queue) retireLocked(job *ImportJob) {
	delete(q.live, job.ID)
	q.finished[job.State]++
	if t, ok := q.tickets[job.ID]; ok {
		t.resolve(job.clone())
		delete(q.tickets, job.ID)
	}
}

// Cancel cancels a job. A pending job becomes cancelled immediately; a
// running job has its context cancelled and is finalized by its worker.
func (q *Queue) Cancel(ctx context.Context, id string) (*ImportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.live[id]
	if !ok {
		stored, err := q.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored.State.Terminal() {
			err := errors.Wrapf(errors.ErrConflict, "job %s already %s", id, stored.State)
			return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		}
		// persisted but not loaded yet (queue not recovered)
		if err := q.loadLocked(ctx); err != nil {
			return nil, err
		}
		if job, ok = q.live[id]; !ok {
			return nil, errors.Newf("job %s is %s but not owned by this queue", id, stored.State)
		}
	}

	switch job.State {
	case JobStatePending:
		q.pending.remove(job)
		job.Error = "cancelled by request"
		if err := job.transition(JobStateCancelled, q.now()); err != nil {
			return nil, err
		}
		if err := q.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		q.retireLocked(job)
	case JobStateInProgress:
		job.cancelRequested = true
		if cancel, ok := q.cancels[id]; ok {
			cancel()
		}
	}

	snapshot := job.clone()
	q.notifySubscribers(snapshot)
	return snapshot, nil
}

// Get returns a job by ID
func (q *Queue) Get(ctx context.Context, id string) (*ImportJob, error) {
	q.mu.Lock()
	job, ok := q.live[id]
	if ok {
		snapshot := job.clone()
		q.mu.Unlock()
		return snapshot, nil
	}
	q.mu.Unlock()
	return q.store.GetJob(ctx, id)
}

// List returns persisted jobs, newest first. An empty state lists all.
func (q *Queue) List(ctx context.Context, state JobState, limit int) ([]*ImportJob, error) {
	if state == "" {
		return q.store.ListJobs(ctx, nil, limit)
	}
	if !IsValidState(string(state)) {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown job state %q", state)
	}
	return q.store.ListJobs(ctx, &state, limit)
}

// HasActive reports whether any live job has both the trigger type and triggeredBy
func (q *Queue) HasActive(triggerType TriggerType, triggeredBy string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.live {
		if job.TriggerType == triggerType && job.TriggeredBy == triggeredBy {
			return true
		}
	}
	return false
}

// Stats returns counts from the in-memory index without touching the store
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	delayed := q.pending.delayed(q.now())
	s := QueueStats{
		Waiting:   q.pending.Len() - delayed,
		Delayed:   delayed,
		Active:    len(q.live) - q.pending.Len(),
		Completed: q.finished[JobStateCompleted],
		Failed:    q.finished[JobStateFailed],
		Cancelled: q.finished[JobStateCancelled],
		Paused:    q.paused,
	}
	s.Total = s.Waiting + s.Delayed + s.Active + s.Completed + s.Failed + s.Cancelled
	return s
}

// Pause stops workers from taking new jobs. Running jobs continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume lets workers take jobs again
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// IsPaused reports whether dequeuing is paused
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Shutdown rejects all further submissions
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// signal wakes one idle worker without blocking
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives a snapshot on every job change
func (q *Queue) Subscribe() <-chan *ImportJob {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan *ImportJob, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (q *Queue) Unsubscribe(ch <-chan *ImportJob) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// notifySubscribers never blocks; a full subscriber misses the update
func (q *Queue) notifySubscribers(job *ImportJob) {
	q.subMu.RLock()
	defer q.subMu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}
