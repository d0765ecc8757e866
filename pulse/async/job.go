// Package async is the import queue engine: a persisted, priority-ordered job
// queue drained by a fixed-size worker pool with bounded retries.
package async

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/errors"
)

// JobState is the lifecycle state of an ImportJob
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateInProgress JobState = "in-progress"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// IsValidState returns true if s names a JobState
func IsValidState(s string) bool {
	switch JobState(s) {
	case JobStatePending, JobStateInProgress, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// allowed transitions; anything else is an invariant violation
var transitions = map[JobState][]JobState{
	JobStatePending:    {JobStateInProgress, JobStateCancelled},
	JobStateInProgress: {JobStateCompleted, JobStateFailed, JobStateCancelled, JobStatePending},
}

// ImportJob is one requested import run. The queue owns it until it reaches a
// terminal state.
type ImportJob struct {
	ID            string      `json:"id"`
	Seq           int64       `json:"seq"`
	Priority      int         `json:"priority"`
	Concurrency   int         `json:"concurrency"`
	BatchSize     int         `json:"batchSize"`
	Sources       []string    `json:"sources,omitempty"` // empty means every enabled source
	TriggerType   TriggerType `json:"triggerType"`
	TriggeredBy   string      `json:"triggeredBy"`
	State         JobState    `json:"state"`
	Attempt       int         `json:"attempt"` // executions started so far
	MaxAttempts   int         `json:"maxAttempts"`
	Error         string      `json:"error,omitempty"`
	NotBefore     *time.Time  `json:"notBefore,omitempty"`
	LastBackoffMS int64       `json:"lastBackoffMs"`
	CreatedAt     time.Time   `json:"createdAt"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`

	cancelRequested bool
	heapIndex       int
}

func newImportJob(opts TriggerOptions, seq int64, maxAttempts int, now time.Time) *ImportJob {
	return &ImportJob{
		ID:          uuid.NewString(),
		Seq:         seq,
		Priority:    opts.Priority,
		Concurrency: opts.Concurrency,
		BatchSize:   opts.BatchSize,
		Sources:     append([]string(nil), opts.Sources...),
		TriggerType: opts.TriggerType,
		TriggeredBy: opts.TriggeredBy,
		State:       JobStatePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		heapIndex:   -1,
	}
}

// transition moves the job to next, or returns an assertion failure if the
// lifecycle does not allow it.
func (j *ImportJob) transition(next JobState, now time.Time) error {
	for _, ok := range transitions[j.State] {
		if ok == next {
			j.State = next
			j.UpdatedAt = now
			switch {
			case next == JobStateInProgress:
				j.StartedAt = &now
				j.NotBefore = nil
			case next.Terminal():
				j.CompletedAt = &now
			}
			return nil
		}
	}
	err := errors.AssertionFailedf("illegal job transition %s -> %s", j.State, next)
	return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
}

// Eligible reports whether a pending job may be dequeued at now
func (j *ImportJob) Eligible(now time.Time) bool {
	return j.State == JobStatePending && (j.NotBefore == nil || !j.NotBefore.After(now))
}

// clone returns a copy safe to hand outside the queue lock
func (j *ImportJob) clone() *ImportJob {
	c := *j
	c.Sources = append([]string(nil), j.Sources...)
	if j.NotBefore != nil {
		t := *j.NotBefore
		c.NotBefore = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
