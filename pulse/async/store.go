package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/jobpulse/errors"
)

// Store persists import jobs in the import_jobs table
type Store struct {
	db *sql.DB
}

// NewStore creates a new import job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *ImportJob) error {
	sources, err := marshalSources(job.Sources)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (
			id, seq, priority, concurrency, batch_size, sources,
			trigger_type, triggered_by, state, attempt, max_attempts,
			last_backoff_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Seq, job.Priority, job.Concurrency, job.BatchSize, sources,
		job.TriggerType, job.TriggeredBy, job.State, job.Attempt, job.MaxAttempts,
		job.LastBackoffMS, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	return nil
}

// UpdateJob writes the mutable fields of job
func (s *Store) UpdateJob(ctx context.Context, job *ImportJob) error {
	errMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}

	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET state = ?,
		    attempt = ?,
		    error = ?,
		    not_before = ?,
		    last_backoff_ms = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		job.State, job.Attempt, errMsg, timeArg(job.NotBefore), job.LastBackoffMS,
		timeArg(job.StartedAt), timeArg(job.CompletedAt), job.UpdatedAt.UTC(),
		job.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return errors.WithDetail(err, fmt.Sprintf("State: %s", job.State))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*ImportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM import_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs, newest first. A nil state lists every state.
func (s *Store) ListJobs(ctx context.Context, state *JobState, limit int) ([]*ImportJob, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM import_jobs`
	var args []any
	if state != nil {
		query += ` WHERE state = ?`
		args = append(args, *state)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// ListPending returns pending jobs in dequeue order
func (s *Store) ListPending(ctx context.Context) ([]*ImportJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobSelectColumns+` FROM import_jobs WHERE state = ? ORDER BY priority DESC, seq ASC`,
		JobStatePending)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*ImportJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MaxSeq returns the highest submission sequence stored, or 0
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM import_jobs`).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "failed to read max seq")
	}
	return seq.Int64, nil
}

// CountByState returns the number of jobs in each state
func (s *Store) CountByState(ctx context.Context) (map[JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM import_jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobState]int)
	for rows.Next() {
		var state JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// DeleteFinishedBefore removes terminal jobs completed before cutoff
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM import_jobs
		WHERE state IN (?, ?, ?) AND completed_at < ?`,
		JobStateCompleted, JobStateFailed, JobStateCancelled, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete finished jobs")
	}
	return res.RowsAffected()
}
