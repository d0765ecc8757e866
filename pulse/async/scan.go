package async

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/jobpulse/errors"
)

// jobScanArgs holds the nullable columns of an import_jobs row during Scan
type jobScanArgs struct {
	Sources     sql.NullString
	ErrorMsg    sql.NullString
	NotBefore   sql.NullTime
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// jobSelectColumns is the column list matched by jobScanTargets
const jobSelectColumns = `id, seq, priority, concurrency, batch_size, sources,
	trigger_type, triggered_by, state, attempt, max_attempts, error,
	not_before, last_backoff_ms, created_at, started_at, completed_at, updated_at`

func jobScanTargets(job *ImportJob, args *jobScanArgs) []any {
	return []any{
		&job.ID,
		&job.Seq,
		&job.Priority,
		&job.Concurrency,
		&job.BatchSize,
		&args.Sources,
		&job.TriggerType,
		&job.TriggeredBy,
		&job.State,
		&job.Attempt,
		&job.MaxAttempts,
		&args.ErrorMsg,
		&args.NotBefore,
		&job.LastBackoffMS,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

func (args *jobScanArgs) apply(job *ImportJob) error {
	job.heapIndex = -1
	if args.Sources.Valid && args.Sources.String != "" {
		if err := json.Unmarshal([]byte(args.Sources.String), &job.Sources); err != nil {
			return errors.Wrapf(err, "failed to unmarshal sources for job %s", job.ID)
		}
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	job.NotBefore = nullTimePtr(args.NotBefore)
	job.StartedAt = nullTimePtr(args.StartedAt)
	job.CompletedAt = nullTimePtr(args.CompletedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ImportJob, error) {
	var job ImportJob
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	if err := args.apply(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func marshalSources(sources []string) (sql.NullString, error) {
	if len(sources) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to marshal sources")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
