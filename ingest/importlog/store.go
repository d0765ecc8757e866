package importlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/jobpulse/errors"
)

// Store persists entries in the import_logs table
type Store struct {
	db *sql.DB
}

// NewStore creates a new import log store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, import_id, source, source_url, status, start_time, end_time,
	duration_ms, total_fetched, total_imported, new_jobs, updated_jobs, failed_jobs,
	success_rate, error_count, warning_count, trigger_type, triggered_by,
	errors, warnings, metadata`

// Create inserts a new, not yet finalized entry
func (s *Store) Create(ctx context.Context, e *Entry) error {
	if e.Status.Finalized() {
		return errors.AssertionFailedf("create of finalized import log %s", e.ID)
	}
	errs, warns, meta, err := marshalEntryJSON(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_logs (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ImportID, e.Source, nullString(e.SourceURL), e.Status, e.StartTime.UTC(), timeArg(e.EndTime),
		e.Duration, e.TotalFetched, e.TotalImported, e.NewJobs, e.UpdatedJobs, e.FailedJobs,
		e.SuccessRate, e.ErrorCount, e.WarningCount, e.TriggerType, e.TriggeredBy,
		errs, warns, meta,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create import log")
		return errors.WithDetail(err, fmt.Sprintf("Import ID: %s", e.ImportID))
	}
	return nil
}

// Finalize writes the final state of e. An entry is finalized exactly once;
// a second call returns ErrConflict.
func (s *Store) Finalize(ctx context.Context, e *Entry) error {
	if !e.Status.Finalized() {
		return errors.AssertionFailedf("finalize of import log %s with status %s", e.ID, e.Status)
	}
	errs, warns, meta, err := marshalEntryJSON(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE import_logs
		SET status = ?, end_time = ?, duration_ms = ?,
		    total_fetched = ?, total_imported = ?, new_jobs = ?, updated_jobs = ?, failed_jobs = ?,
		    success_rate = ?, error_count = ?, warning_count = ?,
		    errors = ?, warnings = ?, metadata = ?
		WHERE id = ? AND status IN (?, ?)`,
		e.Status, timeArg(e.EndTime), e.Duration,
		e.TotalFetched, e.TotalImported, e.NewJobs, e.UpdatedJobs, e.FailedJobs,
		e.SuccessRate, e.ErrorCount, e.WarningCount,
		errs, warns, meta,
		e.ID, StatusPending, StatusInProgress,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to finalize import log")
		return errors.WithDetail(err, fmt.Sprintf("Import ID: %s", e.ImportID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.Get(ctx, e.ID); getErr != nil {
			return getErr
		}
		return errors.Wrapf(errors.ErrConflict, "import log %s is already finalized", e.ID)
	}
	return nil
}

// Get returns one entry by ID
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM import_logs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "import log %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get import log")
	}
	return e, nil
}

// ListByImport returns every entry written for one import job, oldest first
func (s *Store) ListByImport(ctx context.Context, importID string) ([]*Entry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM import_logs WHERE import_id = ? ORDER BY start_time ASC`, importID)
}

// List returns one page of entries matching q
func (s *Store) List(ctx context.Context, q ListQuery) (*Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	where, args := q.where()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_logs`+where, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "failed to count import logs")
	}

	query := fmt.Sprintf(`SELECT %s FROM import_logs%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		entryColumns, where, sortColumns[q.SortBy], strings.ToUpper(q.SortOrder), strings.ToUpper(q.SortOrder))
	logs, err := s.queryEntries(ctx, query, append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*Entry{}
	}

	return &Page{Logs: logs, Pagination: NewPagination(q.Page, q.Limit, total)}, nil
}

// where builds the filter clause. source matches an entry whose
// comma-joined source list contains it.
func (q ListQuery) where() (string, []any) {
	var conds []string
	var args []any
	if q.Source != "" {
		conds = append(conds, `(source = ? OR ',' || source || ',' LIKE ? ESCAPE '\')`)
		args = append(args, q.Source, "%,"+likeEscaper.Replace(q.Source)+",%")
	}
	if q.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, q.Status)
	}
	if q.StartDate != nil {
		conds = append(conds, `start_time >= ?`)
		args = append(args, q.StartDate.UTC())
	}
	if q.EndDate != nil {
		conds = append(conds, `start_time <= ?`)
		args = append(args, q.EndDate.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// likeEscaper makes user input match literally inside a LIKE ... ESCAPE '\' pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteFinishedBefore removes finalized entries that started before cutoff
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM import_logs
		WHERE status IN (?, ?, ?) AND start_time < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old import logs")
	}
	return res.RowsAffected()
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list import logs")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan import log")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var sourceURL sql.NullString
	var endTime sql.NullTime
	var successRate float64
	var errs, warns, meta string

	err := row.Scan(&e.ID, &e.ImportID, &e.Source, &sourceURL, &e.Status, &e.StartTime, &endTime,
		&e.Duration, &e.TotalFetched, &e.TotalImported, &e.NewJobs, &e.UpdatedJobs, &e.FailedJobs,
		&successRate, &e.ErrorCount, &e.WarningCount, &e.TriggerType, &e.TriggeredBy,
		&errs, &warns, &meta)
	if err != nil {
		return nil, err
	}

	e.SourceURL = sourceURL.String
	e.StartTime = e.StartTime.UTC()
	if endTime.Valid {
		t := endTime.Time.UTC()
		e.EndTime = &t
	}
	e.SuccessRate = int(successRate)
	if err := json.Unmarshal([]byte(errs), &e.Errors); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal errors of import log %s", e.ID)
	}
	if err := json.Unmarshal([]byte(warns), &e.Warnings); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal warnings of import log %s", e.ID)
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal metadata of import log %s", e.ID)
	}
	if e.Errors == nil {
		e.Errors = []Message{}
	}
	if e.Warnings == nil {
		e.Warnings = []Message{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return &e, nil
}

func marshalEntryJSON(e *Entry) (errs, warns, meta string, err error) {
	b, err := json.Marshal(nonNilMessages(e.Errors))
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal import log errors")
	}
	errs = string(b)

	b, err = json.Marshal(nonNilMessages(e.Warnings))
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal import log warnings")
	}
	warns = string(b)

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err = json.Marshal(metadata)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal import log metadata")
	}
	return errs, warns, string(b), nil
}

func nonNilMessages(m []Message) []Message {
	if m == nil {
		return []Message{}
	}
	return m
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
