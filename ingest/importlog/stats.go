package importlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/jobpulse/errors"
)

// StatsQuery bounds the aggregation window. A nil Since covers all history.
type StatsQuery struct {
	Since *time.Time
}

// Stats folds finalized entries. In-progress runs are never counted.
type Stats struct {
	TotalImports  int            `json:"totalImports"`
	TotalFetched  int            `json:"totalFetched"`
	TotalImported int            `json:"totalImported"`
	TotalNew      int            `json:"totalNew"`
	TotalUpdated  int            `json:"totalUpdated"`
	TotalFailed   int            `json:"totalFailed"`
	SuccessRate   int            `json:"successRate"`
	AvgDuration   int64          `json:"avgDuration"` // milliseconds
	LastImportAt  *time.Time     `json:"lastImportAt,omitempty"`
	ByStatus      map[Status]int `json:"byStatus"`
	Since         *time.Time     `json:"since,omitempty"`
}

// Stats aggregates finalized entries in a single statement, so it reads one
// consistent snapshot even while runs finalize concurrently.
func (s *Store) Stats(ctx context.Context, q StatsQuery) (*Stats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(total_fetched), 0),
		       COALESCE(SUM(total_imported), 0),
		       COALESCE(SUM(new_jobs), 0),
		       COALESCE(SUM(updated_jobs), 0),
		       COALESCE(SUM(failed_jobs), 0),
		       COALESCE(AVG(duration_ms), 0),
		       MAX(end_time),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM import_logs
		WHERE status IN (?, ?, ?)`
	args := []any{
		StatusCompleted, StatusFailed, StatusCancelled,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
	if q.Since != nil {
		query += ` AND start_time >= ?`
		args = append(args, q.Since.UTC())
	}

	var st Stats
	var avg float64
	var last sql.NullString
	var completed, failed, cancelled int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.TotalImports, &st.TotalFetched, &st.TotalImported, &st.TotalNew,
		&st.TotalUpdated, &st.TotalFailed, &avg, &last,
		&completed, &failed, &cancelled,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate import logs")
	}

	st.SuccessRate = SuccessRate(st.TotalImported, st.TotalFetched)
	st.AvgDuration = int64(avg + 0.5)
	st.ByStatus = map[Status]int{
		StatusCompleted: completed,
		StatusFailed:    failed,
		StatusCancelled: cancelled,
	}
	st.Since = q.Since
	if last.Valid {
		t, err := parseSQLiteTime(last.String)
		if err != nil {
			return nil, err
		}
		st.LastImportAt = &t
	}
	return &st, nil
}

// parseSQLiteTime reads a timestamp that lost its column type in an
// aggregate, using the layouts the driver writes and reads.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized timestamp %q", s)
}
