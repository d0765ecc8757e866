package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
)

// SQLStore keeps records in the job_records table of the jobpulse SQLite database
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open, migrated database
func NewSQLStore(database *sql.DB) *SQLStore {
	return &SQLStore{db: database}
}

const recordColumns = `id, source, dedup_key, external_id, source_url, title, company,
	location, url, description, posted_at, fingerprint, first_seen_at, last_seen_at, updated_at`

// Get implements Store
func (s *SQLStore) Get(ctx context.Context, source, dedupKey string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM job_records WHERE source = ? AND dedup_key = ?`,
		source, dedupKey)

	var rec JobRecord
	var externalID, sourceURL, company, location, url, description sql.NullString
	var postedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Source, &rec.DedupKey, &externalID, &sourceURL, &rec.Title,
		&company, &location, &url, &description, &postedAt, &rec.Fingerprint,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(source, dedupKey)
	}
	if err != nil {
		return nil, s.wrap("get", source+"/"+dedupKey, err)
	}

	rec.ExternalID = externalID.String
	rec.SourceURL = sourceURL.String
	rec.Company = company.String
	rec.Location = location.String
	rec.URL = url.String
	rec.Description = description.String
	if postedAt.Valid {
		rec.PostedAt = postedAt.Time.UTC()
	}
	rec.FirstSeenAt = rec.FirstSeenAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Insert implements Store
func (s *SQLStore) Insert(ctx context.Context, rec *JobRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_records (
			source, dedup_key, external_id, source_url, title, company, location,
			url, description, posted_at, fingerprint, first_seen_at, last_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, dedup_key) DO NOTHING`,
		rec.Source, rec.DedupKey, nullString(rec.ExternalID), nullString(rec.SourceURL), rec.Title,
		nullString(rec.Company), nullString(rec.Location), nullString(rec.URL), nullString(rec.Description),
		nullTime(rec.PostedAt), rec.Fingerprint,
		rec.FirstSeenAt.UTC(), rec.LastSeenAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return false, s.wrap("insert", rec.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("insert", rec.Key(), err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return true, nil
}

// Update implements Store
func (s *SQLStore) Update(ctx context.Context, rec *JobRecord, prevFingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_records
		SET external_id = ?, source_url = ?, title = ?, company = ?, location = ?,
		    url = ?, description = ?, posted_at = ?, fingerprint = ?,
		    last_seen_at = ?, updated_at = ?
		WHERE source = ? AND dedup_key = ? AND fingerprint = ?`,
		nullString(rec.ExternalID), nullString(rec.SourceURL), rec.Title, nullString(rec.Company),
		nullString(rec.Location), nullString(rec.URL), nullString(rec.Description),
		nullTime(rec.PostedAt), rec.Fingerprint, rec.LastSeenAt.UTC(), rec.UpdatedAt.UTC(),
		rec.Source, rec.DedupKey, prevFingerprint)
	if err != nil {
		return false, s.wrap("update", rec.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("update", rec.Key(), err)
	}
	return n == 1, nil
}

// Touch implements Store
func (s *SQLStore) Touch(ctx context.Context, source, dedupKey string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_records SET last_seen_at = ? WHERE source = ? AND dedup_key = ? AND last_seen_at < ?`,
		seenAt.UTC(), source, dedupKey, seenAt.UTC())
	if err != nil {
		return s.wrap("touch", source+"/"+dedupKey, err)
	}
	return nil
}

// Count implements Store
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_records`).Scan(&n); err != nil {
		return 0, s.wrap("count", "", err)
	}
	return n, nil
}

// Close implements Store. The database belongs to the caller and stays open.
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) wrap(op, key string, err error) error {
	switch {
	case db.IsUnavailable(err):
		return storageError(errors.StorageUnavailable, op, key, err)
	case db.IsConstraintViolation(err):
		return storageError(errors.StorageConflict, op, key, err)
	default:
		return storageError(errors.StorageQuery, op, key, err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
