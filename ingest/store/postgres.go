package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/jobpulse/errors"
)

// DefaultPGMaxConns is the pool size when records.max_conns is unset
const DefaultPGMaxConns = 4

const pgSchema = `
CREATE TABLE IF NOT EXISTS job_records (
    id            BIGSERIAL PRIMARY KEY,
    source        TEXT NOT NULL,
    dedup_key     TEXT NOT NULL,
    external_id   TEXT,
    source_url    TEXT,
    title         TEXT NOT NULL,
    company       TEXT,
    location      TEXT,
    url           TEXT,
    description   TEXT,
    posted_at     TIMESTAMPTZ,
    fingerprint   TEXT NOT NULL,
    first_seen_at TIMESTAMPTZ NOT NULL,
    last_seen_at  TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (source, dedup_key)
);
CREATE INDEX IF NOT EXISTS idx_job_records_last_seen ON job_records(last_seen_at);
`

// PGStore keeps records in Postgres, for deployments that share the
// listing table with other services.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects a pool to dsn and verifies it with a ping
func OpenPGStore(ctx context.Context, dsn string, maxConns int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(errors.WithHint(err, "records.dsn must be a postgres URL or key=value DSN"), "parse records dsn")
	}
	if maxConns <= 0 {
		maxConns = DefaultPGMaxConns
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classifyPG("connect", "", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyPG("ping", "", err)
	}
	return &PGStore{pool: pool}, nil
}

// EnsureSchema creates the job_records table when missing
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return classifyPG("ensure schema", "", err)
	}
	return nil
}

// Get implements Store
func (s *PGStore) Get(ctx context.Context, source, dedupKey string) (*JobRecord, error) {
	var rec JobRecord
	var externalID, sourceURL, company, location, url, description *string
	var postedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM job_records WHERE source = $1 AND dedup_key = $2`,
		source, dedupKey,
	).Scan(&rec.ID, &rec.Source, &rec.DedupKey, &externalID, &sourceURL, &rec.Title,
		&company, &location, &url, &description, &postedAt, &rec.Fingerprint,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(source, dedupKey)
	}
	if err != nil {
		return nil, classifyPG("get", source+"/"+dedupKey, err)
	}

	rec.ExternalID = deref(externalID)
	rec.SourceURL = deref(sourceURL)
	rec.Company = deref(company)
	rec.Location = deref(location)
	rec.URL = deref(url)
	rec.Description = deref(description)
	if postedAt != nil {
		rec.PostedAt = postedAt.UTC()
	}
	rec.FirstSeenAt = rec.FirstSeenAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Insert implements Store
func (s *PGStore) Insert(ctx context.Context, rec *JobRecord) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO job_records (
			source, dedup_key, external_id, source_url, title, company, location,
			url, description, posted_at, fingerprint, first_seen_at, last_seen_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source, dedup_key) DO NOTHING
		RETURNING id`,
		rec.Source, rec.DedupKey, optional(rec.ExternalID), optional(rec.SourceURL), rec.Title,
		optional(rec.Company), optional(rec.Location), optional(rec.URL), optional(rec.Description),
		optionalTime(rec.PostedAt), rec.Fingerprint,
		rec.FirstSeenAt.UTC(), rec.LastSeenAt.UTC(), rec.UpdatedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyPG("insert", rec.Key(), err)
	}
	rec.ID = id
	return true, nil
}

// Update implements Store
func (s *PGStore) Update(ctx context.Context, rec *JobRecord, prevFingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_records
		SET external_id = $1, source_url = $2, title = $3, company = $4, location = $5,
		    url = $6, description = $7, posted_at = $8, fingerprint = $9,
		    last_seen_at = $10, updated_at = $11
		WHERE source = $12 AND dedup_key = $13 AND fingerprint = $14`,
		optional(rec.ExternalID), optional(rec.SourceURL), rec.Title, optional(rec.Company),
		optional(rec.Location), optional(rec.URL), optional(rec.Description),
		optionalTime(rec.PostedAt), rec.Fingerprint, rec.LastSeenAt.UTC(), rec.UpdatedAt.UTC(),
		rec.Source, rec.DedupKey, prevFingerprint)
	if err != nil {
		return false, classifyPG("update", rec.Key(), err)
	}
	return tag.RowsAffected() == 1, nil
}

// Touch implements Store
func (s *PGStore) Touch(ctx context.Context, source, dedupKey string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_records SET last_seen_at = $1 WHERE source = $2 AND dedup_key = $3 AND last_seen_at < $1`,
		seenAt.UTC(), source, dedupKey)
	if err != nil {
		return classifyPG("touch", source+"/"+dedupKey, err)
	}
	return nil
}

// Count implements Store
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_records`).Scan(&n); err != nil {
		return 0, classifyPG("count", "", err)
	}
	return n, nil
}

// Close implements Store
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPG maps pgx failures onto StorageError kinds.
// SQLSTATE classes: 23 integrity, 08 connection, 53 resources, 57 operator intervention.
func classifyPG(op, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return storageError(errors.StorageConflict, op, key, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return storageError(errors.StorageUnavailable, op, key, err)
		}
		return storageError(errors.StorageQuery, op, key, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || strings.Contains(err.Error(), "closed pool") {
		return storageError(errors.StorageUnavailable, op, key, err)
	}
	return storageError(errors.StorageQuery, op, key, err)
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
