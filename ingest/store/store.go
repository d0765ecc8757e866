package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
)

// Store is the JobRecord persistence contract used by the upserter.
// Implementations return *errors.StorageError for backend failures and
// errors.ErrNotFound (wrapped) for a missing record.
type Store interface {
	// Get returns the stored record for (source, dedupKey)
	Get(ctx context.Context, source, dedupKey string) (*JobRecord, error)
	// Insert adds rec unless a record with its key exists; inserted is false
	// on conflict and rec is left untouched.
	Insert(ctx context.Context, rec *JobRecord) (inserted bool, err error)
	// Update replaces the content of the stored record only while its
	// fingerprint still equals prevFingerprint.
	Update(ctx context.Context, rec *JobRecord, prevFingerprint string) (updated bool, err error)
	// Touch refreshes last_seen_at for an unchanged record
	Touch(ctx context.Context, source, dedupKey string, seenAt time.Time) error
	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)
	// Close releases the backend
	Close() error
}

func storageError(kind errors.StorageKind, op, key string, err error) error {
	return &errors.StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

func notFound(source, dedupKey string) error {
	return errors.Wrapf(errors.ErrNotFound, "job record %s/%s", source, dedupKey)
}

// Open returns the Store selected by records.driver. The sqlite driver
// shares database, the already-migrated jobpulse database.
func Open(ctx context.Context, cfg am.RecordsConfig, database *sql.DB) (Store, error) {
	switch cfg.Driver {
	case "", am.DriverSQLite:
		return NewSQLStore(database), nil
	case am.DriverPostgres:
		pg, err := OpenPGStore(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown records driver %q", cfg.Driver)
	}
}
