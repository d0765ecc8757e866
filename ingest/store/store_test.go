package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	jptest "github.com/teranos/jobpulse/internal/testing"
)

func sampleRecord(now time.Time) *JobRecord {
	return &JobRecord{
		Source:      "remoteok",
		DedupKey:    "x:abc",
		ExternalID:  "abc",
		Title:       "Go Engineer",
		Company:     "Acme",
		URL:         "https://remoteok.example/jobs/abc",
		PostedAt:    now.Add(-24 * time.Hour),
		Fingerprint: "fp-1",
		FirstSeenAt: now,
		LastSeenAt:  now,
		UpdatedAt:   now,
	}
}

func TestSQLStore_InsertAndGet(t *testing.T) {
	s := NewSQLStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := sampleRecord(now)
	inserted, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, rec.ID)

	got, err := s.Get(ctx, "remoteok", "x:abc")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "Go Engineer", got.Title)
	assert.Equal(t, "Acme", got.Company)
	assert.Empty(t, got.Location)
	assert.True(t, rec.PostedAt.Equal(got.PostedAt))
	assert.True(t, now.Equal(got.FirstSeenAt))

	again := sampleRecord(now)
	inserted, err = s.Insert(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same key is a conflict, not an error")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLStore_GetMissing(t *testing.T) {
	s := NewSQLStore(jptest.CreateTestDB(t))

	_, err := s.Get(context.Background(), "remoteok", "x:nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSQLStore_ZeroPostedAtRoundTrips(t *testing.T) {
	s := NewSQLStore(jptest.CreateTestDB(t))
	ctx := context.Background()

	rec := sampleRecord(time.Now().UTC())
	rec.PostedAt = time.Time{}
	_, err := s.Insert(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.Source, rec.DedupKey)
	require.NoError(t, err)
	assert.True(t, got.PostedAt.IsZero())
}

func TestSQLStore_UpdateIsConditional(t *testing.T) {
	s := NewSQLStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := sampleRecord(now)
	_, err := s.Insert(ctx, rec)
	require.NoError(t, err)

	changed := sampleRecord(now.Add(time.Minute))
	changed.Title = "Senior Go Engineer"
	changed.Fingerprint = "fp-2"

	updated, err := s.Update(ctx, changed, "fp-stale")
	require.NoError(t, err)
	assert.False(t, updated, "fingerprint mismatch must not write")

	updated, err = s.Update(ctx, changed, "fp-1")
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := s.Get(ctx, rec.Source, rec.DedupKey)
	require.NoError(t, err)
	assert.Equal(t, "Senior Go Engineer", got.Title)
	assert.Equal(t, "fp-2", got.Fingerprint)
	assert.True(t, now.Equal(got.FirstSeenAt), "first seen survives updates")
	assert.True(t, now.Add(time.Minute).Equal(got.UpdatedAt))
}

func TestSQLStore_TouchOnlyMovesForward(t *testing.T) {
	s := NewSQLStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := sampleRecord(now)
	_, err := s.Insert(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, rec.Source, rec.DedupKey, now.Add(time.Hour)))
	require.NoError(t, s.Touch(ctx, rec.Source, rec.DedupKey, now.Add(-time.Hour)))

	got, err := s.Get(ctx, rec.Source, rec.DedupKey)
	require.NoError(t, err)
	assert.True(t, now.Add(time.Hour).Equal(got.LastSeenAt))
	assert.True(t, now.Equal(got.UpdatedAt), "touch leaves content timestamps alone")
}

func TestSQLStore_ErrorClassification(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewSQLStore(mockDB)
	ctx := context.Background()
	rec := sampleRecord(time.Now().UTC())

	mock.ExpectExec("INSERT INTO job_records").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	_, err = s.Insert(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))

	mock.ExpectExec("UPDATE job_records").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint})
	_, err = s.Update(ctx, rec, "fp-1")
	require.Error(t, err)
	assert.True(t, errors.IsStorageConflict(err))

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(errors.New("no such column: nope"))
	_, err = s.Count(ctx)
	require.Error(t, err)
	var se *errors.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, errors.StorageQuery, se.Kind)
	assert.Equal(t, "count", se.Op)

	mock.ExpectExec("INSERT INTO job_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyPG(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.StorageKind
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, errors.StorageConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, errors.StorageUnavailable},
		{"too many connections", &pgconn.PgError{Code: "53300"}, errors.StorageUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, errors.StorageUnavailable},
		{"syntax error", &pgconn.PgError{Code: "42601"}, errors.StorageQuery},
		{"closed pool", errors.New("closed pool"), errors.StorageUnavailable},
		{"other", errors.New("boom"), errors.StorageQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyPG("insert", "remoteok/x:1", tt.err)
			var se *errors.StorageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.want, se.Kind)
			assert.Equal(t, "remoteok/x:1", se.Key)
		})
	}
}

func TestOpen(t *testing.T) {
	database := jptest.CreateTestDB(t)
	ctx := context.Background()

	s, err := Open(ctx, am.RecordsConfig{}, database)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())
	require.NoError(t, database.Ping(), "closing the sqlite store leaves the shared database open")

	_, err = Open(ctx, am.RecordsConfig{Driver: "mongo"}, database)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = Open(ctx, am.RecordsConfig{Driver: am.DriverPostgres, DSN: "::not a dsn::"}, database)
	require.Error(t, err)
}

func TestJobRecordKey(t *testing.T) {
	a := JobRecord{Source: "a", DedupKey: "bc"}
	b := JobRecord{Source: "ab", DedupKey: "c"}
	assert.NotEqual(t, a.Key(), b.Key())
}
