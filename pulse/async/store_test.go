package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/errors"
	jptest "github.com/teranos/jobpulse/internal/testing"
)

// ============================================================================
// Filing Cabinet Test Universe
// ============================================================================
//
// Characters:
//   - Mr. Tidy: the clerk who files import requests in the cabinet
//   - Cronos: appears at closing time to shred old paperwork
//
// Theme: every request Mr. Tidy files must come back out exactly as it went
// in, and Cronos only ever shreds folders that are closed.
// ============================================================================

func fileJob(t *testing.T, s *Store, seq int64, priority int, now time.Time) *ImportJob {
	t.Helper()
	job := newImportJob(TriggerOptions{
		Priority:    priority,
		Concurrency: 2,
		BatchSize:   50,
		Sources:     []string{"remoteok", "jobicy"},
		TriggerType: TriggerAPI,
		TriggeredBy: "mr-tidy",
	}, seq, 3, now)
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestMrTidyFilesAndRetrievesJob(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	job := fileJob(t, s, 1, 7, now)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, 2, got.Concurrency)
	assert.Equal(t, 50, got.BatchSize)
	assert.Equal(t, []string{"remoteok", "jobicy"}, got.Sources)
	assert.Equal(t, TriggerAPI, got.TriggerType)
	assert.Equal(t, "mr-tidy", got.TriggeredBy)
	assert.Equal(t, JobStatePending, got.State)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.NotBefore)
}

func TestMrTidyUpdatesJob(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	job := fileJob(t, s, 1, 0, now)

	require.NoError(t, job.transition(JobStateInProgress, now.Add(time.Second)))
	job.Attempt = 1
	require.NoError(t, s.UpdateJob(ctx, job))

	retry := now.Add(5 * time.Second)
	require.NoError(t, job.transition(JobStatePending, now.Add(2*time.Second)))
	job.NotBefore = &retry
	job.LastBackoffMS = 3000
	job.Error = "remoteok: HTTP 503"
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatePending, got.State)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, int64(3000), got.LastBackoffMS)
	assert.Equal(t, "remoteok: HTTP 503", got.Error)
	require.NotNil(t, got.NotBefore)
	assert.True(t, retry.Equal(*got.NotBefore))
	require.NotNil(t, got.StartedAt)
}

func TestMissingFolder(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	ctx := context.Background()

	_, err := s.GetJob(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	ghost := newImportJob(TriggerOptions{}, 1, 3, time.Now().UTC())
	err = s.UpdateJob(ctx, ghost)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListingOrder(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	low := fileJob(t, s, 1, 0, now)
	high := fileJob(t, s, 2, 9, now)
	tie := fileJob(t, s, 3, 9, now)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{high.ID, tie.ID, low.ID},
		[]string{pending[0].ID, pending[1].ID, pending[2].ID}, "priority desc then submission order")

	all, err := s.ListJobs(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, tie.ID, all[0].ID, "newest first")

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestMaxSeqEmptyCabinet(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	seq, err := s.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestCronosShredsOnlyClosedFolders(t *testing.T) {
	s := NewStore(jptest.CreateTestDB(t))
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	finished := fileJob(t, s, 1, 0, old)
	require.NoError(t, finished.transition(JobStateInProgress, old))
	require.NoError(t, finished.transition(JobStateCompleted, old.Add(time.Minute)))
	require.NoError(t, s.UpdateJob(ctx, finished))

	recent := fileJob(t, s, 2, 0, time.Now().UTC())
	require.NoError(t, recent.transition(JobStateCancelled, time.Now().UTC()))
	require.NoError(t, s.UpdateJob(ctx, recent))

	stillPending := fileJob(t, s, 3, 0, old)

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[JobState]int{JobStateCompleted: 1, JobStateCancelled: 1, JobStatePending: 1}, counts)

	n, err := s.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, finished.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = s.GetJob(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, stillPending.ID)
	assert.NoError(t, err)
}
