package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/ingest/normalize"
	"github.com/teranos/jobpulse/ingest/source"
	"github.com/teranos/jobpulse/ingest/store"
	"github.com/teranos/jobpulse/ingest/upsert"
	"github.com/teranos/jobpulse/internal/httpclient"
	jptest "github.com/teranos/jobpulse/internal/testing"
	"github.com/teranos/jobpulse/pulse/async"
)

// ============================================================================
// Job Board Test Universe
// ============================================================================
//
// Characters:
//   - Rosa: the recruiter who asks for imports
//   - the boards: remoteok and jobicy, small feeds served by httptest that
//     can be slow, broken or cut off mid-response
//
// Theme: Rosa's imports pull listings from the boards; whatever the boards
// do, every run ends in exactly one finalized log entry.
// ============================================================================

type harness struct {
	records *store.SQLStore
	logs    *importlog.Store
	catalog *Catalog
	orch    *Orchestrator
}

func newHarness(t *testing.T, sources ...source.Config) *harness {
	t.Helper()
	database := jptest.CreateTestDB(t)
	records := store.NewSQLStore(database)

	h := newHarnessWithStore(t, records, importlog.NewStore(database), sources...)
	h.records = records
	return h
}

func newHarnessWithStore(t *testing.T, s store.Store, logs *importlog.Store, sources ...source.Config) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	fetcher := source.NewHTTPFetcher(httpclient.NewSaferClient(httpclient.Options{AllowPrivateHosts: true}), nil)
	catalog := NewCatalog(sources)
	return &harness{
		logs:    logs,
		catalog: catalog,
		orch: NewOrchestrator(catalog, source.NewDefaultRegistry(fetcher), normalize.New(),
			upsert.New(s, log), logs, log),
	}
}

// onlyEntry returns the single log entry written for jobID
func (h *harness) onlyEntry(t *testing.T, jobID string) *importlog.Entry {
	t.Helper()
	entries, err := h.logs.ListByImport(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func rosasJob(id string, sources ...string) *async.ImportJob {
	return &async.ImportJob{
		ID:          id,
		Priority:    0,
		Concurrency: 2,
		BatchSize:   10,
		Sources:     sources,
		TriggerType: async.TriggerManual,
		TriggeredBy: "rosa",
		State:       async.JobStateInProgress,
		Attempt:     1,
		MaxAttempts: async.DefaultMaxAttempts,
	}
}

// listing builds a JSON listing; an empty title makes it fail validation
func listing(id int, title string) map[string]any {
	return map[string]any{
		"id":       fmt.Sprintf("job-%d", id),
		"title":    title,
		"company":  "Acme",
		"location": "Remote",
		"url":      fmt.Sprintf("https://board.example/jobs/%d", id),
		"date":     "2026-04-01T09:00:00Z",
	}
}

// board serves whatever payload currently holds
type board struct {
	srv     *httptest.Server
	payload atomic.Value
	hits    atomic.Int32
}

func newBoard(t *testing.T, listings []map[string]any) *board {
	t.Helper()
	b := &board{}
	b.set(t, listings)
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, b.payload.Load().(string))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *board) set(t *testing.T, listings []map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jobs": listings})
	require.NoError(t, err)
	b.payload.Store(string(body))
}

func (b *board) config(name string) source.Config {
	return source.Config{Name: name, URL: b.srv.URL, Format: source.FormatJSON, Timeout: 5 * time.Second}
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRosasImport_100Fetched5Invalid80New15Unchanged(t *testing.T) {
	var known []map[string]any
	for i := 0; i < 15; i++ {
		known = append(known, listing(i, fmt.Sprintf("Engineer %d", i)))
	}
	remoteok := newBoard(t, known)
	h := newHarness(t, remoteok.config("remoteok"))
	ctx := context.Background()

	require.NoError(t, h.orch.Execute(ctx, rosasJob("seed")))
	assert.Equal(t, 15, h.onlyEntry(t, "seed").NewJobs)

	all := append([]map[string]any(nil), known...)
	for i := 15; i < 95; i++ {
		all = append(all, listing(i, fmt.Sprintf("Engineer %d", i)))
	}
	for i := 95; i < 100; i++ {
		all = append(all, listing(i, ""))
	}
	remoteok.set(t, all)

	require.NoError(t, h.orch.Execute(ctx, rosasJob("second")))

	e := h.onlyEntry(t, "second")
	assert.Equal(t, importlog.StatusCompleted, e.Status)
	assert.Equal(t, 100, e.TotalFetched)
	assert.Equal(t, 80, e.TotalImported)
	assert.Equal(t, 80, e.NewJobs)
	assert.Equal(t, 0, e.UpdatedJobs)
	assert.Equal(t, 5, e.FailedJobs)
	assert.Equal(t, 80, e.SuccessRate)
	assert.Equal(t, 0, e.ErrorCount)
	require.Equal(t, 1, e.WarningCount)
	assert.Contains(t, e.Warnings[0].Message, "5 records failed validation (missing-field title: 5)")
	assert.EqualValues(t, 15, e.Metadata["unchanged"])
	require.NotNil(t, e.EndTime)
	assert.Equal(t, e.EndTime.Sub(e.StartTime).Milliseconds(), e.Duration)

	n, err := h.records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95, n)
}

func TestRosasImport_ReRunIsIdempotent(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer"), listing(2, "SRE")})
	h := newHarness(t, remoteok.config("remoteok"))
	ctx := context.Background()

	require.NoError(t, h.orch.Execute(ctx, rosasJob("first")))
	require.NoError(t, h.orch.Execute(ctx, rosasJob("again")))

	e := h.onlyEntry(t, "again")
	assert.Equal(t, 2, e.TotalFetched)
	assert.Zero(t, e.NewJobs)
	assert.Zero(t, e.UpdatedJobs)
	assert.Zero(t, e.SuccessRate)

	remoteok.set(t, []map[string]any{listing(1, "Senior Go Engineer"), listing(2, "SRE")})
	require.NoError(t, h.orch.Execute(ctx, rosasJob("changed")))
	e = h.onlyEntry(t, "changed")
	assert.Equal(t, 1, e.UpdatedJobs)
	assert.Equal(t, 50, e.SuccessRate)
}

func TestRosasImport_OneBoardDownIsPartialFailure(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer"), listing(2, "SRE"), listing(3, "DBA")})
	broken := statusServer(t, http.StatusInternalServerError)
	h := newHarness(t,
		remoteok.config("remoteok"),
		source.Config{Name: "jobicy", URL: broken.URL, Format: source.FormatJSON, Timeout: 5 * time.Second},
	)

	err := h.orch.Execute(context.Background(), rosasJob("partial"))
	require.NoError(t, err, "a run with one working source completes")

	e := h.onlyEntry(t, "partial")
	assert.Equal(t, importlog.StatusCompleted, e.Status)
	assert.Equal(t, "remoteok,jobicy", e.Source)
	assert.Equal(t, 3, e.NewJobs)
	require.Equal(t, 1, e.ErrorCount)
	assert.Contains(t, e.Errors[0].Message, "jobicy")
	assert.Contains(t, e.Errors[0].Message, "HTTP 500")

	breakdown, ok := e.Metadata["sources"].([]any)
	require.True(t, ok)
	require.Len(t, breakdown, 2)
	jobicy := breakdown[0].(map[string]any)
	assert.Equal(t, "jobicy", jobicy["name"])
	assert.Equal(t, SourceFailed, jobicy["status"])
}

func TestRosasImport_AllBoardsDown(t *testing.T) {
	a := statusServer(t, http.StatusServiceUnavailable)
	b := statusServer(t, http.StatusBadGateway)
	h := newHarness(t,
		source.Config{Name: "remoteok", URL: a.URL, Format: source.FormatRSS, Timeout: 5 * time.Second},
		source.Config{Name: "jobicy", URL: b.URL, Format: source.FormatJSON, Timeout: 5 * time.Second},
	)

	err := h.orch.Execute(context.Background(), rosasJob("down"))
	require.Error(t, err)
	assert.True(t, errors.IsFetchError(err, errors.FetchHTTPStatus), "got %v", err)
	assert.True(t, async.Retryable(err))

	e := h.onlyEntry(t, "down")
	assert.Equal(t, importlog.StatusFailed, e.Status)
	assert.Equal(t, 2, e.ErrorCount)
	assert.Zero(t, e.SuccessRate)
}

func TestRosasImport_FeedCutOffKeepsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "8192")
		_, _ = io.WriteString(w, `[{"id": 1, "title": "first", "company": "Acme"}, {"id": 2, "title": "second", "company": "Acme"}, {"id": 3, "ti`)
	}))
	t.Cleanup(srv.Close)
	h := newHarness(t, source.Config{Name: "flaky", URL: srv.URL, Format: source.FormatJSON, Timeout: 5 * time.Second})

	require.NoError(t, h.orch.Execute(context.Background(), rosasJob("cutoff")))

	e := h.onlyEntry(t, "cutoff")
	assert.Equal(t, importlog.StatusCompleted, e.Status)
	assert.Equal(t, 2, e.NewJobs)
	assert.Zero(t, e.ErrorCount)
	require.Equal(t, 1, e.WarningCount)
	assert.Contains(t, e.Warnings[0].Message, "feed cut off after 2 records")
}

func TestRosasImport_UnknownSources(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer")})
	h := newHarness(t, remoteok.config("remoteok"))

	err := h.orch.Execute(context.Background(), rosasJob("typo", "remotok"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.False(t, async.Retryable(err), "a bad source list will not fix itself")

	e := h.onlyEntry(t, "typo")
	assert.Equal(t, importlog.StatusFailed, e.Status)
	assert.Equal(t, "remotok", e.Source)
	assert.Equal(t, 1, e.WarningCount)

	require.NoError(t, h.orch.Execute(context.Background(), rosasJob("mixed", "remoteok", "remotok")))
	mixed := h.onlyEntry(t, "mixed")
	assert.Equal(t, importlog.StatusCompleted, mixed.Status)
	assert.Equal(t, 1, mixed.WarningCount)
}

func TestRosasImport_CancelledBeforeFetch(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer")})
	h := newHarness(t, remoteok.config("remoteok"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.Execute(ctx, rosasJob("cancelled"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, remoteok.hits.Load(), "no new work starts after cancellation")

	e := h.onlyEntry(t, "cancelled")
	assert.Equal(t, importlog.StatusCancelled, e.Status)
	require.NotNil(t, e.EndTime)
}

func TestRosasImport_ShutdownIsNotRecordedAsCancel(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer")})
	h := newHarness(t, remoteok.config("remoteok"))

	ctx, stop := context.WithCancelCause(context.Background())
	stop(async.ErrShuttingDown)

	err := h.orch.Execute(ctx, rosasJob("night-shift"))
	require.ErrorIs(t, err, async.ErrShuttingDown)

	e := h.onlyEntry(t, "night-shift")
	assert.Equal(t, importlog.StatusFailed, e.Status, "the job is requeued, nobody asked for a cancel")
	require.NotEmpty(t, e.Errors)
	assert.Contains(t, e.Errors[len(e.Errors)-1].Message, "interrupted by shutdown")
}

// downStore is a record store whose backend is gone
type downStore struct{}

func (downStore) unavailable(op string) error {
	return &errors.StorageError{Kind: errors.StorageUnavailable, Op: op, Err: errors.New("connection refused")}
}
func (s downStore) Get(context.Context, string, string) (*store.JobRecord, error) {
	return nil, s.unavailable("get")
}
func (s downStore) Insert(context.Context, *store.JobRecord) (bool, error) {
	return false, s.unavailable("insert")
}
func (s downStore) Update(context.Context, *store.JobRecord, string) (bool, error) {
	return false, s.unavailable("update")
}
func (s downStore) Touch(context.Context, string, string, time.Time) error {
	return s.unavailable("touch")
}
func (s downStore) Count(context.Context) (int, error) { return 0, s.unavailable("count") }
func (downStore) Close() error                         { return nil }

func TestRosasImport_StoreUnavailableFailsRun(t *testing.T) {
	remoteok := newBoard(t, []map[string]any{listing(1, "Go Engineer")})
	jobicy := newBoard(t, []map[string]any{listing(2, "SRE")})
	logs := importlog.NewStore(jptest.CreateTestDB(t))
	h := newHarnessWithStore(t, downStore{}, logs, remoteok.config("remoteok"), jobicy.config("jobicy"))

	err := h.orch.Execute(context.Background(), rosasJob("nostore"))
	require.Error(t, err)
	assert.True(t, errors.IsStorageUnavailable(err))
	assert.True(t, async.Retryable(err))

	e := h.onlyEntry(t, "nostore")
	assert.Equal(t, importlog.StatusFailed, e.Status)
	assert.GreaterOrEqual(t, e.ErrorCount, 1)
	assert.Contains(t, e.Errors[len(e.Errors)-1].Message, "run aborted")
}

func TestRosasImport_TimeoutRetriesWithGrowingBackoff(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	database := jptest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	logs := importlog.NewStore(database)
	h := newHarnessWithStore(t, store.NewSQLStore(database), logs,
		source.Config{Name: "slowboard", URL: slow.URL, Format: source.FormatJSON, Timeout: 30 * time.Millisecond})

	q := async.NewQueue(database, async.QueueConfig{
		Backoff: async.Backoff{Base: 20 * time.Millisecond, Max: time.Second},
	}, log)
	updates := q.Subscribe()
	t.Cleanup(func() { q.Unsubscribe(updates) })

	pool := async.NewWorkerPool(context.Background(), q, h.orch, async.WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  5 * time.Second,
	}, log)
	require.NoError(t, pool.Start())
	t.Cleanup(pool.Stop)

	ticket, err := q.Submit(context.Background(), async.TriggerOptions{TriggeredBy: "rosa"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := ticket.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, async.JobStateFailed, final.State)
	assert.Equal(t, 3, final.Attempt, "never a fourth attempt")

	var requeues []*async.ImportJob
	for len(updates) > 0 {
		if u := <-updates; u.State == async.JobStatePending && u.Attempt > 0 {
			requeues = append(requeues, u)
		}
	}
	require.Len(t, requeues, 2)
	for i, r := range requeues {
		assert.Equal(t, i+1, r.Attempt)
		assert.Contains(t, r.Error, "timeout")
	}
	assert.Greater(t, requeues[1].LastBackoffMS, requeues[0].LastBackoffMS)

	entries, err := logs.ListByImport(context.Background(), final.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3, "one log entry per attempt")
	for i, e := range entries {
		assert.Equal(t, importlog.StatusFailed, e.Status)
		assert.EqualValues(t, i+1, e.Metadata["attempt"])
	}
}
