// Package run executes import jobs: every requested source is fetched,
// normalized and upserted, and the run is recorded as one import log entry.
package run

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/ingest/normalize"
	"github.com/teranos/jobpulse/ingest/source"
	"github.com/teranos/jobpulse/ingest/store"
	"github.com/teranos/jobpulse/ingest/upsert"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/sym"
)

// maxRecordWarnings caps per-record warning lines per source; the rest are
// summarized in one line.
const maxRecordWarnings = 20

// Source outcome in the per-source breakdown
const (
	SourceOK        = "ok"
	SourcePartial   = "partial"
	SourceFailed    = "failed"
	SourceCancelled = "cancelled"
)

// SourceSummary is one source's share of a run, stored in the log entry
// metadata under "sources".
type SourceSummary struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Fetched   int    `json:"fetched"`
	New       int    `json:"new"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Duration  int64  `json:"duration"` // milliseconds
	Error     string `json:"error,omitempty"`
}

// Orchestrator implements async.JobExecutor
type Orchestrator struct {
	catalog    *Catalog
	registry   *source.Registry
	normalizer *normalize.Normalizer
	upserter   *upsert.Upserter
	logs       *importlog.Store
	logger     *zap.SugaredLogger
	now        func() time.Time
}

var _ async.JobExecutor = (*Orchestrator)(nil)

// NewOrchestrator wires the run pipeline
func NewOrchestrator(catalog *Catalog, registry *source.Registry, normalizer *normalize.Normalizer,
	upserter *upsert.Upserter, logs *importlog.Store, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if normalizer == nil {
		normalizer = normalize.New()
	}
	return &Orchestrator{
		catalog:    catalog,
		registry:   registry,
		normalizer: normalizer,
		upserter:   upserter,
		logs:       logs,
		logger:     logger.AddImportSymbol(log),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// runState is owned by one Execute call. Source goroutines report into it
// under mu; the entry is persisted only at creation and finalization.
type runState struct {
	mu       sync.Mutex
	entry    *importlog.Entry
	sources  map[string]*SourceSummary
	firstErr error
}

func (r *runState) errorf(at time.Time, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry.AddError(at, fmt.Sprintf(format, args...))
}

func (r *runState) warnf(at time.Time, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry.AddWarning(at, fmt.Sprintf(format, args...))
}

// Execute runs one attempt of job. It returns nil when at least one source
// was processed, context.Canceled when the job was cancelled, and an error
// carrying the cause when every source failed, the store went away or the
// worker pool shut down mid-run.
func (o *Orchestrator) Execute(ctx context.Context, job *async.ImportJob) error {
	start := o.now()
	// log writes outlive cancellation so a cancelled run is still recorded
	persistCtx := context.WithoutCancel(ctx)

	sources, unknown := o.catalog.Resolve(job.Sources)
	names := make([]string, len(sources))
	urls := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
		urls[i] = s.URL
	}
	logSources := names
	if len(logSources) == 0 {
		logSources = job.Sources
	}

	entry := importlog.NewEntry(job.ID, logSources, urls, string(job.TriggerType), job.TriggeredBy, start)
	entry.Metadata["attempt"] = job.Attempt
	entry.Metadata["priority"] = job.Priority
	entry.Metadata["concurrency"] = job.Concurrency
	entry.Metadata["batchSize"] = job.BatchSize
	if err := o.logs.Create(persistCtx, entry); err != nil {
		return errors.Wrap(err, "failed to record import start")
	}

	run := &runState{entry: entry, sources: make(map[string]*SourceSummary, len(sources))}
	for _, name := range unknown {
		run.warnf(start, "unknown source %q skipped", name)
	}

	// the worker pool seeds ctx with the job ID
	log := logger.FromContext(ctx, o.logger).With(
		logger.FieldImportID, entry.ID,
		logger.FieldAttempt, job.Attempt,
	)
	log.Infow(sym.IX+" Import run started", logger.FieldSources, names,
		logger.FieldConcurrency, job.Concurrency, logger.FieldBatchSize, job.BatchSize)

	if len(sources) == 0 {
		err := errors.Wrap(errors.ErrInvalidRequest, "no sources to import")
		if len(unknown) > 0 {
			err = errors.WithHintf(err, "configured sources: %v", o.catalog.Names())
		}
		run.errorf(o.now(), "%v", err)
		return o.finalize(persistCtx, run, importlog.StatusFailed, err, log)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(job.Concurrency, 1))
	for _, src := range sources {
		g.Go(func() error {
			return o.importSource(gctx, job, src, run)
		})
	}
	fatal := g.Wait()

	switch {
	case fatal != nil:
		run.errorf(o.now(), "run aborted: %v", fatal)
		return o.finalize(persistCtx, run, importlog.StatusFailed, fatal, log)
	case errors.Is(context.Cause(ctx), async.ErrShuttingDown):
		// the job goes back to pending, so this attempt did not end in a cancel
		run.errorf(o.now(), "interrupted by shutdown, job requeued")
		return o.finalize(persistCtx, run, importlog.StatusFailed, context.Cause(ctx), log)
	case ctx.Err() != nil:
		return o.finalize(persistCtx, run, importlog.StatusCancelled, ctx.Err(), log)
	}

	failed := 0
	for _, s := range run.sources {
		if s.Status == SourceFailed {
			failed++
		}
	}
	if failed == len(sources) {
		err := errors.Wrapf(run.firstErr, "all %d sources failed", failed)
		return o.finalize(persistCtx, run, importlog.StatusFailed, err, log)
	}
	return o.finalize(persistCtx, run, importlog.StatusCompleted, nil, log)
}

// importSource streams one source into the store. Only errors that must
// abort the whole run are returned; everything else is recorded in run.
func (o *Orchestrator) importSource(ctx context.Context, job *async.ImportJob, src source.Config, run *runState) error {
	started := o.now()
	summary := &SourceSummary{Name: src.Name, URL: src.URL, Status: SourceOK}
	defer func() {
		summary.Duration = o.now().Sub(started).Milliseconds()
		run.mu.Lock()
		run.sources[src.Name] = summary
		run.mu.Unlock()
	}()

	fail := func(err error) {
		summary.Status = SourceFailed
		summary.Error = err.Error()
		run.errorf(o.now(), "%s: %v", src.Name, err)
		run.mu.Lock()
		if run.firstErr == nil {
			run.firstErr = err
		}
		run.mu.Unlock()
	}

	if ctx.Err() != nil {
		summary.Status = SourceCancelled
		return nil
	}

	adapter, err := o.registry.Get(src.Format)
	if err != nil {
		fail(err)
		return nil
	}

	log := o.logger.With(logger.FieldJobID, job.ID, logger.FieldSource, src.Name,
		logger.FieldSourceURL, src.URL, logger.FieldFormat, src.Format)
	opts := upsert.Options{BatchSize: job.BatchSize, Concurrency: job.Concurrency}
	validation := make(map[string]int)
	recordWarnings := 0

	batch := make([]store.JobRecord, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := o.upserter.Upsert(ctx, batch, opts)
		batch = batch[:0]

		summary.New += res.New
		summary.Updated += res.Updated
		summary.Unchanged += res.Unchanged
		summary.Failed += res.Failed
		for _, f := range res.Failures {
			recordWarnings++
			if recordWarnings <= maxRecordWarnings {
				run.warnf(o.now(), "%s: store %s: %v", src.Name, f.DedupKey, f.Err)
			}
		}
		return err
	}

	// The fetch itself is not interrupted by cancellation; its deadline
	// bounds it and cancellation is observed between batches.
	var streamErr error
	for raw, err := range source.Stream(context.WithoutCancel(ctx), adapter, src) {
		if err != nil {
			streamErr = err
			break
		}
		summary.Fetched++

		rec, err := o.normalizer.Normalize(raw)
		if err != nil {
			summary.Failed++
			var ve *errors.ValidationError
			if errors.As(err, &ve) {
				validation[string(ve.Kind)+" "+ve.Field]++
			} else {
				validation[err.Error()]++
			}
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= opts.BatchSize {
			if ctx.Err() != nil {
				break
			}
			if err := flush(); err != nil {
				return o.storeFailure(ctx, err, summary, fail)
			}
		}
	}

	if ctx.Err() == nil {
		if err := flush(); err != nil {
			return o.storeFailure(ctx, err, summary, fail)
		}
	}

	if len(validation) > 0 {
		run.warnf(o.now(), "%s: %d records failed validation (%s)", src.Name, sumCounts(validation), formatCounts(validation))
	}
	if recordWarnings > maxRecordWarnings {
		run.warnf(o.now(), "%s: %d more records failed to store", src.Name, recordWarnings-maxRecordWarnings)
	}

	switch {
	case ctx.Err() != nil:
		summary.Status = SourceCancelled
	case streamErr != nil && summary.Fetched > 0 && errors.IsFetchError(streamErr):
		// keep what arrived before the connection broke
		summary.Status = SourcePartial
		summary.Error = streamErr.Error()
		run.warnf(o.now(), "%s: feed cut off after %d records: %v", src.Name, summary.Fetched, streamErr)
	case streamErr != nil:
		fail(streamErr)
	}

	log.Infow(sym.IX+" Source imported",
		logger.FieldStatus, summary.Status,
		logger.FieldFetched, summary.Fetched,
		logger.FieldNew, summary.New,
		logger.FieldUpdated, summary.Updated,
		logger.FieldFailed, summary.Failed)
	return nil
}

// storeFailure aborts the run when the store is unreachable; any other
// upsert error fails just this source.
func (o *Orchestrator) storeFailure(ctx context.Context, err error, summary *SourceSummary, fail func(error)) error {
	if errors.IsStorageUnavailable(err) {
		summary.Status = SourceFailed
		summary.Error = err.Error()
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		summary.Status = SourceCancelled
		return nil
	}
	fail(err)
	return nil
}

// finalize folds the per-source counts into the entry and persists it once
func (o *Orchestrator) finalize(ctx context.Context, run *runState, status importlog.Status, runErr error, log *zap.SugaredLogger) error {
	run.mu.Lock()
	e := run.entry
	breakdown := make([]SourceSummary, 0, len(run.sources))
	for _, s := range run.sources {
		e.TotalFetched += s.Fetched
		e.NewJobs += s.New
		e.UpdatedJobs += s.Updated
		e.FailedJobs += s.Failed
		breakdown = append(breakdown, *s)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Name < breakdown[j].Name })
	e.Metadata["sources"] = breakdown
	e.Metadata["unchanged"] = sumUnchanged(breakdown)
	e.Finalize(status, o.now())
	run.mu.Unlock()

	fields := []any{
		logger.FieldStatus, e.Status,
		logger.FieldFetched, e.TotalFetched,
		logger.FieldNew, e.NewJobs,
		logger.FieldUpdated, e.UpdatedJobs,
		logger.FieldFailed, e.FailedJobs,
		"success_rate", e.SuccessRate,
		logger.FieldDurationMS, e.Duration,
	}

	if err := o.logs.Finalize(ctx, e); err != nil {
		log.Errorw("Failed to finalize import log", logger.FieldError, err)
		if runErr == nil {
			return errors.Wrap(err, "failed to finalize import log")
		}
	}

	switch status {
	case importlog.StatusCompleted:
		log.Infow(sym.IX+" Import run completed", fields...)
	case importlog.StatusCancelled:
		log.Infow(sym.IX+" Import run cancelled", fields...)
	default:
		log.Warnw(sym.IX+" Import run failed", append(fields, logger.FieldError, runErr)...)
	}
	return runErr
}

func sumUnchanged(breakdown []SourceSummary) int {
	n := 0
	for _, s := range breakdown {
		n += s.Unchanged
	}
	return n
}

func sumCounts(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// formatCounts renders {"missing-field title": 3} as "missing-field title: 3"
func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, m[k])
	}
	return strings.Join(parts, ", ")
}
