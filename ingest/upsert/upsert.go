// Package upsert writes canonical job records idempotently: new keys are
// inserted, changed content is updated in place, identical content is a hit.
package upsert

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/store"
	"github.com/teranos/jobpulse/logger"
)

// Defaults applied when Options leave a field at zero
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 3
)

// maxWriteAttempts is the first write plus one record-level retry
const maxWriteAttempts = 2

// Counts tallies upsert outcomes. Unchanged records are pure hits and are
// neither imported nor failed.
type Counts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Imported is New + Updated
func (c Counts) Imported() int {
	return c.New + c.Updated
}

// Add accumulates other into c
func (c *Counts) Add(other Counts) {
	c.New += other.New
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.Failed += other.Failed
}

// Failure is a record that could not be written
type Failure struct {
	Source   string
	DedupKey string
	Err      error
}

// Result is the outcome of an Upsert call
type Result struct {
	Counts
	Failures []Failure
}

// Options bound one Upsert call
type Options struct {
	BatchSize   int
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeFailed
)

// Upserter is safe for concurrent use. All writers to one store within a
// process must share an Upserter so its key locks see every write.
type Upserter struct {
	store  store.Store
	locks  *keyLock
	logger *zap.SugaredLogger
}

// New creates an Upserter over s
func New(s store.Store, log *zap.SugaredLogger) *Upserter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Upserter{store: s, locks: newKeyLock(), logger: log}
}

// Upsert writes records in batches of opts.BatchSize, up to opts.Concurrency
// records of a batch at a time. Cancellation is checked between batches; a
// batch that started always completes. A StorageError of kind unavailable
// stops the upsert and is returned with the counts reached so far.
func (u *Upserter) Upsert(ctx context.Context, records []store.JobRecord, opts Options) (Result, error) {
	opts = opts.withDefaults()

	var total Result
	for start := 0; start < len(records); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+opts.BatchSize, len(records))

		res, err := u.upsertBatch(ctx, records[start:end], opts.Concurrency)
		total.Counts.Add(res.Counts)
		total.Failures = append(total.Failures, res.Failures...)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (u *Upserter) upsertBatch(ctx context.Context, batch []store.JobRecord, concurrency int) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(concurrency)

	for i := range batch {
		rec := &batch[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := u.upsertOne(gctx, rec)
			if errors.IsStorageUnavailable(err) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeNew:
				res.New++
			case outcomeUpdated:
				res.Updated++
			case outcomeUnchanged:
				res.Unchanged++
			case outcomeFailed:
				res.Failed++
				res.Failures = append(res.Failures, Failure{Source: rec.Source, DedupKey: rec.DedupKey, Err: err})
			}
			return nil
		})
	}

	err := g.Wait()
	return res, err
}

// upsertOne decides insert, update or hit for rec under its key lock.
// A lost conditional write is re-read and re-decided once.
func (u *Upserter) upsertOne(ctx context.Context, rec *store.JobRecord) (outcome, error) {
	unlock := u.locks.Lock(rec.Key())
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		out, retry, err := u.write(ctx, rec)
		if err != nil && errors.IsStorageUnavailable(err) {
			return outcomeFailed, err
		}
		if !retry {
			if err != nil {
				return outcomeFailed, err
			}
			return out, nil
		}
		lastErr = err
		u.logger.Debugw("Record write conflict",
			logger.FieldSource, rec.Source,
			logger.FieldDedupKey, rec.DedupKey,
			logger.FieldAttempt, attempt)
	}

	if lastErr == nil {
		lastErr = &errors.StorageError{Kind: errors.StorageConflict, Op: "upsert", Key: rec.Source + "/" + rec.DedupKey}
	}
	return outcomeFailed, lastErr
}

// write performs one read-decide-write round. retry reports a lost race.
func (u *Upserter) write(ctx context.Context, rec *store.JobRecord) (out outcome, retry bool, err error) {
	existing, err := u.store.Get(ctx, rec.Source, rec.DedupKey)
	if err != nil && !errors.IsNotFoundError(err) {
		return outcomeFailed, errors.IsStorageConflict(err), err
	}

	if existing == nil {
		inserted, err := u.store.Insert(ctx, rec)
		if err != nil {
			return outcomeFailed, errors.IsStorageConflict(err), err
		}
		if !inserted {
			return outcomeFailed, true, nil
		}
		return outcomeNew, false, nil
	}

	if existing.Fingerprint == rec.Fingerprint || isStale(rec, existing) {
		if err := u.store.Touch(ctx, rec.Source, rec.DedupKey, rec.LastSeenAt); err != nil {
			if errors.IsStorageUnavailable(err) {
				return outcomeFailed, false, err
			}
			// The record is current; a missed last-seen refresh is not a failure
			u.logger.Warnw("Failed to refresh last seen",
				logger.FieldSource, rec.Source,
				logger.FieldDedupKey, rec.DedupKey,
				logger.FieldError, err)
		}
		return outcomeUnchanged, false, nil
	}

	next := *rec
	next.ID = existing.ID
	next.FirstSeenAt = existing.FirstSeenAt
	updated, err := u.store.Update(ctx, &next, existing.Fingerprint)
	if err != nil {
		return outcomeFailed, errors.IsStorageConflict(err), err
	}
	if !updated {
		return outcomeFailed, true, nil
	}
	return outcomeUpdated, false, nil
}

// isStale reports an incoming record older than the stored one. Both
// posted-at values must be known to compare.
func isStale(rec, existing *store.JobRecord) bool {
	if rec.PostedAt.IsZero() || existing.PostedAt.IsZero() {
		return false
	}
	return rec.PostedAt.Before(existing.PostedAt)
}
