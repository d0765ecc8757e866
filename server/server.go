// Package server wires the import pipeline together and exposes it over REST.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/ingest/normalize"
	"github.com/teranos/jobpulse/ingest/run"
	"github.com/teranos/jobpulse/ingest/source"
	"github.com/teranos/jobpulse/ingest/store"
	"github.com/teranos/jobpulse/ingest/upsert"
	"github.com/teranos/jobpulse/internal/httpclient"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/pulse/limit"
	"github.com/teranos/jobpulse/pulse/schedule"
)

// ServerState is the lifecycle phase of the server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

// Server owns every long-lived component of a jobpulse process
type Server struct {
	cfg     *am.Config
	db      *sql.DB
	records store.Store
	logs    *importlog.Store
	catalog *run.Catalog

	queue     *async.Queue
	daemon    *async.WorkerPool
	scheduler *schedule.Scheduler

	configWatcher *am.ConfigWatcher // nil unless WatchConfig was called
	router        chi.Router
	httpServer    *http.Server
	logger        *zap.SugaredLogger

	ctx       context.Context
	cancel    context.CancelFunc
	state     atomic.Int32
	startedAt time.Time
}

// New builds the pipeline over database: record store, fetchers, orchestrator,
// queue, worker pool and scheduler. Nothing runs until Start.
func New(cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.AssertionFailedf("server requires a config")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())

	records, err := store.Open(ctx, cfg.Records, database)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open record store")
	}

	client := httpclient.NewSaferClient(httpclient.Options{
		UserAgent:         cfg.Fetch.UserAgent,
		MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
		AllowPrivateHosts: cfg.Fetch.AllowPrivateHosts,
	})
	fetcher := source.NewHTTPFetcher(client, limit.NewHostLimiter(cfg.Fetch.RequestsPerMinute))

	logs := importlog.NewStore(database)
	catalog := run.CatalogFromAM(cfg)
	orchestrator := run.NewOrchestrator(catalog, source.NewDefaultRegistry(fetcher), normalize.New(),
		upsert.New(records, log.Named("upsert")), logs, log.Named("run"))

	queue := async.NewQueue(database, async.QueueConfig{
		MaxPending:  cfg.Pulse.MaxPending,
		MaxAttempts: cfg.Pulse.MaxAttempts,
		Backoff: async.Backoff{
			Base: time.Duration(cfg.Pulse.BackoffBaseSeconds) * time.Second,
			Max:  time.Duration(cfg.Pulse.BackoffMaxSeconds) * time.Second,
		},
		DefaultConcurrency: cfg.Import.DefaultConcurrency,
		DefaultBatchSize:   cfg.Import.DefaultBatchSize,
	}, log.Named("queue"))

	daemon := async.NewWorkerPool(ctx, queue, orchestrator, async.WorkerPoolConfig{
		Workers:      cfg.Pulse.Workers,
		PollInterval: time.Duration(cfg.Pulse.PollIntervalMS) * time.Millisecond,
		StopTimeout:  shutdownTimeout(cfg),
	}, log)

	scheduler := schedule.NewScheduler(queue, schedule.Config{
		Interval:    cfg.ImportInterval(),
		Priority:    cfg.Import.DefaultPriority,
		Concurrency: cfg.Import.DefaultConcurrency,
		BatchSize:   cfg.Import.DefaultBatchSize,
		Retention:   time.Duration(cfg.Import.RetentionDays) * 24 * time.Hour,
	}, log.Named("schedule"), queue.Store(), logs)

	s := &Server{
		cfg:       cfg,
		db:        database,
		records:   records,
		logs:      logs,
		catalog:   catalog,
		queue:     queue,
		daemon:    daemon,
		scheduler: scheduler,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
	}
	s.state.Store(int32(ServerStateStopped))
	s.router = s.routes()
	return s, nil
}

// Handler returns the REST API handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Scheduler returns the import scheduler
func (s *Server) Scheduler() *schedule.Scheduler {
	return s.scheduler
}

// Queue returns the import job queue
func (s *Server) Queue() *async.Queue {
	return s.queue
}

func shutdownTimeout(cfg *am.Config) time.Duration {
	if cfg.Server.ShutdownTimeoutSeconds > 0 {
		return time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}
