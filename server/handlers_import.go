package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/pulse/schedule"
	"github.com/teranos/jobpulse/version"
)

// maxStatsDays bounds the ?days window of /api/import/stats
const maxStatsDays = 3650

// TriggerResponse is returned by POST /api/import/trigger
type TriggerResponse struct {
	JobID string `json:"jobId"`
}

// StatusResponse is returned by GET /api/import/status
type StatusResponse struct {
	Queue     async.QueueStats    `json:"queue"`
	Scheduler schedule.Status     `json:"scheduler"`
	System    async.SystemMetrics `json:"system"`
	Sources   []string            `json:"sources"`
	Timestamp time.Time           `json:"timestamp"`
}

// handleTrigger submits an import job for the requested sources, or all of them
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var opts async.TriggerOptions
	if err := readJSON(w, r, &opts); err != nil {
		writeErr(w, s.logger, err)
		return
	}
	if opts.TriggerType == "" {
		opts.TriggerType = async.TriggerManual
	}

	if len(opts.Sources) > 0 {
		names := make([]string, 0, len(opts.Sources))
		for _, name := range opts.Sources {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		known, unknown := s.catalog.Resolve(names)
		if len(known) == 0 {
			err := errors.Wrapf(errors.ErrInvalidRequest, "no configured source named %v", unknown)
			writeErr(w, s.logger, errors.WithHint(err, "GET /api/import/status lists configured sources"))
			return
		}
	}

	ticket, err := s.scheduler.Trigger(r.Context(), opts)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}

	logger.FromContext(r.Context(), logger.AddPulseSymbol(s.logger)).Infow("Import submitted over API",
		logger.FieldJobID, shortID(ticket.ID()),
		logger.FieldPriority, opts.Priority)
	writeData(w, http.StatusOK, TriggerResponse{JobID: ticket.ID()})
}

// handleStatus reports queue counts, scheduler state and host metrics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, StatusResponse{
		Queue:     s.queue.Stats(),
		Scheduler: s.scheduler.Status(),
		System:    s.daemon.GetSystemMetrics(),
		Sources:   s.catalog.Names(),
		Timestamp: time.Now().UTC(),
	})
}

// handleStats aggregates finalized import logs, optionally over the last ?days
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntQueryParam(r, "days", 0, 0, maxStatsDays)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}

	var q importlog.StatsQuery
	if days > 0 {
		since := time.Now().UTC().AddDate(0, 0, -days)
		q.Since = &since
	}

	stats, err := s.logs.Stats(r.Context(), q)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// handleListLogs returns one page of import log entries
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q, err := importlog.ParseListQuery(r.URL.Query())
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}

	page, err := s.logs.List(r.Context(), q)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// handleGetLog returns a single import log entry
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := s.logs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

// handleHealth reports whether the process can serve traffic
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.getState()
	if state == ServerStateDraining {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Warnw("Health check database ping failed", logger.FieldError, err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"state":          stateString(state),
		"version":        version.Get().Version,
		"uptimeSeconds":  int64(time.Since(s.startedAt).Seconds()),
		"workersRunning": s.daemon.IsRunning(),
	})
}
