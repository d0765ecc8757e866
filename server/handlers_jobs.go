package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/async"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// handleListJobs lists import jobs, newest first, optionally filtered by ?state
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}

	jobs, err := s.queue.List(r.Context(), async.JobState(r.URL.Query().Get("state")), limit)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	if jobs == nil {
		jobs = []*async.ImportJob{}
	}
	writeData(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// handleGetJob returns one import job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or running job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queue.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, s.logger, err)
		return
	}
	logger.AddPulseSymbol(s.logger).Infow("Job cancelled over API",
		logger.FieldJobID, shortID(id),
		logger.FieldState, job.State)
	writeData(w, http.StatusOK, job)
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Start(); err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Stop(); err != nil {
		writeErr(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if s.queue.IsPaused() {
		writeErr(w, s.logger, errors.Wrap(errors.ErrConflict, "queue is already paused"))
		return
	}
	s.queue.Pause()
	writeData(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if !s.queue.IsPaused() {
		writeErr(w, s.logger, errors.Wrap(errors.ErrConflict, "queue is not paused"))
		return
	}
	s.queue.Resume()
	writeData(w, http.StatusOK, s.queue.Stats())
}
