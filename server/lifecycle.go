package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/sym"
)

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// startBackgroundServices starts the worker pool, the scheduler (when
// import.auto_start is set) and the config watcher
func (s *Server) startBackgroundServices() error {
	if err := s.daemon.Start(); err != nil {
		return errors.Wrap(err, "failed to start worker pool")
	}
	s.logger.Infow("Daemon started", logger.FieldWorkers, s.daemon.Workers())

	if s.cfg.Import.AutoStart {
		if err := s.scheduler.Start(); err != nil {
			return errors.Wrap(err, "failed to start scheduler")
		}
		s.logger.Infow(fmt.Sprintf("%s Import scheduler started", sym.Pulse), "interval", s.cfg.ImportInterval())
	} else {
		s.logger.Infow("Import scheduler not started (import.auto_start = false)")
	}

	if s.configWatcher != nil {
		s.configWatcher.Start()
	}
	return nil
}

// Start runs background services and serves the API until Stop is called.
// Returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.ServerPort()))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		err = errors.Wrapf(err, "failed to listen on %s", addr)
		return errors.WithHint(err, "set server.port or JOBPULSE_SERVER_PORT to a free port")
	}
	return s.Serve(listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(listener net.Listener) error {
	if err := s.startBackgroundServices(); err != nil {
		listener.Close()
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.setState(ServerStateRunning)
	s.logger.Infow("Server ready", logger.FieldAddress, listener.Addr().String())

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains HTTP traffic, stops the scheduler and workers, then closes the
// record store. In-flight jobs return to pending for the next process.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP shutdown incomplete", "error", err)
			firstErr = err
		}
	}

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", "error", err)
		}
	}

	if s.scheduler.IsActive() {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Warnw("Failed to stop scheduler", "error", err)
		}
	}

	s.daemon.Stop()
	s.queue.Shutdown()
	s.cancel()

	if err := s.records.Close(); err != nil {
		s.logger.Warnw("Failed to close record store", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")
	return firstErr
}
