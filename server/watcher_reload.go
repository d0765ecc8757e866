package server

import (
	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// WatchConfig hot-reloads the scheduler interval and the source list when
// configPath changes. Other settings need a restart.
func (s *Server) WatchConfig(configPath string) error {
	watcher, err := am.NewConfigWatcher(configPath, s.logger.Named("config"))
	if err != nil {
		return errors.Wrap(err, "failed to watch config")
	}
	watcher.OnReload(s.applyReload)
	s.configWatcher = watcher
	return nil
}

// applyReload pushes the reloadable parts of cfg into running components
func (s *Server) applyReload(cfg *am.Config) error {
	s.scheduler.SetInterval(cfg.ImportInterval())
	s.catalog.Reload(cfg)
	logger.AddPulseSymbol(s.logger).Infow("Applied config reload",
		"interval", cfg.ImportInterval(),
		logger.FieldCount, len(s.catalog.Names()))
	return nil
}
