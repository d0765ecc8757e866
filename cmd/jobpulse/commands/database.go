package commands

import (
	"database/sql"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// loadConfig loads the merged configuration (defaults, files, environment)
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the database at cfg.Database.Path.
// An override path wins over the config.
func openDatabase(cfg *am.Config, override string) (*sql.DB, string, error) {
	dbPath := cfg.Database.Path
	if override != "" {
		dbPath = override
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, dbPath, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, dbPath, nil
}
