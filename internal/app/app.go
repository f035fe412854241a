// Package app wires together configuration, the run store, and logging
// into a single Deps struct that commands receive at runtime.
package app

import (
	"fmt"
	"log/slog"

	"github.com/derickschaefer/cicqte/internal/config"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/store"
	"github.com/derickschaefer/cicqte/internal/util"
)

// Deps holds all runtime dependencies injected into command Run functions.
// The store is opened on first use so commands that never touch it do not
// take the database lock.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	store *store.Store
}

// New builds a Deps from resolved config. A nil logger uses slog.Default.
func New(cfg *config.Config, logger *slog.Logger) *Deps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deps{Config: cfg, Logger: logger}
}

// Store opens the run store at Config.DBPath on first call.
func (d *Deps) Store() (*store.Store, error) {
	if d.store != nil {
		return d.store, nil
	}
	if d.Config.DBPath == "" {
		return nil, fmt.Errorf("no database path configured (set db_path in config.json or CICQTE_DB_PATH)")
	}
	s, err := store.Open(d.Config.DBPath)
	if err != nil {
		return nil, err
	}
	d.Logger.Debug("store opened", "path", d.Config.DBPath)
	d.store = s
	return s, nil
}

// NewCollector returns a warning collector that logs through d.Logger.
func (d *Deps) NewCollector() *diag.Collector {
	return diag.NewCollector(d.Logger)
}

// Close releases everything Deps opened.
func (d *Deps) Close() error {
	var errs util.MultiError
	if d.store != nil {
		errs.Add(d.store.Close())
		d.store = nil
	}
	return errs.Err()
}
