package main

import (
	"errors"
	"os"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/config"
	"parkingbolid/pkg/store"
)

// initStore opens the preference store and makes sure the upload base
// exists. Without a DSN preferences live in memory for the process lifetime.
func initStore(cfg *config.Config, log zerolog.Logger) (store.Store, func(), error) {
	st, closeFn, err := store.Connect(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	ensureUploadBase(cfg.Upload.Dir, log)
	return st, closeFn, nil
}

// runMigrations creates the preference table and returns.
func runMigrations(cfg config.DatabaseConfig) error {
	if cfg.DSN == "" {
		return errors.New("database.dsn is not set; migrations need a Postgres DSN")
	}
	db, err := store.Open(cfg.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return store.Migrate(db)
}

func ensureUploadBase(dir string, log zerolog.Logger) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to create upload base dir")
	}
}
