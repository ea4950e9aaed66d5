package store

import (
	"github.com/rs/zerolog"

	"parkingbolid/pkg/config"
)

// Connect returns the Postgres-backed store when a DSN is configured and the
// in-memory store otherwise. The returned func closes the connection.
func Connect(cfg config.DatabaseConfig, log zerolog.Logger) (Store, func(), error) {
	if cfg.DSN == "" {
		log.Info().Msg("no database configured, keeping preferences in memory")
		return NewMemory(), func() {}, nil
	}
	db, err := Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		// permission errors are logged and ignored
		if err := Migrate(db); err != nil {
			log.Warn().Err(err).Msg("migration warning (preferences)")
		}
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return NewGormStore(db), closeFn, nil
}
