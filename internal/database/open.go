package database

import (
	"context"
	"strings"

	"punch-chat/internal/config"
	"punch-chat/pkg/logger"
)

const memoryScheme = "memory://"

// Open returns the store selected by cfg.URL and applies migrations to Postgres.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	if strings.HasPrefix(cfg.URL, memoryScheme) {
		logger.Warn("db.memory", "msg", "using in-process store, data is lost on exit")
		return NewMemoryDB(), nil
	}

	db, err := NewPostgresDB(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
