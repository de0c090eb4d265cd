package database

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"punch-chat/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies every embedded .sql file in name order. The files
// are written to be idempotent, so this runs on every boot.
func (db *PostgresDB) RunMigrations(ctx context.Context) error {
	names, err := migrationFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := db.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("migration.applied", "file", name)
	}
	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
