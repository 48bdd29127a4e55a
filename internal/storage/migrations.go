// internal/storage/migrations.go
package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// RunMigrations applies the embedded migrations for dialect ("postgres" or
// "sqlite3") to db.
func RunMigrations(db *sql.DB, dialect string, logger *slog.Logger) error {
	const op = "storage.RunMigrations"

	dir := "migrations/postgres"
	if dialect == "sqlite3" {
		dir = "migrations/sqlite"
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.Up(db, dir); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			logger.Info("no migrations to apply", slog.String("dialect", dialect))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("database migrations applied", slog.String("dialect", dialect))
	return nil
}

// OpenPostgresSQL opens a database/sql handle through lib/pq. The migrate
// command uses it so schema changes can run without the pgx pool.
func OpenPostgresSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPostgresSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.OpenPostgresSQL: %w", err)
	}
	return db, nil
}
