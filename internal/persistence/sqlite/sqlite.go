// Package sqlite stores the client's durable state in a local SQLite file
// that several client processes on the same machine may share.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/classroom-booking/internal/persistence"
	"github.com/example/classroom-booking/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var (
	_ persistence.SessionRepository = (*Storage)(nil)
	_ persistence.HistoryRepository = (*Storage)(nil)
	_ persistence.MetaRepository    = (*Storage)(nil)
)

// Storage implements the persistence repositories on one SQLite database.
type Storage struct {
	db     *sql.DB
	mapper *ErrorMapper
	retry  *RetryHelper
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating when needed) the database at path with the default
// configuration.
func Open(path string) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(path), nil)
}

// OpenWithConfig opens the database described by config. A nil logger
// discards output.
func OpenWithConfig(config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	db, err := migration.Open(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Storage{
		db:     db,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
		logger: logger.With("component", "sqlite"),
		now:    time.Now,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(s.db, migration.NewScanner(migrationFiles, "migrations"), s.logger)
	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("migrate client store: %w", err)
	}
	return nil
}

// SchemaStatus reports applied and pending migrations.
func (s *Storage) SchemaStatus(ctx context.Context) (migration.Status, error) {
	return migration.NewManager(s.db, migration.NewScanner(migrationFiles, "migrations"), s.logger).Status(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
