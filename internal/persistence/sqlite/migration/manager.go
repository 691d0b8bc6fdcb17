package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// Manager brings a database up to the newest migration.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager constructs a Manager. A nil logger discards output.
func NewManager(db *sql.DB, scanner *Scanner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		scanner:  scanner,
		executor: NewExecutor(db),
		logger:   logger.With("component", "migration"),
	}
}

// Run applies every pending migration in version order and stops at the
// first failure.
func (m *Manager) Run(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "from_version", status.CurrentVersion, "pending", len(status.Pending))
	for _, migration := range status.Pending {
		if err := m.executor.Apply(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "path", migration.Path, "error", err)
			return err
		}
		m.logger.InfoContext(ctx, "migration applied", "version", migration.Version, "description", migration.Description)
	}
	return nil
}

// Status compares the files with the version table. It fails when the
// sequence has gaps, when an applied version has no file or when an applied
// file changed.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	if err := validateSequence(available); err != nil {
		return Status{}, err
	}

	byVersion := make(map[int]Migration, len(available))
	for _, migration := range available {
		byVersion[migration.Version] = migration
	}

	status := Status{Applied: applied}
	appliedSet := make(map[int]bool, len(applied))
	for _, row := range applied {
		migration, ok := byVersion[row.Version]
		if !ok {
			return Status{}, fmt.Errorf("%w: applied migration %03d has no file", ErrVersionConflict, row.Version)
		}
		if row.Checksum != "" && row.Checksum != migration.Checksum {
			return Status{}, newMigrationError(row.Version, migration.Path, "verify checksum", ErrChecksumMismatch)
		}
		appliedSet[row.Version] = true
		status.CurrentVersion = max(status.CurrentVersion, row.Version)
	}
	for _, migration := range available {
		if !appliedSet[migration.Version] {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

func validateSequence(available []Migration) error {
	for i := 1; i < len(available); i++ {
		if available[i].Version != available[i-1].Version+1 {
			return fmt.Errorf("%w: missing migration version %03d", ErrVersionConflict, available[i-1].Version+1)
		}
	}
	return nil
}
