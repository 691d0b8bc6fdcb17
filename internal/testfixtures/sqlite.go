package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/classroom-booking/internal/persistence"
	"github.com/example/classroom-booking/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a temporary SQLite
// store. Path is exposed so tests can open a second handle on the same file,
// the way a second client process would.
type SQLiteHarness struct {
	Sessions persistence.SessionRepository
	History  persistence.HistoryRepository
	Meta     persistence.MetaRepository
	Path     string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "client.db")
	storage := OpenSQLite(tb, path)

	harness := &SQLiteHarness{
		Sessions: storage,
		History:  storage,
		Meta:     storage,
		Path:     path,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// OpenSQLite opens and migrates the store at path and closes it on cleanup.
func OpenSQLite(tb testing.TB, path string) *sqlite.Storage {
	tb.Helper()

	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })
	return storage
}
