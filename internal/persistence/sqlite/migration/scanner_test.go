package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScannerOrdersAndDescribesMigrations(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/002_add_index.sql":    {Data: []byte("CREATE INDEX idx ON t(a);")},
		"migrations/001_initial.sql":      {Data: []byte("-- Description: Initial tables\nCREATE TABLE t (a TEXT);")},
		"migrations/README.md":            {Data: []byte("ignored")},
		"migrations/nested/003_other.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := NewScanner(fsys, "migrations").Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected order: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "Initial tables" {
		t.Fatalf("expected description from comment, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Fatalf("expected description from filename, got %q", migrations[1].Description)
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Fatalf("expected distinct checksums")
	}
	if migrations[0].Path != "migrations/001_initial.sql" {
		t.Fatalf("unexpected path %q", migrations[0].Path)
	}
}

func TestScannerRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fsys fstest.MapFS
		want error
	}{
		{
			name: "bad name",
			fsys: fstest.MapFS{"m/initial.sql": {Data: []byte("SELECT 1;")}},
			want: ErrInvalidMigrationFile,
		},
		{
			name: "comment only",
			fsys: fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n")}},
			want: ErrInvalidMigrationFile,
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"m/001_a.sql": {Data: []byte("SELECT 1;")},
				"m/1_b.sql":   {Data: []byte("SELECT 2;")},
			},
			want: ErrDuplicateVersion,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewScanner(tt.fsys, "m").Scan()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var mErr *MigrationError
			if !errors.As(err, &mErr) {
				t.Fatalf("expected MigrationError, got %T", err)
			}
		})
	}
}

func TestSplitStatementsDropsComments(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (x INTEGER);\n\n-- trailing comment\nCREATE TABLE b (y TEXT);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INTEGER)" || got[1] != "CREATE TABLE b (y TEXT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}
