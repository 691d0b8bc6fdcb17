// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files are read from an fs.FS, usually an embedded directory, and
// follow the naming convention {version}_{description}.sql (for example
// "001_client_state.sql"). Applied versions are tracked in a
// schema_migrations table together with the file checksum, so a file edited
// after it was applied is reported instead of silently skipped.
//
// Example usage:
//
//	manager := migration.NewManager(db, migration.NewScanner(files, "migrations"), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
