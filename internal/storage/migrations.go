package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version. The major
	// and minor also appear in the on-disk directory name ("sql-1.0"); a
	// schema change increments both and abandons the older directory.
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- File fingerprints: one row per indexed container file
CREATE TABLE IF NOT EXISTS file_checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL UNIQUE,
    timestamp INTEGER NOT NULL  -- mtime at indexing, epoch milliseconds
);

CREATE INDEX IF NOT EXISTS idx_file_checks_filename ON file_checks(filename);

-- Symbol records. descriptor and internal use '' for "absent" so the
-- unique triple actually deduplicates (SQLite treats NULLs as distinct
-- in unique indexes).
CREATE TABLE IF NOT EXISTS fqn_symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file TEXT NOT NULL,
    entry TEXT NOT NULL,
    fqn TEXT NOT NULL,
    descriptor TEXT NOT NULL DEFAULT '',
    internal TEXT NOT NULL DEFAULT '',
    source TEXT,
    line INTEGER,
    offset INTEGER
);

CREATE INDEX IF NOT EXISTS idx_fqn_symbols_fqn ON fqn_symbols(fqn);
CREATE INDEX IF NOT EXISTS idx_fqn_symbols_file ON fqn_symbols(file);
CREATE UNIQUE INDEX IF NOT EXISTS idx_fqn_symbols_unique
    ON fqn_symbols(fqn, descriptor, internal);
`

const migrationV1Down = `
DROP TABLE IF EXISTS fqn_symbols;
DROP TABLE IF EXISTS file_checks;
DROP TABLE IF EXISTS schema_version;
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	} else {
		var currentVersionStr string
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersionStr)
		if err == sql.ErrNoRows || currentVersionStr == "" {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		} else {
			currentVersion, err = semver.NewVersion(currentVersionStr)
			if err != nil {
				return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
			}
		}
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		_, err = db.ExecContext(ctx, migration.Up)
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}
