package store

import (
	"fmt"
	"time"
)

// migration is a versioned schema change. Versions are applied in order;
// version 1 is the baseline schema.
type migration struct {
	version    int
	statements []string
}

// migrations holds the full migration history. New schema changes are
// appended here with the next version number.
var migrations = []migration{
	{
		version:    1,
		statements: []string{schemaSQL},
	},
	{
		version: 2,
		statements: []string{
			"CREATE INDEX IF NOT EXISTS idx_tasks_device_status ON tasks(assigned_device, status)",
		},
	},
}

// applyMigrations brings the database schema up to the latest version.
// A backup snapshot is taken before any pending migration is applied to a
// file-based database that already has data.
func (s *Store) applyMigrations() error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	pending := false
	for _, m := range migrations {
		if m.version > current {
			pending = true
			break
		}
	}
	if !pending {
		return nil
	}

	if current > 0 && s.dbPath != ":memory:" {
		backupPath := fmt.Sprintf("%s.v%d.%s.bak", s.dbPath, current, time.Now().UTC().Format("20060102T150405"))
		if err := s.Backup(backupPath); err != nil {
			return fmt.Errorf("pre-migration backup: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// schemaVersion returns the highest applied schema version, 0 for a fresh
// database.
func (s *Store) schemaVersion() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the current schema version of the open database.
func (s *Store) SchemaVersion() (int, error) {
	return s.schemaVersion()
}
