package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema version constants
const (
	// SchemaVersion1 holds master keys, records and archive
	SchemaVersion1 = 1
	// SchemaVersion2 records the PBKDF2 iteration count per master key
	SchemaVersion2 = 2
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion2

	// legacyIterations is the iteration count of keys created before v2
	legacyIterations = 65536
)

// migrate creates missing tables and upgrades the schema to the current version.
func migrate(db *sqlx.DB) error {
	if err := createTables(db); err != nil {
		return fmt.Errorf("store: failed to create tables: %w", err)
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	if version < SchemaVersion2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("store: migration to v2 failed: %w", err)
		}
	}

	return nil
}

// createTables creates the v1 tables if they do not exist.
func createTables(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS master_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			salt BLOB NOT NULL,
			hash BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			user_name TEXT NOT NULL,
			password BLOB NOT NULL,
			iv BLOB NOT NULL,
			day INTEGER NOT NULL,
			month INTEGER NOT NULL,
			year INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS archive (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			start_day INTEGER NOT NULL,
			start_month INTEGER NOT NULL,
			start_year INTEGER NOT NULL,
			end_day INTEGER NOT NULL,
			end_month INTEGER NOT NULL,
			end_year INTEGER NOT NULL,
			password BLOB NOT NULL,
			iv BLOB NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_archive_record ON archive(record_id)")
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getSchemaVersion returns the stored schema version.
// Returns 1 if no version is stored.
func getSchemaVersion(db *sqlx.DB) (int, error) {
	var version int
	err := db.Get(&version, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrateToV2 adds the iterations column to master_keys. Existing keys were
// derived with the legacy iteration count.
func migrateToV2(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "master_keys")
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}

	if !columns["iterations"] {
		_, err = tx.Exec(fmt.Sprintf(
			"ALTER TABLE master_keys ADD COLUMN iterations INTEGER NOT NULL DEFAULT %d", legacyIterations))
		if err != nil {
			return fmt.Errorf("failed to add iterations column: %w", err)
		}
	}

	_, err = tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", SchemaVersion2)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// getTableColumns returns a set of column names for a table.
func getTableColumns(tx *sqlx.Tx, tableName string) (map[string]bool, error) {
	var cols []struct {
		CID     int            `db:"cid"`
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull int            `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	if err := tx.Select(&cols, fmt.Sprintf("PRAGMA table_info(%s)", tableName)); err != nil {
		return nil, err
	}

	columns := make(map[string]bool, len(cols))
	for _, c := range cols {
		columns[c.Name] = true
	}
	return columns, nil
}
