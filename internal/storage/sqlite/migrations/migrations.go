// Package migrations contains the individual schema migrations, one
// exported function per migration, applied in the order registered by the
// parent package.
package migrations

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current catalog schema version recorded in metadata.
// Bump when a migration changes the catalog shape.
const SchemaVersion = "1.0.0"

// MigrateCatalogIndexes adds covering indexes on the catalog relations.
// Idempotent.
func MigrateCatalogIndexes(db *sql.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_era_unique_keys_era ON era_unique_keys(table_name, era_name)`,
		`CREATE INDEX IF NOT EXISTS idx_era_foreign_keys_era ON era_foreign_keys(table_name, era_name)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create catalog index: %w", err)
		}
	}
	return nil
}

// MigrateEraInformationSchemaView adds the read-only view projecting eras
// in standard information-schema vocabulary. Idempotent (dropped and
// recreated so later catalog columns show up).
func MigrateEraInformationSchemaView(db *sql.DB) error {
	if _, err := db.Exec(`DROP VIEW IF EXISTS era__periods`); err != nil {
		return fmt.Errorf("failed to drop periods view: %w", err)
	}
	_, err := db.Exec(`
		CREATE VIEW era__periods AS
		SELECT
			table_name,
			era_name AS period_name,
			from_column AS start_column_name,
			until_column AS end_column_name,
			value_kind AS data_type
		FROM era_periods`)
	if err != nil {
		return fmt.Errorf("failed to create periods view: %w", err)
	}
	return nil
}

// MigrateSchemaVersion records the catalog schema version.
func MigrateSchemaVersion(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
