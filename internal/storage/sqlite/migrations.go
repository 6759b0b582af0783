// Package sqlite - database migrations
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/untoldecay/EraDB/internal/storage/sqlite/migrations"
)

// Migration represents a single database migration
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations to run during
// database initialization. All migrations are idempotent.
var migrationsList = []Migration{
	{"catalog_indexes", migrations.MigrateCatalogIndexes},
	{"era_information_schema_view", migrations.MigrateEraInformationSchemaView},
	{"schema_version", migrations.MigrateSchemaVersion},
}

// MigrationInfo contains metadata about a migration for inspection
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListMigrations returns the list of all registered migrations with
// descriptions. All are idempotent, so this is the full set, not just the
// pending ones.
func ListMigrations() []MigrationInfo {
	result := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		result[i] = MigrationInfo{
			Name:        m.Name,
			Description: getMigrationDescription(m.Name),
		}
	}
	return result
}

func getMigrationDescription(name string) string {
	descriptions := map[string]string{
		"catalog_indexes":             "Adds covering indexes on the era catalog relations",
		"era_information_schema_view": "Adds the read-only periods view projecting eras in information-schema vocabulary",
		"schema_version":              "Records the catalog schema version in metadata",
	}
	if desc, ok := descriptions[name]; ok {
		return desc
	}
	return "Unknown migration"
}

// initSchema applies the base schema.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// runMigrations executes all registered migrations in order. Uses an
// EXCLUSIVE transaction to serialize migrations across processes opening
// the database simultaneously.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, migration := range migrationsList {
		if err := migration.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}
