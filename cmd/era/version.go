package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/untoldecay/EraDB/internal/config"
	"github.com/untoldecay/EraDB/internal/storage/sqlite/migrations"
	"github.com/untoldecay/EraDB/internal/ui"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and schema compatibility",
	RunE:  runVersion,
}

func runVersion(_ *cobra.Command, _ []string) error {
	fmt.Printf("era %s (catalog schema %s)\n", Version, migrations.SchemaVersion)

	// Compare against the opened database's recorded schema version, when a
	// database exists, and warn when the database schema is newer than this
	// binary's.
	path := config.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	store, err := openStore(rootCtx)
	if err != nil {
		return nil
	}
	defer store.Close()

	dbVersion, err := store.GetMetadata(rootCtx, "schema_version")
	if err != nil || dbVersion == "" {
		return nil
	}
	if semver.Compare("v"+dbVersion, "v"+migrations.SchemaVersion) > 0 {
		fmt.Fprintf(os.Stderr, "%s database schema %s is newer than this binary; upgrade era\n",
			ui.RenderWarn("⚠"), dbVersion)
	}
	return nil
}
