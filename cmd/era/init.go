package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/storage/sqlite"
	"github.com/untoldecay/EraDB/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an era database in the current project",
	Long: `Initialize an era database.

Creates .era/era.db (or the path given with --db) with the catalog schema
and a default config file. Safe to re-run: migrations are idempotent.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := dbPath
	if path == "" {
		path = filepath.Join(".era", "era.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	store, err := sqlite.New(rootCtx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	configPath := filepath.Join(filepath.Dir(path), "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := "# era configuration\n# db: " + path + "\n"
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	fmt.Printf("%s Initialized era database at %s\n", ui.RenderPass("✓"), path)
	return nil
}
