// Package main implements the era CLI for bitemporal table management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/config"
	"github.com/untoldecay/EraDB/internal/debug"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/storage/sqlite"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	rootCtx context.Context

	// Global flags
	dbPath     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "era",
	Short: "Bitemporal table management",
	Long: `era manages application-time periods on ordinary tables: named eras,
temporal unique keys enforced by exclusion, temporal foreign keys validated
by gap-free coverage, and a set-based temporal merge that understands
time-slicing, coalescing, and history preservation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			config.Set("db", dbPath)
		}
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		jsonOutput = config.GetBool("json")
		if logFile := config.GetString("log.file"); logFile != "" {
			debug.SetLogFile(logFile, config.GetInt("log.max-size-mb"), config.GetInt("log.max-backups"))
		}
		return nil
	},
}

// openStore opens the project database, failing when it does not exist.
// Commands that create the database (init) bypass this.
func openStore(ctx context.Context) (storage.Storage, error) {
	path := config.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no era database at %s (run 'era init' first)", path)
	}
	debug.Logf("Debug: opening database %s\n", path)
	return sqlite.New(ctx, path)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the era database")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(eraCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(fkCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(ddlCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
