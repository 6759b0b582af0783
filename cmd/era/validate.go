package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/config"
	"github.com/untoldecay/EraDB/internal/debug"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-check every temporal integrity invariant",
	Long: `Re-check every temporal integrity invariant against current data:

  - non-overlap for every temporal unique key
  - gap-free coverage for every temporal foreign key
  - catalog-object correspondence (backing triggers and indexes exist)

Exits non-zero when any violation is found.`,
	RunE: runValidate,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-validate whenever the database changes",
	Long: `Watch the database file and re-run validation whenever it changes.

Events are debounced (watch.debounce, default 2s) so a burst of writes
triggers one validation pass. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func runValidate(_ *cobra.Command, _ []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	violations, err := store.Validate(rootCtx)
	if err != nil {
		return err
	}
	if jsonOutput {
		if violations == nil {
			violations = []storage.Violation{}
		}
		return json.NewEncoder(os.Stdout).Encode(violations)
	}
	if len(violations) == 0 {
		fmt.Printf("%s All temporal invariants hold.\n", ui.RenderPass("✓"))
		return nil
	}
	fmt.Println(ui.RenderViolations(violations))
	return fmt.Errorf("%d integrity violations", len(violations))
}

func runWatch(_ *cobra.Command, _ []string) error {
	path := config.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no era database at %s (run 'era init' first)", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: SQLite rewrites via WAL files and
	// some editors replace files, which drops file-level watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	debounce := config.GetDuration("watch.debounce")
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	fmt.Printf("Watching %s (debounce %s). Ctrl-C to stop.\n", path, debounce)
	runOnce := func() {
		store, err := openStore(rootCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			return
		}
		defer store.Close()
		violations, err := store.Validate(rootCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			return
		}
		stamp := time.Now().Format("15:04:05")
		if len(violations) == 0 {
			fmt.Printf("[%s] %s all invariants hold\n", stamp, ui.RenderPass("✓"))
			return
		}
		fmt.Printf("[%s] %s %d violations\n", stamp, ui.RenderFail("✗"), len(violations))
		fmt.Println(ui.RenderViolations(violations))
	}
	runOnce()

	var timer *time.Timer
	for {
		select {
		case <-rootCtx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debug.Logf("Debug: fs event %s\n", ev)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, runOnce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
