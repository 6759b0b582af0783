package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/config"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/types"
	"github.com/untoldecay/EraDB/internal/ui"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <target-table>",
	Short: "Run a set-based temporal merge",
	Long: `Run a set-based temporal merge into a target table.

The source batch comes from a JSONL file (--source, one object per line),
from a staging table (--source-table), or from a saved TOML recipe
(--recipe) that bundles the whole call. The planner slices the affected
timelines into atomic segments, resolves each segment's payload according
to the mode, coalesces equal neighbors, and emits a DELETE/UPDATE/INSERT
plan that is applied atomically.

Modes:
  MERGE_ENTITY_UPSERT     patch overlapping slices, insert missing entities
  MERGE_ENTITY_PATCH      same as UPSERT
  MERGE_ENTITY_REPLACE    replace overlapping slices, insert missing entities
  UPDATE_FOR_PORTION_OF   surgical patch on the source time slice only
  PATCH_FOR_PORTION_OF    surgical patch on the source time slice only
  REPLACE_FOR_PORTION_OF  surgical replace on the source time slice only
  DELETE_FOR_PORTION_OF   carve the source time slice out of the timeline
  INSERT_NEW_ENTITIES     insert entities that do not exist yet

Use --from/--until to restrict every source row to one slice; values accept
natural language ("today", "next monday") as well as literals.

Examples:
  era merge prices --source prices.jsonl --id-columns id
  era merge prices --source prices.jsonl --id-columns id --mode DELETE_FOR_PORTION_OF
  era merge prices --recipe nightly-prices.toml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMerge,
}

// mergeRecipe is the TOML shape of a saved merge configuration.
type mergeRecipe struct {
	Target           string   `toml:"target"`
	Source           string   `toml:"source"`       // JSONL path
	SourceTable      string   `toml:"source_table"` // staging table
	IDColumns        []string `toml:"id_columns"`
	Mode             string   `toml:"mode"`
	DeleteMode       string   `toml:"delete_mode"`
	EphemeralColumns []string `toml:"ephemeral_columns"`
	EraName          string   `toml:"era"`
	SourceRowID      string   `toml:"source_row_id_column"`
	FoundingID       string   `toml:"founding_id_column"`
	UpdateSource     bool     `toml:"update_source_with_assigned_ids"`
}

func init() {
	mergeCmd.Flags().String("source", "", "JSONL file with one source row per line")
	mergeCmd.Flags().String("source-table", "", "staging table holding the source batch")
	mergeCmd.Flags().String("recipe", "", "TOML recipe bundling the merge call")
	mergeCmd.Flags().String("id-columns", "", "comma-separated entity identity columns")
	mergeCmd.Flags().String("mode", "", "merge mode (defaults to merge.default-mode)")
	mergeCmd.Flags().String("delete-mode", "NONE", "delete mode")
	mergeCmd.Flags().String("ephemeral", "", "comma-separated ephemeral columns")
	mergeCmd.Flags().String("era", "", "era name (default \"valid\")")
	mergeCmd.Flags().String("source-row-id", "", "source row identity column")
	mergeCmd.Flags().String("founding-id", "", "founding id column grouping new entities")
	mergeCmd.Flags().Bool("update-source", false, "back-fill assigned ids into the staging table")
	mergeCmd.Flags().String("from", "", "restrict every source row's slice start (natural language ok)")
	mergeCmd.Flags().String("until", "", "restrict every source row's slice end (natural language ok)")
}

func runMerge(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	req, sourcePath, err := buildMergeRequest(cmd, args)
	if err != nil {
		return err
	}

	if sourcePath != "" {
		rows, err := readJSONLSource(sourcePath)
		if err != nil {
			return err
		}
		req.Source = rows
	}
	if len(req.Source) == 0 && req.SourceTable == "" {
		return fmt.Errorf("a source is required (--source, --source-table, or a recipe)")
	}

	fromOverride, _ := cmd.Flags().GetString("from")
	untilOverride, _ := cmd.Flags().GetString("until")
	if fromOverride != "" || untilOverride != "" {
		if err := applySliceOverride(store, &req, fromOverride, untilOverride); err != nil {
			return err
		}
	}

	feedback, err := store.TemporalMerge(rootCtx, req)
	if err != nil {
		if len(feedback) > 0 && !jsonOutput {
			fmt.Fprintln(os.Stderr, ui.RenderFeedback(feedback))
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(feedback)
	}
	fmt.Println(ui.RenderFeedback(feedback))
	return nil
}

// buildMergeRequest merges recipe values and flags; flags win.
func buildMergeRequest(cmd *cobra.Command, args []string) (storage.TemporalMergeRequest, string, error) {
	var req storage.TemporalMergeRequest
	sourcePath := ""

	if recipePath, _ := cmd.Flags().GetString("recipe"); recipePath != "" {
		var recipe mergeRecipe
		if _, err := toml.DecodeFile(recipePath, &recipe); err != nil {
			return req, "", fmt.Errorf("failed to read recipe %s: %w", recipePath, err)
		}
		req.Target = recipe.Target
		req.SourceTable = recipe.SourceTable
		req.IDColumns = recipe.IDColumns
		req.Mode = types.MergeMode(recipe.Mode)
		if recipe.DeleteMode != "" {
			req.DeleteMode = types.DeleteMode(recipe.DeleteMode)
		}
		req.EphemeralColumns = recipe.EphemeralColumns
		req.EraName = recipe.EraName
		req.SourceRowIDColumn = recipe.SourceRowID
		req.FoundingIDColumn = recipe.FoundingID
		req.UpdateSourceWithAssignedIDs = recipe.UpdateSource
		sourcePath = recipe.Source
	}

	if len(args) > 0 {
		req.Target = args[0]
	}
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		sourcePath = v
	}
	if v, _ := cmd.Flags().GetString("source-table"); v != "" {
		req.SourceTable = v
	}
	if v, _ := cmd.Flags().GetString("id-columns"); v != "" {
		req.IDColumns = splitColumns(v)
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		req.Mode = types.MergeMode(strings.ToUpper(v))
	}
	if req.Mode == "" {
		req.Mode = types.MergeMode(config.GetString("merge.default-mode"))
	}
	if v, _ := cmd.Flags().GetString("delete-mode"); v != "" && cmd.Flags().Changed("delete-mode") {
		req.DeleteMode = types.DeleteMode(strings.ToUpper(v))
	}
	if req.DeleteMode == "" {
		req.DeleteMode = types.DeleteNone
	}
	if v, _ := cmd.Flags().GetString("ephemeral"); v != "" {
		req.EphemeralColumns = splitColumns(v)
	}
	if v, _ := cmd.Flags().GetString("era"); v != "" {
		req.EraName = v
	}
	if v, _ := cmd.Flags().GetString("source-row-id"); v != "" {
		req.SourceRowIDColumn = v
	}
	if v, _ := cmd.Flags().GetString("founding-id"); v != "" {
		req.FoundingIDColumn = v
	}
	if v, _ := cmd.Flags().GetBool("update-source"); v {
		req.UpdateSourceWithAssignedIDs = true
	}
	return req, sourcePath, nil
}

// readJSONLSource reads one JSON object per line.
func readJSONLSource(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", path, err)
	}
	defer f.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// applySliceOverride stamps --from/--until onto every in-memory source row.
func applySliceOverride(store storage.Storage, req *storage.TemporalMergeRequest, fromStr, untilStr string) error {
	if req.SourceTable != "" {
		return fmt.Errorf("--from/--until apply to file sources only, not staging tables")
	}
	eras, err := store.ListEras(rootCtx)
	if err != nil {
		return err
	}
	eraName := req.EraName
	if eraName == "" {
		eraName = types.DefaultEraName
	}
	var era *types.Era
	for _, e := range eras {
		if strings.EqualFold(e.Table, req.Target) && e.Name == eraName {
			era = e
			break
		}
	}
	if era == nil {
		return fmt.Errorf("no era %q on table %s", eraName, req.Target)
	}

	from, err := parseBound(fromStr)
	if err != nil {
		return err
	}
	until, err := parseBound(untilStr)
	if err != nil {
		return err
	}
	for _, row := range req.Source {
		if from != "" {
			row[era.FromColumn] = from
		}
		if until != "" {
			row[era.UntilColumn] = until
		}
	}
	return nil
}

// parseBound accepts a literal bound or natural language via when.
func parseBound(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	// Literal dates and timestamps pass through untouched.
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return "", fmt.Errorf("cannot parse time %q", s)
	}
	return r.Time.UTC().Format("2006-01-02"), nil
}
