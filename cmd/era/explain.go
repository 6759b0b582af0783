package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/config"
	"github.com/untoldecay/EraDB/internal/explain"
	"github.com/untoldecay/EraDB/internal/types"
)

var explainCmd = &cobra.Command{
	Use:   "explain <table>",
	Short: "Summarize merge feedback or an entity timeline with Claude",
	Long: `Summarize the last merge's feedback, or one entity's timeline, in
plain language using Claude Haiku.

Requires ANTHROPIC_API_KEY (or explain.api-key in config).

Examples:
  era explain prices --last-merge
  era explain prices --entity "id = 1"`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().Bool("last-merge", false, "summarize the last merge's feedback")
	explainCmd.Flags().String("entity", "", "WHERE clause selecting one entity's rows")
}

func runExplain(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := explain.NewClient(config.GetString("explain.api-key"), config.GetString("explain.model"))
	if err != nil {
		return err
	}

	table := args[0]
	lastMerge, _ := cmd.Flags().GetBool("last-merge")
	entity, _ := cmd.Flags().GetString("entity")

	switch {
	case lastMerge:
		feedback, err := readLastFeedback(store.UnderlyingDB())
		if err != nil {
			return err
		}
		if len(feedback) == 0 {
			return fmt.Errorf("no merge feedback in this session")
		}
		summary, err := client.SummarizeFeedback(rootCtx, table, "", feedback)
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil

	case entity != "":
		rows, err := readTimeline(store.UnderlyingDB(), table, entity)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no rows match %q in %s", entity, table)
		}
		summary, err := client.SummarizeTimeline(rootCtx, table, rows)
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil
	}
	return fmt.Errorf("pass --last-merge or --entity")
}

// readLastFeedback reads the session-scoped feedback table. It lives on the
// storage's dedicated connection, so a fresh CLI process only sees feedback
// from merges it ran itself.
func readLastFeedback(db *sql.DB) ([]types.Feedback, error) {
	rows, err := db.QueryContext(rootCtx, `
		SELECT source_ordinal, source_row_id, status, assigned_entity_id, message
		FROM era_merge_feedback ORDER BY source_ordinal`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []types.Feedback
	for rows.Next() {
		var f types.Feedback
		var status string
		if err := rows.Scan(&f.SourceOrdinal, &f.SourceRowID, &status, &f.AssignedEntityID, &f.Message); err != nil {
			return nil, err
		}
		f.Status = types.FeedbackStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

// readTimeline renders an entity's rows as text lines for the prompt.
func readTimeline(db *sql.DB, table, where string) ([]string, error) {
	rows, err := db.QueryContext(rootCtx, fmt.Sprintf(
		`SELECT * FROM "%s" WHERE %s`, strings.ReplaceAll(table, `"`, `""`), where))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		var parts []string
		for i, c := range cols {
			parts = append(parts, fmt.Sprintf("%s=%v", c, dest[i]))
		}
		out = append(out, strings.Join(parts, ", "))
	}
	return out, rows.Err()
}
