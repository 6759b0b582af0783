package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/ui"
)

var insertCmd = &cobra.Command{
	Use:   "insert <table> <json-row>...",
	Short: "Insert rows through the temporal constraint path",
	Long: `Insert rows through the temporal constraint path.

Each argument is one JSON object. Unique-key overlaps are rejected
immediately; foreign-key coverage is checked at the statement boundary.

Example:
  era insert employees '{"id": 1, "valid_from": "2024-01-01", "salary": 100}'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runInsert,
}

var ddlCmd = &cobra.Command{
	Use:   "ddl <statement>",
	Short: "Run DDL under the lifecycle guard",
	Long: `Run a DDL statement under the lifecycle guard.

Statements that would orphan catalog state (dropping an era column, a
backing trigger or index) are rejected. Allowed drops and renames are
followed through the catalog in the same transaction.

Example:
  era ddl 'ALTER TABLE employees RENAME TO staff'`,
	Args: cobra.ExactArgs(1),
	RunE: runDDL,
}

func runInsert(_ *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	table := args[0]
	rows := make([]map[string]any, 0, len(args)-1)
	for i, arg := range args[1:] {
		var row map[string]any
		if err := json.Unmarshal([]byte(arg), &row); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}

	if err := store.InsertRows(rootCtx, table, rows); err != nil {
		return err
	}
	plural := ""
	if len(rows) != 1 {
		plural = "s"
	}
	fmt.Printf("%s Inserted %d row%s into %s\n", ui.RenderPass("✓"), len(rows), plural, table)
	return nil
}

func runDDL(_ *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	stmt := strings.TrimSpace(args[0])
	if err := store.ExecDDL(rootCtx, stmt); err != nil {
		return err
	}
	fmt.Printf("%s OK\n", ui.RenderPass("✓"))
	return nil
}
