package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/types"
	"github.com/untoldecay/EraDB/internal/ui"
)

var fkCmd = &cobra.Command{
	Use:   "fk",
	Short: "Manage temporal foreign keys",
	Long: `Manage temporal foreign keys.

A temporal foreign key requires that a child row's validity be contiguously
covered by parent rows sharing the referenced key. Checks run at each
statement boundary and can be deferred to commit inside a transaction, so
multi-statement reshapes (splitting a parent row in two) work.`,
}

var fkAddCmd = &cobra.Command{
	Use:   "add <child-table> <column>[,<column>...] <parent-key-name>",
	Short: "Add a temporal foreign key",
	Args:  cobra.ExactArgs(3),
	RunE:  runFKAdd,
}

var fkDropCmd = &cobra.Command{
	Use:   "drop <child-table> <key-name|column,column...>",
	Short: "Drop a temporal foreign key",
	Long: `Drop a temporal foreign key, addressed either by its name or by its
column set (comma-separated; combined with --era when not "valid").`,
	Args: cobra.ExactArgs(2),
	RunE: runFKDrop,
}

var fkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List temporal foreign keys",
	RunE:  runFKList,
}

func init() {
	fkAddCmd.Flags().String("era", types.DefaultEraName, "child era name")
	fkAddCmd.Flags().String("name", "", "key name (generated when empty)")
	fkAddCmd.Flags().String("match", "SIMPLE", "NULL matching mode (SIMPLE|FULL)")
	fkAddCmd.Flags().String("on-update", "NO ACTION", "referential action (NO ACTION|RESTRICT)")
	fkAddCmd.Flags().String("on-delete", "NO ACTION", "referential action (NO ACTION|RESTRICT)")

	fkDropCmd.Flags().String("era", types.DefaultEraName, "child era name (for the column-set form)")

	fkCmd.AddCommand(fkAddCmd)
	fkCmd.AddCommand(fkDropCmd)
	fkCmd.AddCommand(fkListCmd)
}

func runFKAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	era, _ := cmd.Flags().GetString("era")
	name, _ := cmd.Flags().GetString("name")
	match, _ := cmd.Flags().GetString("match")
	onUpdateStr, _ := cmd.Flags().GetString("on-update")
	onDeleteStr, _ := cmd.Flags().GetString("on-delete")

	onUpdate, err := catalog.ParseFKAction(onUpdateStr)
	if err != nil {
		return err
	}
	onDelete, err := catalog.ParseFKAction(onDeleteStr)
	if err != nil {
		return err
	}

	columns := splitColumns(args[1])
	keyName, err := store.AddForeignKey(rootCtx, args[0], columns, era, args[2], catalog.ForeignKeyOptions{
		Match:    types.MatchMode(strings.ToUpper(match)),
		OnUpdate: onUpdate,
		OnDelete: onDelete,
		Name:     name,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s Added temporal foreign key %s: %s(%s) -> %s\n",
		ui.RenderPass("✓"), keyName, args[0], strings.Join(columns, ", "), args[2])
	return nil
}

func runFKDrop(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	keyName := args[1]
	if strings.Contains(keyName, ",") {
		era, _ := cmd.Flags().GetString("era")
		if era == "" {
			era = types.DefaultEraName
		}
		fk, err := catalog.FindForeignKeyByColumns(rootCtx, store.UnderlyingDB(), args[0], era, splitColumns(keyName))
		if err != nil {
			return err
		}
		if fk == nil {
			return fmt.Errorf("no temporal foreign key on %s(%s) for era %q", args[0], keyName, era)
		}
		keyName = fk.Name
	}

	if err := store.DropForeignKey(rootCtx, args[0], keyName); err != nil {
		return err
	}
	fmt.Printf("%s Dropped temporal foreign key %s\n", ui.RenderPass("✓"), keyName)
	return nil
}

func runFKList(_ *cobra.Command, _ []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	fks, err := store.ListForeignKeys(rootCtx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(fks)
	}
	if len(fks) == 0 {
		fmt.Println("No temporal foreign keys.")
		return nil
	}
	fmt.Println(ui.RenderForeignKeys(fks))
	return nil
}
