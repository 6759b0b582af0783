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

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage temporal unique keys",
	Long: `Manage temporal unique keys.

A temporal unique key requires that any two rows equal on the key columns
have non-overlapping validity. Enforcement is synchronous: an overlapping
insert or update is rejected immediately.`,
}

var keyAddCmd = &cobra.Command{
	Use:   "add <table> <column>[,<column>...]",
	Short: "Add a temporal unique key",
	Args:  cobra.ExactArgs(2),
	RunE:  runKeyAdd,
}

var keyDropCmd = &cobra.Command{
	Use:   "drop <table> <key-name|column,column...>",
	Short: "Drop a temporal unique key",
	Long: `Drop a temporal unique key, addressed either by its name or by its
column set (comma-separated, order insensitive).`,
	Args: cobra.ExactArgs(2),
	RunE: runKeyDrop,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List temporal unique keys",
	RunE:  runKeyList,
}

func init() {
	keyAddCmd.Flags().String("era", types.DefaultEraName, "era name")
	keyAddCmd.Flags().String("name", "", "key name (generated when empty)")
	keyAddCmd.Flags().String("predicate", "", "WHERE clause narrowing the key to a row subset")

	keyDropCmd.Flags().Bool("cascade", false, "drop referencing foreign keys first")
	keyDropCmd.Flags().Bool("no-cleanup", false, "keep physical backing objects")
	keyDropCmd.Flags().Bool("force", false, "do not ask for confirmation")

	keyCmd.AddCommand(keyAddCmd)
	keyCmd.AddCommand(keyDropCmd)
	keyCmd.AddCommand(keyListCmd)
}

func runKeyAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	era, _ := cmd.Flags().GetString("era")
	name, _ := cmd.Flags().GetString("name")
	predicate, _ := cmd.Flags().GetString("predicate")
	columns := splitColumns(args[1])

	keyName, err := store.AddUniqueKey(rootCtx, args[0], columns, catalog.UniqueKeyOptions{
		EraName:   era,
		KeyName:   name,
		Predicate: predicate,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s Added temporal unique key %s on %s(%s)\n",
		ui.RenderPass("✓"), keyName, args[0], strings.Join(columns, ", "))
	return nil
}

func runKeyDrop(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	cascade, _ := cmd.Flags().GetBool("cascade")
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
	force, _ := cmd.Flags().GetBool("force")

	keyName := args[1]
	if strings.Contains(keyName, ",") {
		key, err := catalog.FindUniqueKeyByColumns(rootCtx, store.UnderlyingDB(), args[0],
			types.DefaultEraName, splitColumns(keyName))
		if err != nil {
			return err
		}
		if key == nil {
			return fmt.Errorf("no temporal unique key on %s(%s)", args[0], keyName)
		}
		keyName = key.Name
	}

	behavior := types.DropRestrict
	if cascade {
		behavior = types.DropCascade
		if !force && !confirmCascade(fmt.Sprintf("Drop key %s and every foreign key that references it?", keyName)) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	if err := store.DropUniqueKey(rootCtx, args[0], keyName, behavior, !noCleanup); err != nil {
		return err
	}
	fmt.Printf("%s Dropped temporal unique key %s\n", ui.RenderPass("✓"), keyName)
	return nil
}

func runKeyList(_ *cobra.Command, _ []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListUniqueKeys(rootCtx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(keys)
	}
	if len(keys) == 0 {
		fmt.Println("No temporal unique keys.")
		return nil
	}
	fmt.Println(ui.RenderUniqueKeys(keys))
	return nil
}

// splitColumns parses a comma-separated column list.
func splitColumns(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
