package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
	"github.com/untoldecay/EraDB/internal/ui"
)

var eraCmd = &cobra.Command{
	Use:   "era",
	Short: "Manage application-time eras",
	Long: `Manage application-time eras on user tables.

An era is a named pair of columns denoting [valid_from, valid_until) over a
totally ordered scalar type. Adding an era installs bounds checking and an
open-ended default for valid_until; temporal keys and foreign keys are then
declared against the era.`,
}

var eraAddCmd = &cobra.Command{
	Use:   "add <table> <from-column> <until-column>",
	Short: "Add an era to a table",
	Args:  cobra.ExactArgs(3),
	RunE:  runEraAdd,
}

var eraDropCmd = &cobra.Command{
	Use:   "drop <table> [era-name]",
	Short: "Drop an era",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runEraDrop,
}

var eraListCmd = &cobra.Command{
	Use:   "list",
	Short: "List eras",
	RunE:  runEraList,
}

func init() {
	eraAddCmd.Flags().String("name", types.DefaultEraName, "era name")
	eraAddCmd.Flags().String("kind", "", "value domain (integer|real|text); inferred from the column type when empty")
	eraAddCmd.Flags().Bool("no-defaults", false, "do not default valid_until to the open-ended bound")
	eraAddCmd.Flags().Bool("no-bounds-check", false, "do not install the bounds check")
	eraAddCmd.Flags().String("sync-to", "", "inclusive valid_to column kept synchronized")
	eraAddCmd.Flags().String("sync-range", "", "text range column kept synchronized")
	eraAddCmd.Flags().String("audit", "", "audit table receiving history rows")

	eraDropCmd.Flags().Bool("cascade", false, "drop dependent keys and foreign keys first")
	eraDropCmd.Flags().Bool("no-cleanup", false, "keep physical backing objects")
	eraDropCmd.Flags().Bool("force", false, "do not ask for confirmation")

	eraCmd.AddCommand(eraAddCmd)
	eraCmd.AddCommand(eraDropCmd)
	eraCmd.AddCommand(eraListCmd)
}

func runEraAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	name, _ := cmd.Flags().GetString("name")
	kind, _ := cmd.Flags().GetString("kind")
	noDefaults, _ := cmd.Flags().GetBool("no-defaults")
	noBounds, _ := cmd.Flags().GetBool("no-bounds-check")
	syncTo, _ := cmd.Flags().GetString("sync-to")
	syncRange, _ := cmd.Flags().GetString("sync-range")
	audit, _ := cmd.Flags().GetString("audit")

	opts := catalog.EraOptions{
		EraName:         name,
		Kind:            interval.Kind(kind),
		AddDefaults:     !noDefaults,
		AddBoundsCheck:  !noBounds,
		SyncToColumn:    syncTo,
		SyncRangeColumn: syncRange,
		AuditTable:      audit,
	}
	if _, err := store.AddEra(rootCtx, args[0], args[1], args[2], opts); err != nil {
		return err
	}
	fmt.Printf("%s Added era %q on %s (%s, %s)\n", ui.RenderPass("✓"), name, args[0], args[1], args[2])
	return nil
}

func runEraDrop(cmd *cobra.Command, args []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	eraName := types.DefaultEraName
	if len(args) > 1 {
		eraName = args[1]
	}
	cascade, _ := cmd.Flags().GetBool("cascade")
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
	force, _ := cmd.Flags().GetBool("force")

	behavior := types.DropRestrict
	if cascade {
		behavior = types.DropCascade
		if !force && !confirmCascade(fmt.Sprintf("Drop era %q on %s and every key that depends on it?", eraName, args[0])) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	dropped, err := store.DropEra(rootCtx, args[0], eraName, behavior, !noCleanup)
	if err != nil {
		return err
	}
	if !dropped {
		fmt.Printf("No era %q on %s\n", eraName, args[0])
		return nil
	}
	fmt.Printf("%s Dropped era %q on %s\n", ui.RenderPass("✓"), eraName, args[0])
	return nil
}

func runEraList(_ *cobra.Command, _ []string) error {
	store, err := openStore(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	eras, err := store.ListEras(rootCtx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(eras)
	}
	if len(eras) == 0 {
		fmt.Println("No eras registered.")
		return nil
	}
	fmt.Println(ui.RenderEras(eras))
	return nil
}

// confirmCascade asks before destructive cascades. Non-interactive runs
// refuse (use --force in scripts).
func confirmCascade(question string) bool {
	if !ui.IsTerminal() {
		return false
	}
	var confirmed bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Drop").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	return err == nil && confirmed
}
