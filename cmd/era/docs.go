package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/untoldecay/EraDB/internal/ui"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Render the temporal modeling guide",
	RunE:  runDocs,
}

const guide = `# era — temporal modeling guide

## Eras

An *era* is a named pair of columns on a table denoting a half-open validity
interval [valid_from, valid_until). Add one with:

    era era add employees valid_from valid_until

Rows with a NULL valid_until get the open-ended bound. Bounds checking
rejects reversed or NULL intervals.

## Temporal unique keys

A temporal unique key means: no two rows with the same key overlap in time.
Adjacent rows are fine.

    era key add employees id

Overlap rejection is synchronous: an overlapping insert fails immediately,
naming the key.

## Temporal foreign keys

A temporal foreign key means: at every moment of the child row's validity,
a parent row with the referenced key exists. The parent timeline may be
split across many rows; it only has to be gap-free over the child's range.

    era key add projects id
    era fk add assignments project_id era__projects__id__valid

Checks are deferrable: inside a transaction you can split a parent row in
two — the transient gap is tolerated until commit.

## Temporal merge

The merge ingests a batch of source rows and reshapes each entity's
timeline: slicing at every boundary, patching or replacing payloads,
carving out deletions, and coalescing equal neighbors back together.

    era merge prices --source prices.jsonl --id-columns id
    era merge prices --source cut.jsonl --id-columns id --mode DELETE_FOR_PORTION_OF

Columns listed in --ephemeral are written but ignored when deciding whether
two slices are equal enough to merge.

## Validation

    era validate

re-checks every invariant; ` + "`era watch`" + ` keeps doing it as the
database changes.
`

func runDocs(_ *cobra.Command, _ []string) error {
	if !ui.IsTerminal() {
		fmt.Print(guide)
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(ui.GetWidth()),
	)
	if err != nil {
		fmt.Print(guide)
		return nil
	}
	out, err := r.Render(guide)
	if err != nil {
		fmt.Print(guide)
		return nil
	}
	fmt.Print(out)
	return nil
}
