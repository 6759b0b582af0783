package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/types"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Align(lipgloss.Center)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// newTable creates a table with the default styling.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...)
}

// RenderEras renders the era listing.
func RenderEras(eras []*types.Era) string {
	t := newTable("TABLE", "ERA", "FROM", "UNTIL", "KIND", "AUDIT")
	for _, e := range eras {
		t.Row(e.Table, e.Name, e.FromColumn, e.UntilColumn, string(e.Kind), e.AuditTable)
	}
	return t.Render()
}

// RenderUniqueKeys renders the unique key listing.
func RenderUniqueKeys(keys []*types.UniqueKey) string {
	t := newTable("KEY", "TABLE", "COLUMNS", "ERA", "PREDICATE")
	for _, k := range keys {
		t.Row(k.Name, k.Table, fmt.Sprintf("%v", k.Columns), k.EraName, k.Predicate)
	}
	return t.Render()
}

// RenderForeignKeys renders the foreign key listing.
func RenderForeignKeys(fks []*types.ForeignKey) string {
	t := newTable("KEY", "CHILD", "COLUMNS", "REFERENCES", "MATCH", "ON UPDATE", "ON DELETE")
	for _, fk := range fks {
		t.Row(fk.Name, fk.Table, fmt.Sprintf("%v", fk.Columns), fk.RefKey,
			string(fk.Match), string(fk.OnUpdate), string(fk.OnDelete))
	}
	return t.Render()
}

// RenderFeedback renders merge feedback, coloring each status.
func RenderFeedback(feedback []types.Feedback) string {
	t := newTable("ROW", "SOURCE ID", "STATUS", "ASSIGNED ID", "MESSAGE")
	for _, f := range feedback {
		status := string(f.Status)
		switch f.Status {
		case types.FeedbackApplied:
			status = RenderPass(status)
		case types.FeedbackError:
			status = RenderFail(status)
		case types.FeedbackTargetNotFound:
			status = RenderWarn(status)
		default:
			status = RenderMuted(status)
		}
		t.Row(
			fmt.Sprintf("%d", f.SourceOrdinal),
			renderAny(f.SourceRowID),
			status,
			renderAny(f.AssignedEntityID),
			f.Message,
		)
	}
	return t.Render()
}

// RenderViolations renders integrity check findings.
func RenderViolations(violations []storage.Violation) string {
	t := newTable("TABLE", "CONSTRAINT", "DETAIL")
	for _, v := range violations {
		t.Row(v.Table, v.Constraint, RenderFail(v.Detail))
	}
	return t.Render()
}

func renderAny(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
