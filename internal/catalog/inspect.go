package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// ColumnInfo is one PRAGMA table_info row.
type ColumnInfo struct {
	Name         string
	DeclaredType string
	NotNull      bool
	PrimaryKey   bool
	HasDefault   bool
}

// TableColumns introspects a user table. A missing table yields ErrArgument.
func TableColumns(ctx context.Context, db DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to read table_info for %s: %w", table, err)
		}
		cols = append(cols, ColumnInfo{
			Name:         name,
			DeclaredType: strings.ToUpper(strings.TrimSpace(ctype)),
			NotNull:      notnull != 0,
			PrimaryKey:   pk != 0,
			HasDefault:   dflt != nil,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: table %s does not exist", types.ErrArgument, table)
	}
	return cols, nil
}

// findColumn returns the column by name, case-insensitively like SQLite.
func findColumn(cols []ColumnInfo, name string) (ColumnInfo, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// systemColumns are row addresses that can never participate in a key.
var systemColumns = map[string]bool{"rowid": true, "oid": true, "_rowid_": true}

// KindForDeclaredType infers the era value domain from a column's declared
// type, following SQLite affinity rules.
func KindForDeclaredType(declared string) (interval.Kind, error) {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return interval.KindInteger, nil
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return interval.KindReal, nil
	case strings.Contains(d, "CHAR"), strings.Contains(d, "TEXT"), strings.Contains(d, "CLOB"),
		strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return interval.KindText, nil
	}
	return "", fmt.Errorf("%w: declared type %q cannot carry an era bound", types.ErrTypeMismatch, declared)
}

// ObjectExists reports whether a named object of the given type (table,
// index, trigger, view) exists in sqlite_master.
func ObjectExists(ctx context.Context, db DB, objType, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, objType, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to probe sqlite_master for %s %s: %w", objType, name, err)
	}
	return n > 0, nil
}

// anyObjectExists probes all object types at once, for collision-free name
// generation.
func anyObjectExists(ctx context.Context, db DB, name string) bool {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name).Scan(&n); err != nil {
		return true // treat probe failure as taken; caller will retry or fail
	}
	return n > 0
}

// quoteIdent double-quotes an identifier for embedding in DDL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteIdents quotes a list of identifiers.
func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
