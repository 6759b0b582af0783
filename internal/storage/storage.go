// Package storage defines the interface for era-managed database backends.
package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/types"
)

// ErrDBNotInitialized is returned when attempting to use a database feature
// before the database has been initialized.
var ErrDBNotInitialized = errors.New("database not initialized")

// TemporalMergeRequest is one set-based merge call. Source rows are maps of
// column name to value; the era's boundary columns carry each row's
// validity. A missing or NULL valid_until means open-ended.
type TemporalMergeRequest struct {
	Target string
	Source []map[string]any

	// SourceTable reads the batch from a staging table instead of Source.
	SourceTable string

	IDColumns        []string
	Mode             types.MergeMode
	DeleteMode       types.DeleteMode
	EphemeralColumns []string

	EraName           string // default "valid"
	SourceRowIDColumn string
	FoundingIDColumn  string

	// UpdateSourceWithAssignedIDs back-fills generated surrogate keys into
	// the staging table. Requires SourceTable and SourceRowIDColumn.
	UpdateSourceWithAssignedIDs bool
}

// Violation is one failed integrity check reported by Validate.
type Violation struct {
	Table      string `json:"table"`
	Constraint string `json:"constraint"`
	Detail     string `json:"detail"`
}

// Transaction provides atomic multi-operation support within a single
// database transaction.
//
//   - All operations within the transaction share the same connection
//   - If any operation returns an error, the transaction is rolled back
//   - On successful return from the callback, the transaction is committed
//   - Uses BEGIN IMMEDIATE mode to acquire the write lock early
//
// Foreign-key checks raised by DML are validated at each statement boundary
// unless the transaction defers them; deferred checks run at commit, which
// lets multi-statement reshapes (splitting a parent row, say) leave
// transient coverage gaps that are closed before the transaction ends.
type Transaction interface {
	InsertRows(ctx context.Context, table string, rows []map[string]any) error
	UpdateRow(ctx context.Context, table string, rowid int64, updates map[string]any) error
	DeleteRow(ctx context.Context, table string, rowid int64) error

	// SetConstraintsDeferred defers foreign-key checking to commit.
	SetConstraintsDeferred(deferred bool)
}

// Storage defines the interface for era-managed database backends.
type Storage interface {
	// Era lifecycle
	AddEra(ctx context.Context, table, fromCol, untilCol string, opts catalog.EraOptions) (bool, error)
	DropEra(ctx context.Context, table, eraName string, behavior types.DropBehavior, cleanup bool) (bool, error)
	ListEras(ctx context.Context) ([]*types.Era, error)

	// Temporal unique keys
	AddUniqueKey(ctx context.Context, table string, columns []string, opts catalog.UniqueKeyOptions) (string, error)
	DropUniqueKey(ctx context.Context, table, keyName string, behavior types.DropBehavior, cleanup bool) error
	ListUniqueKeys(ctx context.Context) ([]*types.UniqueKey, error)

	// Temporal foreign keys
	AddForeignKey(ctx context.Context, childTable string, childColumns []string, childEra, parentKey string, opts catalog.ForeignKeyOptions) (string, error)
	DropForeignKey(ctx context.Context, childTable, keyName string) error
	ListForeignKeys(ctx context.Context) ([]*types.ForeignKey, error)

	// DML through the temporal constraint path
	InsertRows(ctx context.Context, table string, rows []map[string]any) error
	UpdateRow(ctx context.Context, table string, rowid int64, updates map[string]any) error
	DeleteRow(ctx context.Context, table string, rowid int64) error

	// ExecDDL runs one DDL statement under the lifecycle guard: forbidden
	// statements are rejected before execution, allowed ones are followed
	// by catalog reconciliation in the same transaction.
	ExecDDL(ctx context.Context, stmt string) error

	// TemporalMerge plans and executes a set-based merge, returning one
	// feedback row per source row. Feedback is also deposited in the
	// session-scoped era_merge_feedback table.
	TemporalMerge(ctx context.Context, req TemporalMergeRequest) ([]types.Feedback, error)

	// Validate re-checks the universal invariants: non-overlap per unique
	// key, coverage per foreign key, catalog-object correspondence.
	Validate(ctx context.Context) ([]Violation, error)

	// Config
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	// Metadata (for internal state like the schema version)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error

	// Path returns the database file path.
	Path() string

	// UnderlyingDB returns the underlying *sql.DB connection. Provided for
	// extensions that need their own tables in the same database.
	UnderlyingDB() *sql.DB
}
