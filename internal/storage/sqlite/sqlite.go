// Package sqlite implements era-managed storage over a single SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/constraint"
	"github.com/untoldecay/EraDB/internal/lifecycle"
	"github.com/untoldecay/EraDB/internal/storage"
)

// SQLiteStorage implements storage.Storage over one SQLite database.
//
// A single dedicated connection carries every operation: SQLite has one
// writer anyway, TEMP objects (the merge feedback table) stay session-
// scoped, and BEGIN IMMEDIATE serializes concurrent transactions properly.
type SQLiteStorage struct {
	db   *sql.DB
	conn *sql.Conn
	path string

	locker    *catalog.Locker
	validator *constraint.Validator
	guard     *lifecycle.Guard
	queue     *constraint.Queue
}

// New opens (creating if necessary) the database at dbPath, applies the
// base schema and all pending migrations, and returns the storage.
func New(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	s := &SQLiteStorage{
		db:        db,
		conn:      conn,
		path:      dbPath,
		locker:    catalog.NewLocker(filepath.Join(filepath.Dir(dbPath), "locks")),
		validator: constraint.NewValidator(),
		queue:     constraint.NewQueue(),
	}
	s.guard = &lifecycle.Guard{Invalidate: s.validator.Invalidate}
	return s, nil
}

// Close releases the dedicated connection and the pool.
func (s *SQLiteStorage) Close() error {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// UnderlyingDB returns the underlying *sql.DB connection.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}

// SetConfig stores a configuration key in the database.
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// GetConfig reads a configuration key; missing keys return "".
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores an internal metadata key.
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata reads an internal metadata key; missing keys return "".
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

// sqliteTx implements storage.Transaction on the dedicated connection.
type sqliteTx struct {
	s *SQLiteStorage
}

// withTx runs fn inside one BEGIN IMMEDIATE transaction on the dedicated
// connection. Deferred foreign-key checks are flushed before commit; a
// violation rolls the transaction back.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func() error) error {
	if _, err := s.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		s.queue.Reset()
		if !committed {
			_, _ = s.conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if err := fn(); err != nil {
		return err
	}

	// Commit boundary: drain whatever the transaction deferred.
	if err := s.queue.Flush(ctx, s.conn, s.validator); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// RunInTransaction executes fn inside one BEGIN IMMEDIATE transaction.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.withTx(ctx, func() error {
		return fn(&sqliteTx{s: s})
	})
}

// SetConstraintsDeferred defers foreign-key checking to commit.
func (t *sqliteTx) SetConstraintsDeferred(deferred bool) {
	t.s.queue.SetDeferred(deferred)
}
