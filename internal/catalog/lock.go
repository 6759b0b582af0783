package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// advisoryLockTimeout bounds how long a catalog operation waits for another
// writer on the same table.
const advisoryLockTimeout = 30 * time.Second

// Locker serializes catalog-altering operations per user table without
// blocking readers. Locks are file locks next to the database, keyed by the
// table name, so cooperating processes contend too.
type Locker struct {
	dir string
}

// NewLocker returns a Locker storing lock files under dir (created lazily).
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir}
}

// Acquire takes the per-table advisory lock. The returned release function
// must be called when the catalog operation finishes.
func (l *Locker) Acquire(ctx context.Context, table string) (func(), error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(l.dir, sanitize(table)+".lock"))

	lockCtx, cancel := context.WithTimeout(ctx, advisoryLockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock catalog for table %s: %w", table, err)
	}
	if !ok {
		return nil, fmt.Errorf("catalog lock for table %s is held by another operation", table)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}
