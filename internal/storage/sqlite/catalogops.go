package sqlite

import (
	"context"
	"fmt"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/types"
)

// AddEra registers an application-time era on a user table. Takes the
// per-table advisory lock, then creates the backing objects and the catalog
// row in one transaction.
func (s *SQLiteStorage) AddEra(ctx context.Context, table, fromCol, untilCol string, opts catalog.EraOptions) (bool, error) {
	release, err := s.locker.Acquire(ctx, table)
	if err != nil {
		return false, err
	}
	defer release()

	err = s.withTx(ctx, func() error {
		_, err := catalog.AddEra(ctx, s.conn, table, fromCol, untilCol, opts)
		return err
	})
	return err == nil, err
}

// DropEra removes an era, honoring RESTRICT/CASCADE and cleanup.
func (s *SQLiteStorage) DropEra(ctx context.Context, table, eraName string, behavior types.DropBehavior, cleanup bool) (bool, error) {
	release, err := s.locker.Acquire(ctx, table)
	if err != nil {
		return false, err
	}
	defer release()

	var dropped bool
	err = s.withTx(ctx, func() error {
		var err error
		dropped, err = catalog.DropEra(ctx, s.conn, table, eraName, behavior, cleanup)
		return err
	})
	if err == nil && dropped {
		// Foreign keys referencing keys of this era are gone; their
		// compiled queries with them.
		s.validator.InvalidateAll()
	}
	return dropped, err
}

// ListEras lists every registered era.
func (s *SQLiteStorage) ListEras(ctx context.Context) ([]*types.Era, error) {
	return catalog.ListEras(ctx, s.conn)
}

// AddUniqueKey registers a temporal unique key and its backing objects.
func (s *SQLiteStorage) AddUniqueKey(ctx context.Context, table string, columns []string, opts catalog.UniqueKeyOptions) (string, error) {
	release, err := s.locker.Acquire(ctx, table)
	if err != nil {
		return "", err
	}
	defer release()

	var name string
	err = s.withTx(ctx, func() error {
		var err error
		name, err = catalog.AddUniqueKey(ctx, s.conn, table, columns, opts)
		return err
	})
	return name, err
}

// DropUniqueKey removes a temporal unique key.
func (s *SQLiteStorage) DropUniqueKey(ctx context.Context, table, keyName string, behavior types.DropBehavior, cleanup bool) error {
	release, err := s.locker.Acquire(ctx, table)
	if err != nil {
		return err
	}
	defer release()

	err = s.withTx(ctx, func() error {
		return catalog.DropUniqueKey(ctx, s.conn, table, keyName, behavior, cleanup)
	})
	if err == nil {
		s.validator.InvalidateAll()
	}
	return err
}

// ListUniqueKeys lists every temporal unique key.
func (s *SQLiteStorage) ListUniqueKeys(ctx context.Context) ([]*types.UniqueKey, error) {
	return catalog.ListUniqueKeys(ctx, s.conn)
}

// AddForeignKey registers a temporal foreign key, validating all existing
// child rows first.
func (s *SQLiteStorage) AddForeignKey(ctx context.Context, childTable string, childColumns []string, childEra, parentKey string, opts catalog.ForeignKeyOptions) (string, error) {
	release, err := s.locker.Acquire(ctx, childTable)
	if err != nil {
		return "", err
	}
	defer release()

	var name string
	err = s.withTx(ctx, func() error {
		var err error
		name, err = catalog.AddForeignKey(ctx, s.conn, s.validator, childTable, childColumns, childEra, parentKey, opts)
		return err
	})
	return name, err
}

// DropForeignKey removes a temporal foreign key.
func (s *SQLiteStorage) DropForeignKey(ctx context.Context, childTable, keyName string) error {
	release, err := s.locker.Acquire(ctx, childTable)
	if err != nil {
		return err
	}
	defer release()

	err = s.withTx(ctx, func() error {
		return catalog.DropForeignKey(ctx, s.conn, childTable, keyName)
	})
	if err == nil {
		s.validator.Invalidate(keyName)
	}
	return err
}

// ListForeignKeys lists every temporal foreign key.
func (s *SQLiteStorage) ListForeignKeys(ctx context.Context) ([]*types.ForeignKey, error) {
	return catalog.ListForeignKeys(ctx, s.conn)
}

// resolveEra loads an era or fails with an argument error.
func (s *SQLiteStorage) resolveEra(ctx context.Context, table, eraName string) (*types.Era, error) {
	if eraName == "" {
		eraName = types.DefaultEraName
	}
	era, err := catalog.GetEra(ctx, s.conn, table, eraName)
	if err != nil {
		return nil, err
	}
	if era == nil {
		return nil, fmt.Errorf("%w: no era %q on table %s", types.ErrArgument, eraName, table)
	}
	return era, nil
}
