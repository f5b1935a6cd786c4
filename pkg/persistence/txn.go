package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/bundledb/pkg/storage"
)

// RunInTransaction runs fn inside a new transaction on store. The
// transaction is committed when fn returns nil and rolled back otherwise, so
// a failure anywhere in a cascade leaves the store unchanged.
//
// A commit that loses a race against another writer of the same id is
// reported as an IDCollisionError.
func RunInTransaction(ctx context.Context, store storage.Store, fn func(tx storage.Tx) error) (err error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, storage.ErrConflict) {
			return &IDCollisionError{Err: err}
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
