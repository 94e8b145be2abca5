package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "changeflow/pkg/domain-errors"
	txcontext "changeflow/pkg/platform/tx"
)

const defaultCRTxTimeout = 5 * time.Second

// crPostgresTx runs each change request mutation in one database transaction. Row locking
// comes from the store's SELECT ... FOR UPDATE, so crID is not needed for serialization.
type crPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newPostgresTx(db *sql.DB, timeout time.Duration) *crPostgresTx {
	return &crPostgresTx{db: db, timeout: timeout}
}

func (t *crPostgresTx) RunInTx(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultCRTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
