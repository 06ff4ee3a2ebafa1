// Package tx propagates a SQL transaction through context so the mandate
// service can run the check-then-insert for autorisation uniqueness and the
// journal append inside one transaction without the stores knowing about
// each other.
package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// RunInTx begins a transaction on db, stores it in context, runs fn, and
// commits on success. The rollback on error is best-effort.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	transaction, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = transaction.Rollback() }()

	if err := fn(WithTx(ctx, transaction)); err != nil {
		return err
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
