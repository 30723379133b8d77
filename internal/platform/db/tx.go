package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txKey contextKey = "db_tx"

// WithTx begins a transaction on pool and returns a derived context carrying
// it. Repositories route their queries through the transaction when one is
// present, so a service can wrap a read-modify-write sequence atomically:
//
//	txCtx, tx, err := db.WithTx(ctx, pool)
//	if err != nil { return err }
//	defer tx.Rollback(ctx)
//	... repo calls with txCtx ...
//	return tx.Commit(ctx)
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return ContextWithTx(ctx, tx), tx, nil
}

// ContextWithTx returns a context carrying tx. Callers that manage their own
// transaction lifecycle attach it here so repositories route through it.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext retrieves the active transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// InTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. A nil pool runs fn directly, which lets services backed
// by in-memory repositories share the same code path.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if pool == nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx, pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DetachTx returns a context without the active transaction. Writes that
// must survive a rollback of the surrounding transaction, such as audit
// records for rejected attempts, go through a detached context.
func DetachTx(ctx context.Context) context.Context {
	if TxFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, nil)
}
