package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	txKey   contextKey = "db_tx"
	connKey contextKey = "db_conn"
)

// WithTx runs fn inside a transaction carried on the context. Repositories
// pick it up through TxFromContext. A transaction already present on ctx is
// reused so calls can nest.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction started by WithTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// WithConn pins an acquired connection to the context.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, connKey, conn)
}

// ConnFromContext retrieves a connection pinned with WithConn, or nil.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey).(*pgxpool.Conn)
	return conn
}

// Transactor runs a function inside a transaction. Services depend on it so
// that multi-table writes can be tested without a database.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type poolTransactor struct{ pool *pgxpool.Pool }

func NewTransactor(pool *pgxpool.Pool) Transactor {
	return &poolTransactor{pool: pool}
}

func (t *poolTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, t.pool, fn)
}
