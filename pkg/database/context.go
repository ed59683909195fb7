package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const (
	// OwnerScopeKey is the context key for storing the owner-scoped database connection.
	OwnerScopeKey contextKey = "ownerScope"
	txKey         contextKey = "tx"
)

// ErrNoOwnerScope is returned when a repository runs without an owner connection.
var ErrNoOwnerScope = fmt.Errorf("no owner scope in context")

// DBTX is the query surface shared by pooled connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// GetOwnerScope retrieves the owner-scoped database connection from context.
// Returns nil and false if not present.
func GetOwnerScope(ctx context.Context) (*OwnerScope, bool) {
	scope, ok := ctx.Value(OwnerScopeKey).(*OwnerScope)
	return scope, ok
}

// SetOwnerScope stores the owner-scoped database connection in context.
func SetOwnerScope(ctx context.Context, scope *OwnerScope) context.Context {
	return context.WithValue(ctx, OwnerScopeKey, scope)
}

// Querier returns the transaction started by InTx, or the owner connection.
func Querier(ctx context.Context) (DBTX, error) {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx, nil
	}
	scope, ok := GetOwnerScope(ctx)
	if !ok || scope.Conn == nil {
		return nil, ErrNoOwnerScope
	}
	return scope.Conn, nil
}

// InTx runs fn in a transaction on the owner connection. Repositories
// called with the context passed to fn join the transaction. Nested calls
// reuse the outer transaction.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return fn(ctx)
	}
	scope, ok := GetOwnerScope(ctx)
	if !ok || scope.Conn == nil {
		return ErrNoOwnerScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
