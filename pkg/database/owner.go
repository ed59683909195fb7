package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OwnerScope wraps a connection with owner context and ensures cleanup.
// The connection has app.current_owner_id set for RLS policy evaluation.
type OwnerScope struct {
	Conn    *pgxpool.Conn
	OwnerID uuid.UUID
}

// Close resets owner context and releases connection to pool.
// This MUST be called to prevent owner context from leaking to the next request.
func (s *OwnerScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_owner_id")
	s.Conn.Release()
}

// WithOwner acquires a connection and sets the owner context for RLS.
// The returned OwnerScope MUST be closed with defer scope.Close().
func (db *DB) WithOwner(ctx context.Context, ownerID uuid.UUID) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_owner_id', $1, false)", ownerID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OwnerScope{Conn: conn, OwnerID: ownerID}, nil
}

// OwnerScopeProvider creates owner-scoped contexts for work that runs
// outside an HTTP request (MCP tools, background imports).
type OwnerScopeProvider struct {
	db *DB
}

// NewOwnerScopeProvider creates an OwnerScopeProvider for the given database.
func NewOwnerScopeProvider(db *DB) *OwnerScopeProvider {
	return &OwnerScopeProvider{db: db}
}

// WithOwnerScope returns a context with owner scope set.
// The cleanup function must be called when the scope is no longer needed.
func (p *OwnerScopeProvider) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithOwner(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return SetOwnerScope(ctx, scope), func() { scope.Close() }, nil
}
