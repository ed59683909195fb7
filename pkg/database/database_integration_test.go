//go:build integration

package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/obra-engine/pkg/database"
	"github.com/ekaya-inc/obra-engine/pkg/testhelpers"
)

func countTablas(t *testing.T, ctx context.Context, ownerID uuid.UUID) int {
	t.Helper()
	q, err := database.Querier(ctx)
	require.NoError(t, err)
	var n int
	require.NoError(t, q.QueryRow(ctx, "SELECT COUNT(*) FROM obra_tablas WHERE owner_id = $1", ownerID).Scan(&n))
	return n
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx, ownerID := testhelpers.OwnerContext(t, engineDB)

	err := database.InTx(ctx, func(ctx context.Context) error {
		q, err := database.Querier(ctx)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, "INSERT INTO obra_tablas (owner_id, name) VALUES ($1, 'Resumen')", ownerID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countTablas(t, ctx, ownerID))
}

func TestInTx_RollsBackOnError(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx, ownerID := testhelpers.OwnerContext(t, engineDB)

	boom := errors.New("boom")
	err := database.InTx(ctx, func(ctx context.Context) error {
		q, err := database.Querier(ctx)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "INSERT INTO obra_tablas (owner_id, name) VALUES ($1, 'Items')", ownerID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countTablas(t, ctx, ownerID))
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx, ownerID := testhelpers.OwnerContext(t, engineDB)

	boom := errors.New("outer failed")
	err := database.InTx(ctx, func(ctx context.Context) error {
		inner := database.InTx(ctx, func(ctx context.Context) error {
			q, _ := database.Querier(ctx)
			_, err := q.Exec(ctx, "INSERT INTO obra_tablas (owner_id, name) VALUES ($1, 'Curva')", ownerID)
			return err
		})
		require.NoError(t, inner)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countTablas(t, ctx, ownerID))
}
