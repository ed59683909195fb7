package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/obra-engine/pkg/database"
)

// OwnerContext returns a context carrying an owner-scoped connection for a
// fresh owner ID. The owner's data is deleted and the connection released
// when the test finishes.
func OwnerContext(t *testing.T, engineDB *EngineDB) (context.Context, uuid.UUID) {
	t.Helper()

	ownerID := uuid.New()
	scope, err := engineDB.DB.WithOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("Failed to acquire owner scope: %v", err)
	}

	t.Cleanup(func() {
		CleanupOwner(t, engineDB, ownerID)
		scope.Close()
	})

	return database.SetOwnerScope(context.Background(), scope), ownerID
}

// CleanupOwner removes every row owned by ownerID.
func CleanupOwner(t *testing.T, engineDB *EngineDB, ownerID uuid.UUID) {
	t.Helper()

	ctx := context.Background()
	for _, table := range []string{"obra_documents", "obra_extraction_links", "obra_tabla_rows", "obra_tablas"} {
		if _, err := engineDB.DB.Pool.Exec(ctx, "DELETE FROM "+table+" WHERE owner_id = $1", ownerID); err != nil {
			t.Errorf("Failed to clean %s: %v", table, err)
		}
	}
}
