package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// ActiveTable holds the rows of whichever tabla a caller is currently
// looking at. Switching tablas while a load is in flight is safe: only the
// most recent Load applies its rows, older ones are discarded on arrival.
type ActiveTable struct {
	client *Client
	owner  uuid.UUID
	guard  cache.VersionGuard

	mu      sync.RWMutex
	tablaID uuid.UUID
	rows    []models.Row
}

// NewActiveTable creates an empty active table for owner.
func (c *Client) NewActiveTable(owner uuid.UUID) *ActiveTable {
	return &ActiveTable{client: c, owner: owner}
}

// Load fetches every row of tablaID and makes it the active tabla. It
// reports false when a newer Load started before this one finished; the
// rows (or error) of a superseded load are dropped.
func (a *ActiveTable) Load(ctx context.Context, tablaID uuid.UUID) (bool, error) {
	version := a.guard.Next()

	rows, err := a.client.FetchAllRows(ctx, a.owner, tablaID, "")
	if !a.guard.IsCurrent(version) {
		a.client.logger.Debug("Discarding superseded row load",
			zap.String("tabla_id", tablaID.String()),
			zap.Uint64("version", version),
			zap.Uint64("current", a.guard.Current()))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Recheck under the lock so a newer load that finished first is not overwritten.
	if !a.guard.IsCurrent(version) {
		return false, nil
	}
	a.tablaID = tablaID
	a.rows = rows
	return true, nil
}

// Rows returns the active tabla and its rows.
func (a *ActiveTable) Rows() (uuid.UUID, []models.Row) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tablaID, a.rows
}
