package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// DefaultPageSize is the page size FetchAllRows requests.
const DefaultPageSize = 500

// FetchRows reads one page of raw rows. sourcePath, when set, restricts the
// page to rows extracted from that document.
func (c *Client) FetchRows(ctx context.Context, owner, tablaID uuid.UUID, page, limit int, sourcePath string) (*models.RowPage, error) {
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	if sourcePath != "" {
		q.Set("source_path", sourcePath)
	}
	var rp models.RowPage
	if err := c.getJSON(ctx, &rp, q, ownerPath(owner, "tablas", tablaID.String(), "rows")...); err != nil {
		return nil, err
	}
	return &rp, nil
}

// FetchAllRows pages through every row of a tabla. It returns an error
// rather than a partial set when any page fails.
func (c *Client) FetchAllRows(ctx context.Context, owner, tablaID uuid.UUID, sourcePath string) ([]models.Row, error) {
	var all []models.Row
	for page := 1; ; page++ {
		rp, err := c.FetchRows(ctx, owner, tablaID, page, DefaultPageSize, sourcePath)
		if err != nil {
			return nil, err
		}
		all = append(all, rp.Rows...)
		// The server may cap the limit; trust the echoed one.
		if len(rp.Rows) == 0 || !rp.HasMore() {
			break
		}
	}
	if all == nil {
		all = []models.Row{}
	}
	return all, nil
}

type savedRows struct {
	Rows  []models.Row `json:"rows"`
	Total int          `json:"total"`
}

// SaveRows inserts, updates and deletes rows in one batch and returns the
// persisted set. The owner's tree and link caches are dropped before it returns.
func (c *Client) SaveRows(ctx context.Context, owner, tablaID uuid.UUID, req models.RowsSaveRequest) ([]models.Row, error) {
	var resp savedRows
	err := c.doJSON(ctx, http.MethodPost, req, &resp, nil, ownerPath(owner, "tablas", tablaID.String(), "rows")...)
	// A failed write may still have landed.
	c.caches.InvalidateOwner(owner)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}
