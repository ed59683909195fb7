package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

// GetDocumentsTree returns the owner's documents tree, from cache when fresh.
// When the API fails the last tree is served if one was ever loaded.
func (c *Client) GetDocumentsTree(ctx context.Context, owner uuid.UUID) (*models.DocumentsTree, error) {
	return c.scope(owner).Trees.GetOrLoad(ctx, cache.TreeKey, c.treeLoader(owner))
}

// RefreshDocumentsTree reloads the tree even if the cached one is fresh.
func (c *Client) RefreshDocumentsTree(ctx context.Context, owner uuid.UUID) (*models.DocumentsTree, error) {
	return c.scope(owner).Trees.Refresh(ctx, cache.TreeKey, c.treeLoader(owner))
}

// Prefetch refreshes the owner's tree in the background. A refresh already
// in flight is joined rather than repeated. The channel closes when done.
func (c *Client) Prefetch(owner uuid.UUID) <-chan struct{} {
	return c.scope(owner).Trees.Prefetch(cache.TreeKey, c.treeLoader(owner))
}

func (c *Client) treeLoader(owner uuid.UUID) cache.Loader[*models.DocumentsTree] {
	return func(ctx context.Context) (*models.DocumentsTree, error) {
		var tree models.DocumentsTree
		if err := c.getJSON(ctx, &tree, nil, ownerPath(owner, "documents-tree")...); err != nil {
			return nil, err
		}
		return &tree, nil
	}
}

type linksEnvelope struct {
	Links []models.ExtractionLink `json:"links"`
}

// ListLinks returns every extraction link of the owner.
func (c *Client) ListLinks(ctx context.Context, owner uuid.UUID) ([]models.ExtractionLink, error) {
	return c.scope(owner).Links.GetOrLoad(ctx, cache.AllLinksKey, func(ctx context.Context) ([]models.ExtractionLink, error) {
		var resp linksEnvelope
		if err := c.getJSON(ctx, &resp, nil, ownerPath(owner, "links")...); err != nil {
			return nil, err
		}
		return resp.Links, nil
	})
}

// ResolveLinks returns the links a folder's documents are extracted into.
// Results are cached by normalized folder path.
func (c *Client) ResolveLinks(ctx context.Context, owner uuid.UUID, folder string) ([]models.ExtractionLink, error) {
	key := textnorm.NormalizeFolderPath(folder)
	return c.scope(owner).Links.GetOrLoad(ctx, key, func(ctx context.Context) ([]models.ExtractionLink, error) {
		var resp linksEnvelope
		q := url.Values{"folder": {folder}}
		if err := c.getJSON(ctx, &resp, q, ownerPath(owner, "links", "resolve")...); err != nil {
			return nil, err
		}
		return resp.Links, nil
	})
}

// SignedURL returns a signed download URL for a storage path.
func (c *Client) SignedURL(ctx context.Context, owner uuid.UUID, storagePath string) (storage.SignedURL, error) {
	return c.scope(owner).SignedURLs.GetOrLoad(ctx, storagePath, c.signLoader(owner, storagePath))
}

func (c *Client) signLoader(owner uuid.UUID, storagePath string) cache.Loader[storage.SignedURL] {
	return func(ctx context.Context) (storage.SignedURL, error) {
		var signed storage.SignedURL
		q := url.Values{"path": {storagePath}}
		err := c.getJSON(ctx, &signed, q, ownerPath(owner, "files", "signed-url")...)
		return signed, err
	}
}

// Download returns a local copy of a stored file. The blob belongs to the
// cache: it is released when superseded, evicted or disposed, so callers
// must not Release it themselves.
func (c *Client) Download(ctx context.Context, owner uuid.UUID, storagePath string) (*storage.Blob, error) {
	scope := c.scope(owner)
	return scope.Blobs.GetOrLoad(ctx, storagePath, func(ctx context.Context) (*storage.Blob, error) {
		signed, err := scope.SignedURLs.GetOrLoad(ctx, storagePath, c.signLoader(owner, storagePath))
		if err != nil {
			return nil, err
		}
		blob, err := c.fetchBlob(ctx, storagePath, signed.URL)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
			// Signature expired early; sign again once.
			signed, err = scope.SignedURLs.Refresh(ctx, storagePath, c.signLoader(owner, storagePath))
			if err != nil {
				return nil, err
			}
			blob, err = c.fetchBlob(ctx, storagePath, signed.URL)
		}
		return blob, err
	})
}

func (c *Client) fetchBlob(ctx context.Context, storagePath, signedURL string) (*storage.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", storagePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}

	tmp, err := os.CreateTemp("", "obra-client-*"+path.Ext(storagePath))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("download %s: %w", storagePath, err)
	}
	c.logger.Debug("Downloaded blob", zap.String("path", storagePath), zap.Int64("size", n))
	return &storage.Blob{Path: storagePath, LocalPath: tmp.Name(), Size: n}, nil
}

// Import extracts a document into one or more tablas. With Commit set the
// owner's tree and link caches are dropped before returning.
func (c *Client) Import(ctx context.Context, owner uuid.UUID, req models.ImportRequest) (*models.ImportResult, error) {
	var result models.ImportResult
	if err := c.doJSON(ctx, http.MethodPost, req, &result, nil, ownerPath(owner, "import")...); err != nil {
		return nil, err
	}
	if req.Commit {
		c.caches.InvalidateOwner(owner)
	}
	return &result, nil
}
