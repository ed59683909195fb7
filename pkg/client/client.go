// Package client is a Go SDK for the obra-engine HTTP API.
//
// Reads of documents trees, extraction links, signed URLs and file blobs go
// through per-owner cache scopes: concurrent reads share one request, a
// failing backend serves the last good value, and an HTTP 429 suppresses
// further requests for the configured cooldown. Writes made through the
// client invalidate the owner's tree and link caches before returning.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/retry"
)

// DefaultTimeout is the maximum time to wait for an API response.
const DefaultTimeout = 30 * time.Second

// Client provides access to the obra-engine API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	caches     *cache.Manager
	retry      *retry.Config
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry replaces the backoff used for reads. A nil config disables retries.
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) {
		if cfg == nil {
			cfg = &retry.Config{}
		}
		c.retry = cfg
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, cacheCfg cache.Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		caches: cache.NewManager(cacheCfg, logger),
		retry:  retry.DefaultConfig(),
		logger: logger.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispose drops every cache held for owner and releases its blobs.
func (c *Client) Dispose(owner uuid.UUID) {
	c.caches.Dispose(owner)
}

// Close disposes all owners.
func (c *Client) Close() {
	c.caches.DisposeAll()
}

func (c *Client) scope(owner uuid.UUID) *cache.Scope {
	return c.caches.Init(owner)
}

// APIError is a non-2xx response. It unwraps to the matching apperrors
// sentinel so callers and the caches can test it with errors.Is.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case e.Status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.Status == http.StatusConflict && e.Code == "schema_conflict":
		return apperrors.ErrSchemaConflict
	case e.Status == http.StatusConflict:
		return apperrors.ErrConflict
	case e.Status == http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case e.Status == http.StatusUnprocessableEntity:
		return apperrors.ErrUnsupportedDocument
	case e.Status >= 500:
		return apperrors.ErrBackendUnavailable
	}
	return nil
}

// IsRetryable is true for server errors. Rate limits are left to the cache
// cooldown instead of being retried.
func (e *APIError) IsRetryable() bool {
	return e.Status >= 500
}

// getJSON reads the data envelope of a GET endpoint into out, retrying
// transient failures.
func (c *Client) getJSON(ctx context.Context, out any, query url.Values, segments ...string) error {
	return retry.Do(ctx, c.retry, func() error {
		return c.doJSON(ctx, http.MethodGet, nil, out, query, segments...)
	})
}

// doJSON sends body as JSON and decodes the response envelope's data into out.
func (c *Client) doJSON(ctx context.Context, method string, body, out any, query url.Values, segments ...string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, reader, query, segments...)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader, query url.Values, segments ...string) (*http.Request, error) {
	endpoint, err := buildURL(c.baseURL, segments...)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes req and decodes the data field of the response envelope.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("API returned error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !envelope.Success {
		return errors.New("response not marked successful")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)

	return u.String(), nil
}

func ownerPath(owner uuid.UUID, rest ...string) []string {
	return append([]string{"api", "owners", owner.String()}, rest...)
}
