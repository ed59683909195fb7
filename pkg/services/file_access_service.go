package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/cache"
	"github.com/ekaya-inc/obra-engine/pkg/logging"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// FileAccessService hands out signed links to stored documents.
type FileAccessService interface {
	// SignedURL returns a link to path, reusing a cached one while it is fresh.
	// The path must live under the owner root.
	SignedURL(ctx context.Context, ownerID uuid.UUID, path string) (storage.SignedURL, error)

	// OpenSigned verifies a signed link and opens the object.
	OpenSigned(ctx context.Context, path string, expires int64, signature string) (io.ReadCloser, error)
}

type fileAccessService struct {
	blobs  storage.BlobStore
	caches *cache.Manager
	urlTTL time.Duration
	logger *zap.Logger
}

// NewFileAccessService creates a new file access service. urlTTL is the
// validity of issued links; it must outlive the signed URL cache TTL.
func NewFileAccessService(blobs storage.BlobStore, caches *cache.Manager, urlTTL time.Duration, logger *zap.Logger) FileAccessService {
	return &fileAccessService{
		blobs:  blobs,
		caches: caches,
		urlTTL: urlTTL,
		logger: logger.Named("files"),
	}
}

func (s *fileAccessService) SignedURL(ctx context.Context, ownerID uuid.UUID, path string) (storage.SignedURL, error) {
	clean, err := storage.CleanPath(path)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("%s: %w", err.Error(), apperrors.ErrInvalidInput)
	}
	if !strings.HasPrefix(clean, ownerID.String()+"/") {
		return storage.SignedURL{}, fmt.Errorf("path %q: %w", clean, apperrors.ErrNotFound)
	}

	scope := s.caches.Init(ownerID)
	signed, err := scope.SignedURLs.GetOrLoad(ctx, clean, func(context.Context) (storage.SignedURL, error) {
		return s.blobs.SignURL(clean, s.urlTTL)
	})
	if err != nil {
		return storage.SignedURL{}, err
	}

	s.logger.Debug("Issued signed URL", zap.String("url", logging.SanitizeSignedURL(signed.URL)))
	return signed, nil
}

func (s *fileAccessService) OpenSigned(ctx context.Context, path string, expires int64, signature string) (io.ReadCloser, error) {
	if err := s.blobs.Verify(path, expires, signature); err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, path)
}

// Ensure fileAccessService implements FileAccessService at compile time.
var _ FileAccessService = (*fileAccessService)(nil)
