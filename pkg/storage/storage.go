// Package storage is the file-blob backend: documents live under an owner
// root and are handed out through time-limited signed URLs.
package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// ErrInvalidSignature is returned for tampered or expired signed URLs.
var ErrInvalidSignature = errors.New("invalid or expired signature")

// ErrInvalidPath is returned for paths escaping the storage root.
var ErrInvalidPath = errors.New("invalid storage path")

// SignedURL is a time-limited link to a stored object.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlobStore is the object storage used for uploaded documents.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	SignURL(path string, ttl time.Duration) (SignedURL, error)
	Verify(path string, expires int64, signature string) error
	// Download copies the object to a local temp file owned by the Blob.
	Download(ctx context.Context, path string) (*Blob, error)
}

// Blob is a downloaded copy of a stored object. Its temp file lives until
// Release is called.
type Blob struct {
	Path      string
	LocalPath string
	Size      int64

	once sync.Once
	err  error
}

// Open opens the local copy.
func (b *Blob) Open() (*os.File, error) {
	return os.Open(b.LocalPath)
}

// Bytes reads the whole local copy.
func (b *Blob) Bytes() ([]byte, error) {
	return os.ReadFile(b.LocalPath)
}

// Release removes the local copy. Safe to call more than once.
func (b *Blob) Release() error {
	if b == nil {
		return nil
	}
	b.once.Do(func() {
		if err := os.Remove(b.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.err = err
		}
	})
	return b.err
}

// Released reports whether the local copy is gone.
func (b *Blob) Released() bool {
	_, err := os.Stat(b.LocalPath)
	return errors.Is(err, os.ErrNotExist)
}
