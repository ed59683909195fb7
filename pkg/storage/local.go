package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStore keeps objects on the local filesystem.
type LocalStore struct {
	root       string
	baseURL    string
	signingKey []byte
	now        func() time.Time
}

var _ BlobStore = (*LocalStore)(nil)

// NewLocalStore creates the root directory if needed. baseURL is the public
// address of the server that serves /api/files/raw.
func NewLocalStore(root, baseURL string, signingKey []byte) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("storage signing key is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{
		root:       root,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		signingKey: signingKey,
		now:        time.Now,
	}, nil
}

// CleanPath normalizes an object path and rejects escapes from the root.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func (s *LocalStore) fullPath(p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) Put(ctx context.Context, p string, r io.Reader) (int64, error) {
	_, full, err := s.fullPath(p)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("commit object: %w", err)
	}
	return n, nil
}

func (s *LocalStore) Open(_ context.Context, p string) (io.ReadCloser, error) {
	_, full, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, p string) error {
	_, full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List returns the objects under prefix, skipping in-progress uploads.
func (s *LocalStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	clean, base, err := s.fullPath(prefix)
	if err != nil {
		return nil, err
	}
	var out []ObjectInfo
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{
			Path:      path.Join(clean, filepath.ToSlash(rel)),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

func (s *LocalStore) sign(p string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(p))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignURL returns a link to /api/files/raw valid for ttl.
func (s *LocalStore) SignURL(p string, ttl time.Duration) (SignedURL, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return SignedURL{}, err
	}
	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	expires := expiresAt.Unix()

	q := url.Values{}
	q.Set("path", clean)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(clean, expires))
	return SignedURL{
		URL:       s.baseURL + "/api/files/raw?" + q.Encode(),
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks a signature produced by SignURL.
func (s *LocalStore) Verify(p string, expires int64, signature string) error {
	clean, err := CleanPath(p)
	if err != nil {
		return err
	}
	if s.now().Unix() > expires {
		return ErrInvalidSignature
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(s.sign(clean, expires))
	if !hmac.Equal(expected, decoded) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *LocalStore) Download(ctx context.Context, p string) (*Blob, error) {
	clean, _, err := s.fullPath(p)
	if err != nil {
		return nil, err
	}
	src, err := s.Open(ctx, clean)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "obra-blob-*"+path.Ext(clean))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, readerWithContext(ctx, src))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("download object: %w", err)
	}
	return &Blob{Path: clean, LocalPath: tmp.Name(), Size: n}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
