package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/storage"
)

// Config holds the lifetimes of each cache.
type Config struct {
	SignedURLTTL      time.Duration
	BlobTTL           time.Duration
	TreeTTL           time.Duration
	LinksTTL          time.Duration
	RateLimitCooldown time.Duration
	MaxBlobs          int
}

// DefaultConfig returns the standard lifetimes.
func DefaultConfig() Config {
	return Config{
		SignedURLTTL:      55 * time.Minute,
		BlobTTL:           30 * time.Minute,
		TreeTTL:           5 * time.Minute,
		LinksTTL:          15 * time.Minute,
		RateLimitCooldown: 30 * time.Second,
		MaxBlobs:          64,
	}
}

// Scope is the set of caches belonging to one owner.
type Scope struct {
	OwnerID uuid.UUID

	// SignedURLs is keyed by storage path.
	SignedURLs *Store[storage.SignedURL]
	// Blobs is keyed by storage path; superseded blobs are released.
	Blobs *Store[*storage.Blob]
	// Trees holds the owner's documents tree under TreeKey.
	Trees *Store[*models.DocumentsTree]
	// Links is keyed by normalized folder path, or AllLinksKey.
	Links *Store[[]models.ExtractionLink]
}

const (
	// TreeKey is the single key of a scope's tree cache.
	TreeKey = "tree"
	// AllLinksKey caches the owner's full link set.
	AllLinksKey = "*"
)

func newScope(owner uuid.UUID, cfg Config, now func() time.Time, logger *zap.Logger) *Scope {
	logger = logger.With(zap.String("owner_id", owner.String()))
	return &Scope{
		OwnerID: owner,
		SignedURLs: NewStore(Options[storage.SignedURL]{
			Name: "signed_urls", TTL: cfg.SignedURLTTL, Cooldown: cfg.RateLimitCooldown, Now: now,
		}, logger),
		Blobs: NewStore(Options[*storage.Blob]{
			Name: "blobs", TTL: cfg.BlobTTL, Cooldown: cfg.RateLimitCooldown, MaxEntries: cfg.MaxBlobs, Now: now,
			Release: func(b *storage.Blob) {
				if err := b.Release(); err != nil {
					logger.Warn("Failed to release blob", zap.String("path", b.Path), zap.Error(err))
				}
			},
		}, logger),
		Trees: NewStore(Options[*models.DocumentsTree]{
			Name: "trees", TTL: cfg.TreeTTL, Cooldown: cfg.RateLimitCooldown, Now: now,
		}, logger),
		Links: NewStore(Options[[]models.ExtractionLink]{
			Name: "links", TTL: cfg.LinksTTL, Cooldown: cfg.RateLimitCooldown, Now: now,
		}, logger),
	}
}

// InvalidateContent drops the tree and link caches. Call it after any write
// to rows, tablas, links or folder contents, before the next read.
func (s *Scope) InvalidateContent() {
	s.Trees.Clear()
	s.Links.Clear()
}

// InvalidatePath drops everything cached for a storage path.
func (s *Scope) InvalidatePath(path string) {
	s.SignedURLs.Delete(path)
	s.Blobs.Delete(path)
	s.InvalidateContent()
}

// Cleanup evicts entries too old to serve.
func (s *Scope) Cleanup() {
	s.SignedURLs.Cleanup()
	s.Blobs.Cleanup()
	s.Trees.Cleanup()
	s.Links.Cleanup()
}

func (s *Scope) close() {
	s.SignedURLs.Close()
	s.Blobs.Close()
	s.Trees.Close()
	s.Links.Close()
}

// Manager owns the per-owner scopes. It is created once and passed to the
// services that read through it.
type Manager struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	scopes map[uuid.UUID]*Scope
}

// NewManager creates a Manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Named("cache"),
		scopes: make(map[uuid.UUID]*Scope),
	}
}

// Init returns the owner's scope, creating it on first use.
func (m *Manager) Init(owner uuid.UUID) *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.scopes[owner]; ok {
		return s
	}
	s := newScope(owner, m.cfg, m.now, m.logger)
	m.scopes[owner] = s
	m.logger.Debug("Cache scope initialized", zap.String("owner_id", owner.String()))
	return s
}

// Scope returns the owner's scope if it was initialized.
func (m *Manager) Scope(owner uuid.UUID) (*Scope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scopes[owner]
	return s, ok
}

// InvalidateOwner drops the owner's tree and link caches, if any.
func (m *Manager) InvalidateOwner(owner uuid.UUID) {
	if s, ok := m.Scope(owner); ok {
		s.InvalidateContent()
	}
}

// Dispose releases every cached value of the owner and forgets the scope.
func (m *Manager) Dispose(owner uuid.UUID) {
	m.mu.Lock()
	s, ok := m.scopes[owner]
	delete(m.scopes, owner)
	m.mu.Unlock()

	if ok {
		s.close()
		m.logger.Debug("Cache scope disposed", zap.String("owner_id", owner.String()))
	}
}

// DisposeAll disposes every scope.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	scopes := m.scopes
	m.scopes = make(map[uuid.UUID]*Scope)
	m.mu.Unlock()

	for _, s := range scopes {
		s.close()
	}
}

// Cleanup evicts stale entries in every scope.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	scopes := make([]*Scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		scopes = append(scopes, s)
	}
	m.mu.Unlock()

	for _, s := range scopes {
		s.Cleanup()
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}
