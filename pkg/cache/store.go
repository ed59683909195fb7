// Package cache holds the TTL-bounded caches that sit in front of the
// backing store: signed URLs, downloaded blobs, documents trees and
// extraction links.
//
// Every Store deduplicates concurrent loads of the same key, never lets a
// load that started before a write overwrite that write, serves the last
// good value when the backend fails, and stops calling a rate-limited
// backend for a cooldown window.
package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/metrics"
)

// Loader fetches the current value of a key from the backing store.
type Loader[V any] func(ctx context.Context) (V, error)

// Options configures a Store.
type Options[V any] struct {
	// Name labels metrics and logs ("signed_urls", "blobs", ...).
	Name string
	// TTL is how long a value is served without reloading.
	TTL time.Duration
	// MaxStale is how long past expiry a value is kept for stale serving.
	// Zero keeps it for one more TTL.
	MaxStale time.Duration
	// Cooldown suppresses loads after the backend reports a rate limit.
	Cooldown time.Duration
	// MaxEntries bounds the store; the least recently used entry is evicted.
	MaxEntries int
	// Release is called with every value that leaves the store.
	Release func(V)
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry[V any] struct {
	value      V
	expiresAt  time.Time
	lastAccess time.Time
}

// Store is a keyed TTL cache. It is safe for concurrent use.
type Store[V any] struct {
	name       string
	ttl        time.Duration
	maxStale   time.Duration
	cooldown   time.Duration
	maxEntries int
	release    func(V)
	now        func() time.Time
	logger     *zap.Logger

	mu            sync.Mutex
	entries       map[string]*entry[V]
	seq           uint64
	written       map[string]uint64
	clearedAt     uint64
	inflight      map[string]int
	cooldownUntil time.Time
	closed        bool

	group singleflight.Group
}

// NewStore creates a Store.
func NewStore[V any](opts Options[V], logger *zap.Logger) *Store[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxStale := opts.MaxStale
	if maxStale <= 0 {
		maxStale = opts.TTL
	}
	return &Store[V]{
		name:       opts.Name,
		ttl:        opts.TTL,
		maxStale:   maxStale,
		cooldown:   opts.Cooldown,
		maxEntries: opts.MaxEntries,
		release:    opts.Release,
		now:        now,
		logger:     logger.Named("cache").With(zap.String("cache", opts.Name)),
		entries:    make(map[string]*entry[V]),
		written:    make(map[string]uint64),
		inflight:   make(map[string]int),
	}
}

// Name returns the store's label.
func (s *Store[V]) Name() string { return s.name }

// Get returns a fresh value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		metrics.CacheMisses.WithLabelValues(s.name).Inc()
		var zero V
		return zero, false
	}
	e.lastAccess = s.now()
	metrics.CacheHits.WithLabelValues(s.name).Inc()
	return e.value, true
}

// GetStale returns the value for key even if expired, and whether it is fresh.
func (s *Store[V]) GetStale(key string) (value V, fresh, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	if !exists {
		return value, false, false
	}
	return e.value, s.now().Before(e.expiresAt), true
}

// Set writes value for key. Loads already in flight for key will not
// overwrite it. The replaced value, if any, is released. A closed store
// releases value instead of keeping it.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseValue(value)
		return
	}
	s.seq++
	s.written[key] = s.seq
	released := s.put(key, value)
	s.mu.Unlock()

	s.releaseAll(released)
}

// SetWithTTL writes value with an explicit lifetime, e.g. a signed URL
// that expires before the store's TTL.
func (s *Store[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseValue(value)
		return
	}
	s.seq++
	s.written[key] = s.seq
	released := s.put(key, value)
	if e := s.entries[key]; e != nil && ttl < s.ttl {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Unlock()

	s.releaseAll(released)
}

// put stores value under key and returns the values pushed out of the
// store, which the caller releases after unlocking. Callers hold s.mu.
func (s *Store[V]) put(key string, value V) []V {
	now := s.now()
	if e, ok := s.entries[key]; ok {
		old := e.value
		e.value = value
		e.expiresAt = now.Add(s.ttl)
		e.lastAccess = now
		if sameValue(old, value) {
			return nil
		}
		return []V{old}
	}
	var out []V
	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if evicted, ok := s.evictLRU(); ok {
			out = append(out, evicted)
		}
	}
	s.entries[key] = &entry[V]{value: value, expiresAt: now.Add(s.ttl), lastAccess: now}
	return out
}

func (s *Store[V]) evictLRU() (V, bool) {
	var oldestKey string
	var oldest time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey, oldest = k, e.lastAccess
		}
	}
	if oldestKey == "" {
		var zero V
		return zero, false
	}
	v := s.entries[oldestKey].value
	delete(s.entries, oldestKey)
	metrics.CacheEvictions.WithLabelValues(s.name).Inc()
	return v, true
}

// Delete invalidates key. A load already in flight for key is not cached.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	s.seq++
	s.written[key] = s.seq
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		s.releaseValue(e.value)
	}
}

// DeletePrefix invalidates every key starting with prefix.
func (s *Store[V]) DeletePrefix(prefix string) int {
	s.mu.Lock()
	s.seq++
	var removed []V
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			removed = append(removed, e.value)
			delete(s.entries, k)
			s.written[k] = s.seq
		}
	}
	// Keys currently loading but not yet stored must not land either.
	for k := range s.inflight {
		if strings.HasPrefix(k, prefix) {
			s.written[k] = s.seq
		}
	}
	s.mu.Unlock()

	s.releaseAll(removed)
	return len(removed)
}

// Clear drops every entry and releases it.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.seq++
	s.clearedAt = s.seq
	s.written = make(map[string]uint64)
	old := s.entries
	s.entries = make(map[string]*entry[V])
	s.mu.Unlock()

	for _, e := range old {
		s.releaseValue(e.value)
	}
}

// Close clears the store and makes later loads bypass it.
func (s *Store[V]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Clear()
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes entries that are too old to be served even as stale.
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.maxStale)
	if len(s.inflight) == 0 {
		// Write marks only matter to loads in flight.
		s.written = make(map[string]uint64)
	}
	var removed []V
	for k, e := range s.entries {
		if e.expiresAt.Before(cutoff) {
			removed = append(removed, e.value)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	for _, v := range removed {
		metrics.CacheEvictions.WithLabelValues(s.name).Inc()
		s.releaseValue(v)
	}
	return len(removed)
}

// CoolingDown reports whether loads are currently suppressed.
func (s *Store[V]) CoolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}

// GetOrLoad returns a fresh cached value or loads it. Concurrent callers for
// the same key share one load. On load failure the last value is returned
// if one exists; a rate-limit error also starts the cooldown window, during
// which loads are not attempted at all.
func (s *Store[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	return s.load(ctx, key, load)
}

// Refresh reloads key even if the cached value is fresh.
func (s *Store[V]) Refresh(ctx context.Context, key string, load Loader[V]) (V, error) {
	return s.load(ctx, key, load)
}

// Prefetch refreshes key in the background. It joins a load already in
// flight for key instead of starting another. The returned channel is
// closed when the load finishes.
func (s *Store[V]) Prefetch(key string, load Loader[V]) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.load(context.Background(), key, load); err != nil {
			s.logger.Debug("Prefetch failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return done
}

func (s *Store[V]) load(ctx context.Context, key string, load Loader[V]) (V, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return load(ctx)
	}
	if s.now().Before(s.cooldownUntil) {
		s.mu.Unlock()
		return s.fallback(key, fmt.Errorf("%s: %w", s.name, apperrors.ErrRateLimited))
	}
	// Loads are shared only within one write generation of key, so a read
	// issued after an invalidation never joins a load that started before it.
	flight := fmt.Sprintf("%s#%d#%d", key, s.written[key], s.clearedAt)
	startSeq := s.seq
	s.inflight[key]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight[key]--; s.inflight[key] <= 0 {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	res, err, shared := s.group.Do(flight, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}

		s.mu.Lock()
		if s.closed || s.written[key] > startSeq || s.clearedAt > startSeq {
			// A write landed while loading; it is newer than v.
			current, ok := s.entries[key]
			s.mu.Unlock()
			if ok {
				s.releaseValue(v)
				return current.value, nil
			}
			// Only callers that read before the invalidation share this load.
			return v, nil
		}
		released := s.put(key, v)
		s.mu.Unlock()
		s.releaseAll(released)
		return v, nil
	})
	if shared {
		metrics.CacheDeduplicated.WithLabelValues(s.name).Inc()
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) && s.cooldown > 0 {
			s.mu.Lock()
			s.cooldownUntil = s.now().Add(s.cooldown)
			s.mu.Unlock()
			s.logger.Warn("Backend rate limited, suppressing refreshes",
				zap.Duration("cooldown", s.cooldown))
		}
		return s.fallback(key, err)
	}
	return res.(V), nil
}

// fallback serves the last known value for key, or returns err.
func (s *Store[V]) fallback(key string, err error) (V, error) {
	if v, _, ok := s.GetStale(key); ok {
		metrics.CacheStaleServed.WithLabelValues(s.name).Inc()
		s.logger.Debug("Serving stale value", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	var zero V
	return zero, err
}

func (s *Store[V]) releaseValue(v V) {
	if s.release != nil {
		s.release(v)
	}
}

// sameValue reports whether a and b are the same comparable value, so that
// re-setting a key to what it already holds does not release it.
func sameValue[V any](a, b V) bool {
	va, vb := reflect.ValueOf(&a).Elem(), reflect.ValueOf(&b).Elem()
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

func (s *Store[V]) releaseAll(vs []V) {
	for _, v := range vs {
		s.releaseValue(v)
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (s *Store[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
