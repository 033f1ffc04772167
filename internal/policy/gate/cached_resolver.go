package gate

import (
	"context"
	"sync"
	"time"
)

// CachedResolver wraps a ProfileResolver with a TTL cache so permission
// checks do not hit the database on every request.
type CachedResolver[U comparable] struct {
	inner ProfileResolver[U]
	cache map[U]cacheEntry
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	profile   Profile
	expiresAt time.Time
}

// NewCachedResolver wraps inner, caching profiles for ttl.
func NewCachedResolver[U comparable](inner ProfileResolver[U], ttl time.Duration) *CachedResolver[U] {
	return &CachedResolver[U]{inner: inner, cache: make(map[U]cacheEntry), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (r *CachedResolver[U]) WithClock(now func() time.Time) *CachedResolver[U] {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// Resolve returns the cached profile or fetches it from the inner resolver.
func (r *CachedResolver[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	r.mu.RLock()
	entry, ok := r.cache[user]
	now := r.now
	r.mu.RUnlock()
	if ok && now().Before(entry.expiresAt) {
		return entry.profile, nil
	}

	profile, err := r.inner.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[user] = cacheEntry{profile: profile, expiresAt: now().Add(r.ttl)}
	r.mu.Unlock()
	return profile, nil
}

// Invalidate drops one user, e.g. after their profile assignment changed.
func (r *CachedResolver[U]) Invalidate(user U) {
	r.mu.Lock()
	delete(r.cache, user)
	r.mu.Unlock()
}

// InvalidateAll clears the cache, e.g. after profile permissions changed.
func (r *CachedResolver[U]) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[U]cacheEntry)
	r.mu.Unlock()
}
