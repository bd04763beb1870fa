// Package avatars resolves sender identities to displayable image URLs,
// lazily and with retry backoff. Backoff is a pure function of the stored
// not-before timestamp evaluated at each Resolve call, so no timers leak
// across teardown.
package avatars

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chatfeed/pkg/backend"
	"chatfeed/pkg/logger"
	"chatfeed/pkg/telemetry"
)

const (
	// DefaultRetryAfter is the window during which an id that resolved
	// empty or failed is not fetched again.
	DefaultRetryAfter = 25 * time.Second
	// DefaultMaxConcurrent bounds outstanding fetches so batch resolution
	// cannot overwhelm the upstream identity source.
	DefaultMaxConcurrent = 6
)

// Cache is the per-session avatar resolution state. All maps are owned by
// the cache and mutated under its lock; background fetches re-check
// liveness before applying their result so a late resolution reaching a
// torn-down cache is discarded, not applied.
type Cache struct {
	mu        sync.Mutex
	urls      map[string]string
	notBefore map[string]time.Time
	inflight  map[string]struct{}
	closed    bool

	source     backend.ProfileSource
	sem        *semaphore.Weighted
	retryAfter time.Duration
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetryAfter overrides the retry-backoff window.
func WithRetryAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retryAfter = d
		}
	}
}

// WithMaxConcurrent overrides the outstanding-fetch bound.
func WithMaxConcurrent(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithClock overrides the time source. Tests use this to step through
// backoff windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over the given profile source.
func New(source backend.ProfileSource, opts ...Option) *Cache {
	c := &Cache{
		urls:       make(map[string]string),
		notBefore:  make(map[string]time.Time),
		inflight:   make(map[string]struct{}),
		source:     source,
		sem:        semaphore.NewWeighted(DefaultMaxConcurrent),
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the cached URL for account if one is known. When nothing
// is cached it triggers a background fetch, unless a fetch is already in
// flight or the id is inside its retry window.
func (c *Cache) Resolve(account string) (string, bool) {
	if account == "" {
		return "", false
	}
	c.mu.Lock()
	if u, ok := c.urls[account]; ok && u != "" {
		c.mu.Unlock()
		return u, true
	}
	start := c.shouldFetchLocked(account)
	c.mu.Unlock()
	if start {
		go c.fetch(account)
	}
	return "", false
}

// ResolveAll triggers background fetches for every account that is not
// cached, not in flight and not inside its retry window. Used on store
// change to resolve only the identities currently rendered.
func (c *Cache) ResolveAll(accounts []string) {
	var start []string
	c.mu.Lock()
	for _, a := range accounts {
		if a == "" {
			continue
		}
		if u, ok := c.urls[a]; ok && u != "" {
			continue
		}
		if c.shouldFetchLocked(a) {
			start = append(start, a)
		}
	}
	c.mu.Unlock()
	for _, a := range start {
		go c.fetch(a)
	}
}

// Invalidate purges the cached URL for account and schedules a retry. Used
// when a render-time image load fails: a previously valid URL can go stale
// independently of the cache's own fetch logic.
func (c *Cache) Invalidate(account string) {
	c.mu.Lock()
	delete(c.urls, account)
	c.notBefore[account] = c.now().Add(c.retryAfter)
	c.mu.Unlock()
	logger.Debug("avatar_invalidated", "account", account)
}

// Sweep drops retry bookkeeping whose window has already passed and
// returns the number of entries removed. Resolved URLs are kept.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for a, nb := range c.notBefore {
		if now.After(nb) {
			delete(c.notBefore, a)
			n++
		}
	}
	return n
}

// Close marks the cache torn down. In-flight fetches are allowed to
// resolve but their results are discarded.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// shouldFetchLocked records account as in flight and reports whether the
// caller should start a fetch. Callers must hold c.mu.
func (c *Cache) shouldFetchLocked(account string) bool {
	if c.closed {
		return false
	}
	if _, busy := c.inflight[account]; busy {
		return false
	}
	if nb, ok := c.notBefore[account]; ok && c.now().Before(nb) {
		return false
	}
	c.inflight[account] = struct{}{}
	return true
}

// fetch resolves one account against the profile source. An empty URL is
// inconclusive, not negative: "not set yet" and "query failed" are
// indistinguishable and a profile can be completed later, so the cache
// schedules a retry instead of committing a placeholder.
func (c *Cache) fetch(account string) {
	ctx := context.Background()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.clearInflight(account)
		return
	}
	defer c.sem.Release(1)

	p, err := c.source.Profile(ctx, account)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, account)
	if c.closed {
		return
	}
	switch {
	case err != nil:
		c.notBefore[account] = c.now().Add(c.retryAfter)
		telemetry.AvatarFetches.WithLabelValues("error").Inc()
		logger.Debug("avatar_fetch_failed", "account", account, "error", err)
	case p.AvatarURL == "":
		c.notBefore[account] = c.now().Add(c.retryAfter)
		telemetry.AvatarFetches.WithLabelValues("empty").Inc()
	default:
		c.urls[account] = p.AvatarURL
		delete(c.notBefore, account)
		telemetry.AvatarFetches.WithLabelValues("resolved").Inc()
	}
}

func (c *Cache) clearInflight(account string) {
	c.mu.Lock()
	delete(c.inflight, account)
	c.mu.Unlock()
}
