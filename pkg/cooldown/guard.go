// Package cooldown enforces the minimum interval between successive
// accepted sends from one session. The guard is advisory and local only:
// it makes no assumption about server-side enforcement and tolerates the
// backing store accepting or rejecting messages on a different cadence.
package cooldown

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the reference cooldown between accepted sends.
const DefaultInterval = 3 * time.Second

// Guard tracks the earliest time a new send may be accepted. It is a
// burst-1 token limiter: one accepted send drains the bucket, which
// refills over the configured interval.
type Guard struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	interval time.Duration
}

// New creates a Guard with the given interval. Zero or negative intervals
// fall back to DefaultInterval.
func New(interval time.Duration) *Guard {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Guard{lim: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
}

// CanSend reports whether a send may be accepted at now.
func (g *Guard) CanSend(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lim.TokensAt(now) >= 1
}

// RecordSend consumes the token for an accepted send, advancing the next
// allowed send to now + interval. Call only after CanSend returned true.
func (g *Guard) RecordSend(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lim.AllowN(now, 1)
}

// Remaining returns how long until the next send is allowed; zero when a
// send would be accepted now.
func (g *Guard) Remaining(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	tokens := g.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) * float64(g.interval))
}

// Pool hands out one Guard per key, lazily. Used by the HTTP surface to
// keep a per-account cooldown without a session object per caller.
type Pool struct {
	mu       sync.Mutex
	m        map[string]*Guard
	interval time.Duration
}

// NewPool creates a Pool whose guards use the given interval.
func NewPool(interval time.Duration) *Pool {
	return &Pool{m: make(map[string]*Guard), interval: interval}
}

// Guard returns the guard for key, creating it on first use.
func (p *Pool) Guard(key string) *Guard {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.m[key]; ok {
		return g
	}
	g := New(p.interval)
	p.m[key] = g
	return g
}
