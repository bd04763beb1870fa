package avatars

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatfeed/pkg/models"
)

// fakeSource is a controllable ProfileSource recording every fetch.
type fakeSource struct {
	mu       sync.Mutex
	calls    map[string]int
	profiles map[string]models.Profile
	errs     map[string]error
	release  chan struct{} // when set, fetches block until closed
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:    make(map[string]int),
		profiles: make(map[string]models.Profile),
		errs:     make(map[string]error),
	}
}

func (f *fakeSource) Profile(ctx context.Context, account string) (models.Profile, error) {
	f.mu.Lock()
	f.calls[account]++
	release := f.release
	p, err := f.profiles[account], f.errs[account]
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return p, err
}

func (f *fakeSource) callCount(account string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[account]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestResolveCachesURL(t *testing.T) {
	src := newFakeSource()
	src.profiles["alice.testnet"] = models.Profile{Account: "alice.testnet", AvatarURL: "https://img.test/alice.png"}
	c := New(src)
	defer c.Close()

	if _, ok := c.Resolve("alice.testnet"); ok {
		t.Fatalf("first resolve must miss and trigger a background fetch")
	}
	waitFor(t, func() bool {
		u, ok := c.Resolve("alice.testnet")
		return ok && u == "https://img.test/alice.png"
	})
	if n := src.callCount("alice.testnet"); n != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", n)
	}
}

func TestResolveSkipsInFlight(t *testing.T) {
	src := newFakeSource()
	src.profiles["alice.testnet"] = models.Profile{Account: "alice.testnet", AvatarURL: "https://img.test/a.png"}
	src.release = make(chan struct{})
	c := New(src)
	defer c.Close()

	c.Resolve("alice.testnet")
	waitFor(t, func() bool { return src.callCount("alice.testnet") == 1 })

	// second resolve while the first fetch is blocked must not start another
	c.Resolve("alice.testnet")
	c.Resolve("alice.testnet")
	time.Sleep(20 * time.Millisecond)
	if n := src.callCount("alice.testnet"); n != 1 {
		t.Fatalf("expected 1 in-flight fetch, got %d", n)
	}
	close(src.release)
}

func TestEmptyResultSchedulesRetryNotPlaceholder(t *testing.T) {
	src := newFakeSource() // profile exists but has no avatar yet
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	c := New(src, WithClock(clock))
	defer c.Close()

	c.Resolve("bob.testnet")
	waitFor(t, func() bool { return src.callCount("bob.testnet") == 1 })
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.inflight) == 0
	})

	// inside the backoff window: no new fetch
	c.Resolve("bob.testnet")
	time.Sleep(20 * time.Millisecond)
	if n := src.callCount("bob.testnet"); n != 1 {
		t.Fatalf("retry inside backoff window fetched again: %d", n)
	}

	// step past the window and complete the profile
	src.mu.Lock()
	src.profiles["bob.testnet"] = models.Profile{Account: "bob.testnet", AvatarURL: "https://img.test/b.png"}
	src.mu.Unlock()
	mu.Lock()
	now = now.Add(DefaultRetryAfter + time.Second)
	mu.Unlock()

	c.Resolve("bob.testnet")
	waitFor(t, func() bool {
		u, ok := c.Resolve("bob.testnet")
		return ok && u == "https://img.test/b.png"
	})
}

func TestInvalidatePurgesAndBacksOff(t *testing.T) {
	src := newFakeSource()
	src.profiles["alice.testnet"] = models.Profile{Account: "alice.testnet", AvatarURL: "https://img.test/a.png"}
	c := New(src)
	defer c.Close()

	c.Resolve("alice.testnet")
	waitFor(t, func() bool { _, ok := c.Resolve("alice.testnet"); return ok })

	c.Invalidate("alice.testnet")
	if _, ok := c.Resolve("alice.testnet"); ok {
		t.Fatalf("invalidated URL must be purged")
	}
	// purge schedules a retry window; no immediate refetch
	time.Sleep(20 * time.Millisecond)
	if n := src.callCount("alice.testnet"); n != 1 {
		t.Fatalf("expected no refetch inside retry window, got %d", n)
	}
}

func TestResolveAllBatches(t *testing.T) {
	src := newFakeSource()
	src.profiles["a"] = models.Profile{Account: "a", AvatarURL: "https://img.test/a.png"}
	src.profiles["b"] = models.Profile{Account: "b", AvatarURL: "https://img.test/b.png"}
	c := New(src)
	defer c.Close()

	c.ResolveAll([]string{"a", "b", "a", ""})
	waitFor(t, func() bool {
		_, okA := c.Resolve("a")
		_, okB := c.Resolve("b")
		return okA && okB
	})
	if src.callCount("a") != 1 || src.callCount("b") != 1 {
		t.Fatalf("expected 1 fetch per account, got a=%d b=%d", src.callCount("a"), src.callCount("b"))
	}
}

func TestCloseDiscardsLateResults(t *testing.T) {
	src := newFakeSource()
	src.profiles["alice.testnet"] = models.Profile{Account: "alice.testnet", AvatarURL: "https://img.test/a.png"}
	src.release = make(chan struct{})
	c := New(src)

	c.Resolve("alice.testnet")
	waitFor(t, func() bool { return src.callCount("alice.testnet") == 1 })

	c.Close()
	close(src.release)

	// the late resolution must not land in a torn-down cache
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	_, cached := c.urls["alice.testnet"]
	c.mu.Unlock()
	if cached {
		t.Fatalf("late fetch result applied after Close")
	}
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	src := newFakeSource()
	c := New(src)
	defer c.Close()

	c.Resolve("bob.testnet") // resolves empty, schedules retry
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.notBefore) == 1
	})

	if n := c.Sweep(time.Now()); n != 0 {
		t.Fatalf("unexpired window swept: %d", n)
	}
	if n := c.Sweep(time.Now().Add(DefaultRetryAfter + time.Minute)); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
}
