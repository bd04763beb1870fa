package cooldown

import (
	"testing"
	"time"
)

func TestGuardLifecycle(t *testing.T) {
	g := New(3 * time.Second)
	now := time.Now()

	if !g.CanSend(now) {
		t.Fatalf("fresh guard must allow the first send")
	}
	if r := g.Remaining(now); r != 0 {
		t.Fatalf("fresh guard remaining should be 0, got %s", r)
	}

	g.RecordSend(now)

	if g.CanSend(now) {
		t.Fatalf("send must be rejected immediately after an accepted send")
	}
	r := g.Remaining(now.Add(1 * time.Second))
	if r < 1900*time.Millisecond || r > 2100*time.Millisecond {
		t.Fatalf("expected ~2s remaining after 1s, got %s", r)
	}

	after := now.Add(3*time.Second + 50*time.Millisecond)
	if !g.CanSend(after) {
		t.Fatalf("send must be allowed once the interval elapsed")
	}
	if r := g.Remaining(after); r != 0 {
		t.Fatalf("remaining must be 0 once the interval elapsed, got %s", r)
	}
}

func TestGuardAdvancesOnEveryAcceptedSend(t *testing.T) {
	g := New(3 * time.Second)
	now := time.Now()

	g.RecordSend(now)
	later := now.Add(3*time.Second + 50*time.Millisecond)
	if !g.CanSend(later) {
		t.Fatalf("expected send allowed after interval")
	}
	g.RecordSend(later)
	if g.CanSend(later.Add(time.Second)) {
		t.Fatalf("second accepted send must restart the cooldown")
	}
}

func TestGuardDefaultInterval(t *testing.T) {
	g := New(0)
	now := time.Now()
	g.RecordSend(now)
	r := g.Remaining(now)
	if r < DefaultInterval-100*time.Millisecond || r > DefaultInterval {
		t.Fatalf("expected default interval remaining, got %s", r)
	}
}

func TestPoolHandsOutPerKeyGuards(t *testing.T) {
	p := NewPool(3 * time.Second)
	now := time.Now()

	a := p.Guard("alice.testnet")
	a.RecordSend(now)
	if a.CanSend(now) {
		t.Fatalf("alice should be cooling down")
	}
	if !p.Guard("bob.testnet").CanSend(now) {
		t.Fatalf("bob must not share alice's cooldown")
	}
	if p.Guard("alice.testnet") != a {
		t.Fatalf("pool must return the same guard per key")
	}
}
