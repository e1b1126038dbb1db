package realtime

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeHandle is a function-field test double for a live transport.
type fakeHandle struct {
	mu     sync.Mutex
	events []Event
	closes []string
	send   func(event Event) error
}

func (h *fakeHandle) Send(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.send != nil {
		return h.send(event)
	}
	h.events = append(h.events, event)
	return nil
}

func (h *fakeHandle) Close(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes = append(h.closes, reason)
	return nil
}

func (h *fakeHandle) sent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *fakeHandle) closed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.closes...)
}

func TestRegistry_LastConnectWins(t *testing.T) {
	reg := NewRegistry()
	first := &fakeHandle{}
	second := &fakeHandle{}

	reg.Register("alice", first)
	reg.Register("alice", second)

	if got := reg.Count(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	handle, ok := reg.Lookup("alice")
	if !ok || handle != Handle(second) {
		t.Error("lookup should return the newest handle")
	}
	if closes := first.closed(); len(closes) != 1 {
		t.Errorf("prior handle closes = %v, want exactly one", closes)
	}
	if closes := second.closed(); len(closes) != 0 {
		t.Errorf("new handle closes = %v, want none", closes)
	}
}

func TestRegistry_DeregisterOnlyOwnHandle(t *testing.T) {
	reg := NewRegistry()
	old := &fakeHandle{}
	replacement := &fakeHandle{}

	reg.Register("alice", old)
	reg.Register("alice", replacement)

	// The stale connection's teardown must not remove the replacement.
	if reg.Deregister("alice", old) {
		t.Error("stale handle deregister should report false")
	}
	if _, ok := reg.Lookup("alice"); !ok {
		t.Fatal("replacement session was removed by the stale teardown")
	}
	if !reg.Deregister("alice", replacement) {
		t.Error("owning handle deregister should report true")
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Error("session should be gone")
	}
}

func TestRegistry_SweepEvictsStaleOnce(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	current := now

	var evictMu sync.Mutex
	evicted := map[string]int{}

	reg := NewRegistry()
	reg.Staleness = 5 * time.Minute
	reg.Now = func() time.Time { return current }
	reg.OnEvict = func(ctx context.Context, userID string) {
		evictMu.Lock()
		evicted[userID]++
		evictMu.Unlock()
	}

	stale := &fakeHandle{}
	fresh := &fakeHandle{}
	reg.Register("stale", stale)
	reg.Register("fresh", fresh)

	current = now.Add(4 * time.Minute)
	reg.Touch("fresh")
	current = now.Add(6 * time.Minute)

	reg.sweepOnce(context.Background())
	reg.sweepOnce(context.Background())

	if _, ok := reg.Lookup("stale"); ok {
		t.Error("stale session survived the sweep")
	}
	if _, ok := reg.Lookup("fresh"); !ok {
		t.Error("fresh session was evicted")
	}
	if closes := stale.closed(); len(closes) != 1 || closes[0] != "session expired" {
		t.Errorf("stale closes = %v, want one expiry close", closes)
	}
	evictMu.Lock()
	defer evictMu.Unlock()
	if evicted["stale"] != 1 {
		t.Errorf("evict callbacks for stale = %d, want exactly 1", evicted["stale"])
	}
	if evicted["fresh"] != 0 {
		t.Errorf("evict callbacks for fresh = %d, want 0", evicted["fresh"])
	}
}

func TestRegistry_TouchKeepsSessionAlive(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	current := now

	reg := NewRegistry()
	reg.Staleness = 5 * time.Minute
	reg.Now = func() time.Time { return current }

	reg.Register("alice", &fakeHandle{})
	for i := 0; i < 3; i++ {
		current = current.Add(4 * time.Minute)
		reg.Touch("alice")
		reg.sweepOnce(context.Background())
	}
	if _, ok := reg.Lookup("alice"); !ok {
		t.Error("continuously active session was evicted")
	}
}
