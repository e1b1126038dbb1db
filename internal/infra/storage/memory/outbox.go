package memory

import (
	"context"
	"sync"
	"time"

	"bizlink/internal/infra/outbox"
)

// Outbox is the in-memory outbox store used without a Mongo deployment.
type Outbox struct {
	mu       sync.Mutex
	pending  []*pendingEntry
	sent     []outbox.EventRecord
	failures map[string]int
}

type pendingEntry struct {
	record      outbox.EventRecord
	attempts    int
	nextAttempt time.Time
	claimed     bool
}

func NewOutbox() *Outbox {
	return &Outbox{failures: make(map[string]int)}
}

func (o *Outbox) Add(ctx context.Context, record outbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, &pendingEntry{record: record, nextAttempt: time.Now().UTC()})
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*outbox.PendingEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	for _, entry := range o.pending {
		if entry.claimed || entry.nextAttempt.After(now) {
			continue
		}
		entry.claimed = true
		return &outbox.PendingEvent{EventRecord: entry.record, Attempts: entry.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, entry := range o.pending {
		if entry.record.ID == id {
			o.sent = append(o.sent, entry.record)
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.pending {
		if entry.record.ID == id {
			entry.claimed = false
			entry.attempts++
			entry.nextAttempt = next
			o.failures[id] = entry.attempts
			return nil
		}
	}
	return nil
}

// Sent returns the records that reached the broker, for tests and health
// inspection.
func (o *Outbox) Sent() []outbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outbox.EventRecord(nil), o.sent...)
}

// Pending returns the records not yet published.
func (o *Outbox) Pending() []outbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]outbox.EventRecord, 0, len(o.pending))
	for _, entry := range o.pending {
		out = append(out, entry.record)
	}
	return out
}
