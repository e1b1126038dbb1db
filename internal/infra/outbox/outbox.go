package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrWorkerNotConfigured = errors.New("outbox: store and producer are required")

// EventRecord is a durable event awaiting publication to the broker.
type EventRecord struct {
	ID         string
	Name       string
	Aggregate  string
	Payload    []byte
	Headers    map[string]string
	OccurredAt time.Time
}

// PendingEvent is a claimed record together with its delivery bookkeeping.
type PendingEvent struct {
	EventRecord
	Attempts int
}

// Store persists outbox records and hands them to the worker one at a time.
type Store interface {
	Add(ctx context.Context, record EventRecord) error
	// Claim atomically picks the next due record, or returns nil when none is
	// ready.
	Claim(ctx context.Context, workerID string) (*PendingEvent, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

// Journal records chat events into the outbox from the application layer.
type Journal struct {
	Store Store
	Now   func() time.Time
}

func (j Journal) Record(ctx context.Context, name, aggregate string, payload any) error {
	if j.Store == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	return j.Store.Add(ctx, EventRecord{
		ID:         uuid.NewString(),
		Name:       name,
		Aggregate:  aggregate,
		Payload:    data,
		OccurredAt: now().UTC(),
	})
}
