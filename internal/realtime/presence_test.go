package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/neilotoole/slogt"

	domainchat "bizlink/internal/domain/chat"
	"bizlink/internal/domain/presence"
)

type testFriends struct {
	friends func(userID string) ([]string, error)
}

func (d *testFriends) Friends(ctx context.Context, userID string) ([]string, error) {
	return d.friends(userID)
}

func TestBroadcaster_Broadcast(t *testing.T) {
	reg := NewRegistry()
	online := &fakeHandle{}
	reg.Register("bob", online)

	b := &Broadcaster{
		Registry: reg,
		Directory: &testFriends{friends: func(userID string) ([]string, error) {
			return []string{"bob", "carol", "dave"}, nil
		}},
		Logger: slogt.New(t),
	}

	delivered, skipped, err := b.Broadcast(context.Background(), "alice", presence.StatusOnline)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if delivered != 1 || skipped != 2 {
		t.Errorf("delivered = %d, skipped = %d, want 1 and 2", delivered, skipped)
	}

	events := online.sent()
	if len(events) != 1 || events[0].Type != EventFriendStatusChanged {
		t.Fatalf("events = %+v, want one friend_status_changed", events)
	}
	payload, ok := events[0].Data.(StatusPayload)
	if !ok {
		t.Fatalf("payload type %T", events[0].Data)
	}
	if payload.UserID != "alice" || payload.Status != presence.StatusOnline {
		t.Errorf("payload = %+v", payload)
	}
}

func TestBroadcaster_Broadcast_SendFailureCountsSkipped(t *testing.T) {
	reg := NewRegistry()
	broken := &fakeHandle{send: func(Event) error { return errors.New("gone") }}
	reg.Register("bob", broken)

	b := &Broadcaster{
		Registry:  reg,
		Directory: &testFriends{friends: func(string) ([]string, error) { return []string{"bob"}, nil }},
		Logger:    slogt.New(t),
	}
	delivered, skipped, err := b.Broadcast(context.Background(), "alice", presence.StatusAway)
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 0 || skipped != 1 {
		t.Errorf("delivered = %d, skipped = %d, want 0 and 1", delivered, skipped)
	}
}

func TestBroadcaster_Broadcast_InvalidStatus(t *testing.T) {
	b := &Broadcaster{
		Registry:  NewRegistry(),
		Directory: &testFriends{friends: func(string) ([]string, error) { return nil, nil }},
	}
	if _, _, err := b.Broadcast(context.Background(), "alice", "sleeping"); !errors.Is(err, domainchat.ErrValidation) {
		t.Errorf("invalid status = %v, want ErrValidation", err)
	}
}
