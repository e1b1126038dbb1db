package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	domainchat "bizlink/internal/domain/chat"
	"bizlink/internal/domain/presence"
)

// FriendDirectory lists a user's accepted connections.
type FriendDirectory interface {
	Friends(ctx context.Context, userID string) ([]string, error)
}

// Broadcaster pushes presence transitions to the accepted connections that
// currently hold a registered session. Delivery is best-effort: recipients
// without a session are skipped, never queued.
type Broadcaster struct {
	Registry  *Registry
	Directory FriendDirectory
	Logger    *slog.Logger
	Now       func() time.Time
}

func (b *Broadcaster) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Broadcast fans out a status change and returns how many recipients received
// it versus were skipped.
func (b *Broadcaster) Broadcast(ctx context.Context, userID string, status presence.Status) (delivered, skipped int, err error) {
	if !status.Valid() {
		return 0, 0, fmt.Errorf("%w: unknown status %q", domainchat.ErrValidation, status)
	}
	friends, err := b.Directory.Friends(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("list connections: %w", err)
	}
	event := Event{
		Type: EventFriendStatusChanged,
		Data: StatusPayload{UserID: userID, Status: status, LastActive: b.now()},
	}
	for _, friend := range friends {
		handle, ok := b.Registry.Lookup(friend)
		if !ok {
			skipped++
			continue
		}
		if err := handle.Send(ctx, event); err != nil {
			if b.Logger != nil {
				b.Logger.Debug("presence push failed", "user_id", userID, "recipient", friend, "error", err)
			}
			skipped++
			continue
		}
		delivered++
	}
	return delivered, skipped, nil
}
