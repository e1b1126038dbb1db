package realtime

import (
	"context"
	"log/slog"

	domainchat "bizlink/internal/domain/chat"
)

// TypingStore persists the ephemeral typing flag on the participant record.
type TypingStore interface {
	SetTyping(ctx context.Context, id domainchat.ConversationID, userID string, isTyping bool) (*domainchat.Conversation, error)
}

// Coordinator broadcasts typing transitions to the other active participants
// of a conversation. The server applies no expiry of its own; clients time
// out a stale flag using the persisted last-typing timestamp.
type Coordinator struct {
	Chat     TypingStore
	Registry *Registry
	Logger   *slog.Logger
}

// SetTyping records the flag and fans it out, returning delivery counts.
func (c *Coordinator) SetTyping(ctx context.Context, id domainchat.ConversationID, userID string, isTyping bool) (delivered, skipped int, err error) {
	conv, err := c.Chat.SetTyping(ctx, id, userID, isTyping)
	if err != nil {
		return 0, 0, err
	}
	event := Event{
		Type: EventTypingStatus,
		Data: TypingPayload{ConversationID: id, UserID: userID, IsTyping: isTyping},
	}
	for _, other := range conv.OtherParticipants(userID) {
		handle, ok := c.Registry.Lookup(other)
		if !ok {
			skipped++
			continue
		}
		if err := handle.Send(ctx, event); err != nil {
			if c.Logger != nil {
				c.Logger.Debug("typing push failed", "conversation_id", id, "recipient", other, "error", err)
			}
			skipped++
			continue
		}
		delivered++
	}
	return delivered, skipped, nil
}
