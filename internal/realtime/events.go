package realtime

import (
	"encoding/json"
	"time"

	domainchat "bizlink/internal/domain/chat"
	"bizlink/internal/domain/presence"
)

// Inbound event types accepted over the persistent connection.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventReactionAdd       = "reaction_add"
	EventReactionRemove    = "reaction_remove"
	EventUpdateStatus      = "update_status"
	EventCallSignal        = "call_signal"
)

// Outbound event types pushed to registered sessions.
const (
	EventNewMessage          = "new_message"
	EventMessageReaction     = "message_reaction"
	EventMessageEdited       = "message_edited"
	EventTypingStatus        = "typing_status"
	EventFriendStatusChanged = "friend_status_changed"
	EventError               = "error"
)

// InboundEvent is a client frame. Fields are populated per event type; the
// signaling payload stays opaque and is relayed as-is.
type InboundEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Emoji          string          `json:"emoji,omitempty"`
	Status         string          `json:"status,omitempty"`
	Target         string          `json:"target,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Event is a server frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type NewMessagePayload struct {
	ConversationID domainchat.ConversationID `json:"conversation_id"`
	Message        any                       `json:"message"`
}

type ReactionPayload struct {
	MessageID domainchat.MessageID `json:"message_id"`
	UserID    string               `json:"user_id"`
	Emoji     string               `json:"emoji,omitempty"`
	Action    string               `json:"action"`
}

type EditedPayload struct {
	MessageID  domainchat.MessageID `json:"message_id"`
	NewContent string               `json:"new_content"`
	EditedAt   time.Time            `json:"edited_at"`
}

type TypingPayload struct {
	ConversationID domainchat.ConversationID `json:"conversation_id"`
	UserID         string                    `json:"user_id"`
	IsTyping       bool                      `json:"is_typing"`
}

type StatusPayload struct {
	UserID     string          `json:"user_id"`
	Status     presence.Status `json:"status"`
	LastActive time.Time       `json:"last_active"`
}

type SignalPayload struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}
