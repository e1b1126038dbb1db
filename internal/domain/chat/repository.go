package chat

import (
	"context"
	"time"
)

// ConversationRepository persists conversations. Save uses optimistic
// concurrency: implementations return ErrConcurrentUpdate when the stored
// version no longer matches, and callers reload and retry.
type ConversationRepository interface {
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	// ByPairKey returns the active conversation for a canonical pair key, or
	// ErrConversationNotFound.
	ByPairKey(ctx context.Context, key string) (*Conversation, error)
	// Create inserts a new conversation. Returns ErrPairExists when an active
	// conversation already holds the same pair key.
	Create(ctx context.Context, conversation *Conversation) error
	Save(ctx context.Context, conversation *Conversation) error
	// ListByUser returns the user's conversations newest-activity-first.
	// A non-zero before bounds the page to activity strictly older than it.
	ListByUser(ctx context.Context, userID string, limit int, before time.Time) ([]*Conversation, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	ByID(ctx context.Context, id MessageID) (*Message, error)
	Insert(ctx context.Context, message *Message) error
	Save(ctx context.Context, message *Message) error
	// ListByConversation returns the newest window of messages with sequence
	// strictly below beforeSeq (0 means from the tail), ordered oldest-first
	// for display.
	ListByConversation(ctx context.Context, id ConversationID, limit int, beforeSeq int64) ([]*Message, error)
	// Search matches query against original text within the given
	// conversations, newest-first.
	Search(ctx context.Context, ids []ConversationID, query string, limit int) ([]*Message, error)
}
