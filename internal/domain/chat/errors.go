package chat

import "errors"

var (
	// ErrConversationNotFound is returned when a conversation cannot be located.
	ErrConversationNotFound = errors.New("chat: conversation not found")
	// ErrMessageNotFound is returned when a message cannot be located.
	ErrMessageNotFound = errors.New("chat: message not found")
	// ErrNotParticipant is returned when a user acts on a conversation they are
	// not an active participant of.
	ErrNotParticipant = errors.New("chat: not an active participant")
	// ErrNotSender is returned when someone other than the original sender
	// tries to modify a message.
	ErrNotSender = errors.New("chat: only the sender may modify this message")
	// ErrBlocked is returned when messaging between two users is blocked.
	ErrBlocked = errors.New("chat: messaging blocked between users")
	// ErrValidation flags a malformed payload. Wrapped with detail.
	ErrValidation = errors.New("chat: invalid payload")
	// ErrPairExists signals that an active conversation already exists for a
	// canonical participant pair. Resolved internally by retrying the lookup,
	// never surfaced to callers.
	ErrPairExists = errors.New("chat: conversation already exists for pair")
	// ErrConcurrentUpdate signals an optimistic update conflict.
	ErrConcurrentUpdate = errors.New("chat: concurrent update detected")
	// ErrInvalidStatus is returned on a backwards message status transition.
	ErrInvalidStatus = errors.New("chat: invalid status transition")
)
