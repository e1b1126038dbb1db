package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	domainchat "bizlink/internal/domain/chat"
)

// maxRetries bounds the optimistic compare-and-retry loops. Conflicts are
// per-entity and short-lived, so a handful of attempts is plenty.
const maxRetries = 8

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Directory is the slice of the identity service the store needs: whether a
// pair of users may message each other.
type Directory interface {
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
}

// RecentCache holds the hot tail of each conversation.
type RecentCache interface {
	Append(ctx context.Context, message *domainchat.Message) error
	Recent(ctx context.Context, id domainchat.ConversationID, limit int) ([]*domainchat.Message, error)
	Invalidate(ctx context.Context, id domainchat.ConversationID) error
}

// EventRecorder journals durable chat events for asynchronous publication.
type EventRecorder interface {
	Record(ctx context.Context, name, aggregate string, payload any) error
}

// Service owns conversation and message persistence. Every durable mutation
// funnels through it; fan-out to live sessions happens elsewhere.
type Service struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Directory     Directory
	Cache         RecentCache
	Events        EventRecorder
	Logger        *slog.Logger
	Now           func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetOrCreateConversation returns the active conversation between two users,
// creating one when none exists. Safe under concurrent first-contact: the
// pair-key uniqueness constraint resolves the race, and the loser of the
// insert race re-reads the winner's conversation.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (*domainchat.Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both participants required", domainchat.ErrValidation)
	}
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", domainchat.ErrValidation)
	}
	if s.Directory != nil {
		blocked, err := s.Directory.IsBlocked(ctx, userA, userB)
		if err != nil {
			return nil, fmt.Errorf("check block status: %w", err)
		}
		if blocked {
			return nil, domainchat.ErrBlocked
		}
	}

	key := domainchat.PairKey(userA, userB)
	for attempt := 0; attempt < maxRetries; attempt++ {
		conv, err := s.Conversations.ByPairKey(ctx, key)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil, err
		}
		conv, err = domainchat.NewConversation(domainchat.ConversationID(uuid.NewString()), userA, userB, s.now())
		if err != nil {
			return nil, err
		}
		err = s.Conversations.Create(ctx, conv)
		if errors.Is(err, domainchat.ErrPairExists) {
			// Lost the creation race; the next lookup finds the winner.
			continue
		}
		if err != nil {
			return nil, err
		}
		s.record(ctx, "chat.conversation.created", string(conv.ID), map[string]any{
			"conversation_id": conv.ID,
			"participants":    []string{userA, userB},
		})
		return conv, nil
	}
	return nil, domainchat.ErrConcurrentUpdate
}

// Conversation loads a conversation and authorizes the caller as an active
// participant.
func (s *Service) Conversation(ctx context.Context, id domainchat.ConversationID, userID string) (*domainchat.Conversation, error) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.ActiveParticipant(userID) {
		return nil, domainchat.ErrNotParticipant
	}
	return conv, nil
}

// Message loads a message and authorizes the caller as an active participant
// of its conversation. Soft-deleted messages read as not found.
func (s *Service) Message(ctx context.Context, id domainchat.MessageID, userID string) (*domainchat.Message, error) {
	msg, err := s.Messages.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, domainchat.ErrMessageNotFound
	}
	if _, err := s.Conversation(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendParams carries the type-specific payload of an outgoing message.
type SendParams struct {
	Type      domainchat.MessageType
	Text      string
	Language  string
	Voice     *domainchat.Voice
	MediaURL  string
	ReplyTo   domainchat.MessageID
	Forwarded *domainchat.ForwardedFrom
	ExpiresAt time.Time
}

// SendMessage validates and persists a message with a server-assigned
// monotonic timestamp and per-conversation sequence, then updates the
// conversation snapshot and unread counters.
func (s *Service) SendMessage(ctx context.Context, conversationID domainchat.ConversationID, senderID string, params SendParams) (*domainchat.Message, error) {
	if params.ReplyTo != "" {
		parent, err := s.Messages.ByID(ctx, params.ReplyTo)
		if err != nil || parent.Deleted {
			return nil, fmt.Errorf("%w: reply target not found", domainchat.ErrValidation)
		}
		if parent.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: reply target belongs to another conversation", domainchat.ErrValidation)
		}
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		conv, err := s.Conversations.ByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if !conv.ActiveParticipant(senderID) {
			return nil, domainchat.ErrNotParticipant
		}

		// Timestamps come from the server and never move backwards within a
		// conversation, even across clock adjustments.
		now := s.now()
		if conv.LastMessage != nil && !now.After(conv.LastMessage.At) {
			now = conv.LastMessage.At.Add(time.Millisecond)
		}

		msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
			ID:             domainchat.MessageID(uuid.NewString()),
			ConversationID: conversationID,
			SenderID:       senderID,
			Type:           params.Type,
			Text:           params.Text,
			Language:       params.Language,
			Voice:          params.Voice,
			MediaURL:       params.MediaURL,
			ReplyTo:        params.ReplyTo,
			Forwarded:      params.Forwarded,
			ExpiresAt:      params.ExpiresAt,
			Seq:            conv.NextSeq(),
			CreatedAt:      now,
		})
		if err != nil {
			return nil, err
		}

		prior := conv.LastMessage
		conv.RecordMessage(domainchat.MessageSnapshot{
			MessageID: msg.ID,
			Text:      msg.Content.OriginalText,
			SenderID:  senderID,
			Type:      msg.Type,
			At:        now,
		}, now)

		if err := s.Conversations.Save(ctx, conv); err != nil {
			if errors.Is(err, domainchat.ErrConcurrentUpdate) {
				continue
			}
			return nil, err
		}
		if err := s.Messages.Insert(ctx, msg); err != nil {
			s.rollbackSend(ctx, conversationID, msg.ID, prior)
			return nil, err
		}
		if s.Cache != nil {
			if err := s.Cache.Append(ctx, msg); err != nil {
				s.logWarn("recent cache append failed", "conversation_id", conversationID, "error", err)
			}
		}
		s.record(ctx, "chat.message.sent", string(conversationID), map[string]any{
			"conversation_id": conversationID,
			"message_id":      msg.ID,
			"sender_id":       senderID,
			"type":            msg.Type,
			"seq":             msg.Seq,
		})
		return msg, nil
	}
	return nil, domainchat.ErrConcurrentUpdate
}

// ListConversations returns the caller's conversations newest-activity-first.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int, before time.Time) ([]*domainchat.Conversation, error) {
	return s.Conversations.ListByUser(ctx, userID, clampLimit(limit), before)
}

// ListMessages returns a page of conversation messages oldest-first. The
// newest page is served from the recent cache when it holds enough entries.
func (s *Service) ListMessages(ctx context.Context, conversationID domainchat.ConversationID, userID string, limit int, beforeSeq int64) ([]*domainchat.Message, error) {
	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	if beforeSeq == 0 && s.Cache != nil {
		cached, err := s.Cache.Recent(ctx, conversationID, limit)
		if err != nil {
			s.logWarn("recent cache read failed", "conversation_id", conversationID, "error", err)
		} else if len(cached) >= limit {
			return s.filterVisible(cached), nil
		}
	}
	msgs, err := s.Messages.ListByConversation(ctx, conversationID, limit, beforeSeq)
	if err != nil {
		return nil, err
	}
	return s.filterVisible(msgs), nil
}

func (s *Service) filterVisible(msgs []*domainchat.Message) []*domainchat.Message {
	now := s.now()
	out := msgs[:0]
	for _, msg := range msgs {
		if !msg.ExpiresAt.IsZero() && msg.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// MarkRead records read receipts for the given messages and resets the
// caller's unread counter. Idempotent: repeating the same set is a no-op.
func (s *Service) MarkRead(ctx context.Context, conversationID domainchat.ConversationID, userID string, messageIDs []domainchat.MessageID) error {
	now := s.now()
	err := s.saveConversation(ctx, conversationID, func(conv *domainchat.Conversation) error {
		if !conv.ActiveParticipant(userID) {
			return domainchat.ErrNotParticipant
		}
		conv.MarkRead(userID, now)
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range messageIDs {
		err := s.saveMessage(ctx, id, func(msg *domainchat.Message) error {
			if msg.ConversationID != conversationID {
				return fmt.Errorf("%w: message outside conversation", domainchat.ErrValidation)
			}
			if !msg.MarkReadBy(userID, now) {
				return errNoChange
			}
			_ = msg.Advance(domainchat.StatusRead)
			return nil
		})
		if err != nil && !errors.Is(err, errNoChange) {
			return err
		}
	}
	return nil
}

// EditMessage rewrites a text message's content, keeping the prior text in
// the edit history. Only the original sender may edit.
func (s *Service) EditMessage(ctx context.Context, messageID domainchat.MessageID, userID, newText string) (*domainchat.Message, error) {
	now := s.now()
	msg, err := s.saveMessageResult(ctx, messageID, func(msg *domainchat.Message) error {
		return msg.EditText(userID, newText, now)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, msg.ConversationID)
	s.record(ctx, "chat.message.edited", string(msg.ConversationID), map[string]any{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
		"edited_at":       now,
	})
	return msg, nil
}

// SetReaction stores the user's reaction, replacing any previous emoji.
func (s *Service) SetReaction(ctx context.Context, messageID domainchat.MessageID, userID, emoji string) (*domainchat.Message, error) {
	now := s.now()
	msg, err := s.saveMessageResult(ctx, messageID, func(msg *domainchat.Message) error {
		return s.authorizeParticipant(ctx, msg, userID, func() error {
			return msg.SetReaction(userID, emoji, now)
		})
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ClearReaction removes the user's reaction if present.
func (s *Service) ClearReaction(ctx context.Context, messageID domainchat.MessageID, userID string) (*domainchat.Message, error) {
	msg, err := s.saveMessageResult(ctx, messageID, func(msg *domainchat.Message) error {
		return s.authorizeParticipant(ctx, msg, userID, func() error {
			if !msg.ClearReaction(userID) {
				return errNoChange
			}
			return nil
		})
	})
	if errors.Is(err, errNoChange) {
		return msg, nil
	}
	return msg, err
}

// DeleteMessage soft-removes a message; reply targets and edit history stay
// intact.
func (s *Service) DeleteMessage(ctx context.Context, messageID domainchat.MessageID, userID string) error {
	now := s.now()
	msg, err := s.saveMessageResult(ctx, messageID, func(msg *domainchat.Message) error {
		return msg.SoftDelete(userID, now)
	})
	if err != nil {
		return err
	}
	s.invalidateCache(ctx, msg.ConversationID)
	s.record(ctx, "chat.message.deleted", string(msg.ConversationID), map[string]any{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	})
	return nil
}

// SetTyping persists the ephemeral typing flag on the participant record and
// returns the conversation for fan-out.
func (s *Service) SetTyping(ctx context.Context, conversationID domainchat.ConversationID, userID string, isTyping bool) (*domainchat.Conversation, error) {
	now := s.now()
	return s.saveConversationResult(ctx, conversationID, func(conv *domainchat.Conversation) error {
		if !conv.ActiveParticipant(userID) {
			return domainchat.ErrNotParticipant
		}
		conv.SetTyping(userID, isTyping, now)
		return nil
	})
}

// UpdateSettings changes conversation preferences.
func (s *Service) UpdateSettings(ctx context.Context, conversationID domainchat.ConversationID, userID string, settings domainchat.Settings) (*domainchat.Conversation, error) {
	now := s.now()
	return s.saveConversationResult(ctx, conversationID, func(conv *domainchat.Conversation) error {
		if !conv.ActiveParticipant(userID) {
			return domainchat.ErrNotParticipant
		}
		conv.UpdateSettings(settings, now)
		return nil
	})
}

// LeaveConversation detaches the caller. The thread deactivates once both
// sides have left.
func (s *Service) LeaveConversation(ctx context.Context, conversationID domainchat.ConversationID, userID string) error {
	now := s.now()
	return s.saveConversation(ctx, conversationID, func(conv *domainchat.Conversation) error {
		return conv.Leave(userID, now)
	})
}

// SearchMessages matches query text within one conversation, or across all of
// the caller's conversations when conversationID is empty.
func (s *Service) SearchMessages(ctx context.Context, userID string, conversationID domainchat.ConversationID, query string, limit int) ([]*domainchat.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: search query required", domainchat.ErrValidation)
	}
	var ids []domainchat.ConversationID
	if conversationID != "" {
		if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
			return nil, err
		}
		ids = []domainchat.ConversationID{conversationID}
	} else {
		convs, err := s.Conversations.ListByUser(ctx, userID, maxPageSize, time.Time{})
		if err != nil {
			return nil, err
		}
		for _, conv := range convs {
			ids = append(ids, conv.ID)
		}
	}
	return s.Messages.Search(ctx, ids, query, clampLimit(limit))
}

// errNoChange short-circuits a save when the mutation turned out to be a
// no-op, keeping idempotent operations from bumping versions.
var errNoChange = errors.New("chat: no change")

func (s *Service) authorizeParticipant(ctx context.Context, msg *domainchat.Message, userID string, fn func() error) error {
	conv, err := s.Conversations.ByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.ActiveParticipant(userID) {
		return domainchat.ErrNotParticipant
	}
	return fn()
}

func (s *Service) saveConversation(ctx context.Context, id domainchat.ConversationID, mutate func(*domainchat.Conversation) error) error {
	_, err := s.saveConversationResult(ctx, id, mutate)
	return err
}

func (s *Service) saveConversationResult(ctx context.Context, id domainchat.ConversationID, mutate func(*domainchat.Conversation) error) (*domainchat.Conversation, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		conv, err := s.Conversations.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(conv); err != nil {
			return nil, err
		}
		err = s.Conversations.Save(ctx, conv)
		if errors.Is(err, domainchat.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return conv, nil
	}
	return nil, domainchat.ErrConcurrentUpdate
}

func (s *Service) saveMessage(ctx context.Context, id domainchat.MessageID, mutate func(*domainchat.Message) error) error {
	_, err := s.saveMessageResult(ctx, id, mutate)
	return err
}

func (s *Service) saveMessageResult(ctx context.Context, id domainchat.MessageID, mutate func(*domainchat.Message) error) (*domainchat.Message, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		msg, err := s.Messages.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(msg); err != nil {
			if errors.Is(err, errNoChange) {
				return msg, err
			}
			return nil, err
		}
		err = s.Messages.Save(ctx, msg)
		if errors.Is(err, domainchat.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return nil, domainchat.ErrConcurrentUpdate
}

// rollbackSend compensates the conversation snapshot when a message failed to
// persist after the snapshot save already landed. Skipped when a later send
// has moved the snapshot on.
func (s *Service) rollbackSend(ctx context.Context, id domainchat.ConversationID, messageID domainchat.MessageID, prior *domainchat.MessageSnapshot) {
	err := s.saveConversation(ctx, id, func(conv *domainchat.Conversation) error {
		if conv.LastMessage == nil || conv.LastMessage.MessageID != messageID {
			return errNoChange
		}
		conv.RollbackMessage(prior, s.now())
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		s.logWarn("send rollback failed", "conversation_id", id, "message_id", messageID, "error", err)
	}
}

func (s *Service) invalidateCache(ctx context.Context, id domainchat.ConversationID) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, id); err != nil {
		s.logWarn("recent cache invalidate failed", "conversation_id", id, "error", err)
	}
}

func (s *Service) record(ctx context.Context, name, aggregate string, payload any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Record(ctx, name, aggregate, payload); err != nil {
		s.logWarn("outbox record failed", "event", name, "error", err)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
