package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainchat "bizlink/internal/domain/chat"
)

// ConversationRepository is an in-memory implementation used for local
// development and tests. Save applies the same optimistic version check the
// Mongo repository enforces, so concurrency behavior matches production.
type ConversationRepository struct {
	mu    sync.RWMutex
	items map[domainchat.ConversationID]*domainchat.Conversation
	pairs map[string]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items: make(map[domainchat.ConversationID]*domainchat.Conversation),
		pairs: make(map[string]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.items[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (r *ConversationRepository) ByPairKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pairs[key]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	conv, ok := r.items[id]
	if !ok || !conv.IsActive {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *domainchat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.pairs[conversation.PairKey]; ok {
		if existing, found := r.items[id]; found && existing.IsActive {
			return domainchat.ErrPairExists
		}
	}
	stored := conversation.Clone()
	stored.Version = 1
	r.items[stored.ID] = stored
	r.pairs[stored.PairKey] = stored.ID
	conversation.Version = stored.Version
	return nil
}

func (r *ConversationRepository) Save(ctx context.Context, conversation *domainchat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[conversation.ID]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	if existing.Version != conversation.Version {
		return domainchat.ErrConcurrentUpdate
	}
	stored := conversation.Clone()
	stored.Version = conversation.Version + 1
	r.items[stored.ID] = stored
	if !stored.IsActive && r.pairs[stored.PairKey] == stored.ID {
		// Release the pair key so a fresh thread can be started later.
		delete(r.pairs, stored.PairKey)
	}
	conversation.Version = stored.Version
	return nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit int, before time.Time) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Conversation
	for _, conv := range r.items {
		if !conv.ActiveParticipant(userID) {
			continue
		}
		if !before.IsZero() && !conv.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MessageRepository is the in-memory message store.
type MessageRepository struct {
	mu     sync.RWMutex
	items  map[domainchat.MessageID]*domainchat.Message
	byConv map[domainchat.ConversationID][]domainchat.MessageID
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		items:  make(map[domainchat.MessageID]*domainchat.Message),
		byConv: make(map[domainchat.ConversationID][]domainchat.MessageID),
	}
}

func (r *MessageRepository) ByID(ctx context.Context, id domainchat.MessageID) (*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.items[id]
	if !ok {
		return nil, domainchat.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (r *MessageRepository) Insert(ctx context.Context, message *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := message.Clone()
	stored.Version = 1
	r.items[stored.ID] = stored
	r.byConv[stored.ConversationID] = append(r.byConv[stored.ConversationID], stored.ID)
	message.Version = stored.Version
	return nil
}

func (r *MessageRepository) Save(ctx context.Context, message *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[message.ID]
	if !ok {
		return domainchat.ErrMessageNotFound
	}
	if existing.Version != message.Version {
		return domainchat.ErrConcurrentUpdate
	}
	stored := message.Clone()
	stored.Version = message.Version + 1
	r.items[stored.ID] = stored
	message.Version = stored.Version
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID, limit int, beforeSeq int64) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Message
	for _, msgID := range r.byConv[id] {
		msg := r.items[msgID]
		if msg.Deleted {
			continue
		}
		if beforeSeq > 0 && msg.Seq >= beforeSeq {
			continue
		}
		out = append(out, msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *MessageRepository) Search(ctx context.Context, ids []domainchat.ConversationID, query string, limit int) ([]*domainchat.Message, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	include := make(map[domainchat.ConversationID]bool, len(ids))
	for _, id := range ids {
		include[id] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Message
	for _, msg := range r.items {
		if !include[msg.ConversationID] || msg.Deleted {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Content.OriginalText), query) {
			continue
		}
		out = append(out, msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
