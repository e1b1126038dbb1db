package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ConversationID string

// Participant attaches a user to a conversation. LeftAt stays zero while the
// participant is active.
type Participant struct {
	UserID   string
	JoinedAt time.Time
	LeftAt   time.Time
}

func (p Participant) Active() bool {
	return p.LeftAt.IsZero()
}

// ParticipantStatus tracks per-participant conversation state.
type ParticipantStatus struct {
	LastSeen     time.Time
	UnreadCount  int
	IsTyping     bool
	LastTypingAt time.Time
	IsMuted      bool
	IsBlocked    bool
}

// Settings holds per-conversation preferences shared by both participants.
type Settings struct {
	AutoTranslate bool
	Notifications bool
}

// MessageSnapshot is the denormalized last-message view kept on a conversation.
type MessageSnapshot struct {
	MessageID MessageID
	Text      string
	SenderID  string
	Type      MessageType
	At        time.Time
}

// Conversation is a direct messaging thread between exactly two users.
type Conversation struct {
	ID           ConversationID
	PairKey      string
	Participants []Participant
	Status       map[string]ParticipantStatus
	Settings     Settings
	LastMessage  *MessageSnapshot
	IsActive     bool
	Seq          int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

// PairKey canonicalizes an unordered user pair. It anchors the
// one-active-conversation-per-pair invariant at the storage layer.
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func NewConversation(id ConversationID, userA, userB string, now time.Time) (*Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if id == "" {
		return nil, fmt.Errorf("%w: conversation id required", ErrValidation)
	}
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both participants required", ErrValidation)
	}
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}
	now = now.UTC()
	return &Conversation{
		ID:      id,
		PairKey: PairKey(userA, userB),
		Participants: []Participant{
			{UserID: userA, JoinedAt: now},
			{UserID: userB, JoinedAt: now},
		},
		Status: map[string]ParticipantStatus{
			userA: {},
			userB: {},
		},
		Settings:  Settings{Notifications: true},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ActiveParticipant reports whether the user is attached and has not left.
func (c *Conversation) ActiveParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID && p.Active() {
			return true
		}
	}
	return false
}

// OtherParticipants returns the active participants other than userID.
func (c *Conversation) OtherParticipants(userID string) []string {
	var others []string
	for _, p := range c.Participants {
		if p.UserID != userID && p.Active() {
			others = append(others, p.UserID)
		}
	}
	return others
}

// Leave detaches the user. The conversation goes inactive once every
// participant has left, which releases the pair key for future threads.
func (c *Conversation) Leave(userID string, now time.Time) error {
	now = now.UTC()
	found := false
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			continue
		}
		if !c.Participants[i].Active() {
			return ErrNotParticipant
		}
		c.Participants[i].LeftAt = now
		found = true
	}
	if !found {
		return ErrNotParticipant
	}
	anyActive := false
	for _, p := range c.Participants {
		if p.Active() {
			anyActive = true
			break
		}
	}
	if !anyActive {
		c.IsActive = false
	}
	c.UpdatedAt = now
	return nil
}

// NextSeq allocates the next per-conversation message sequence number. The
// caller must persist the conversation with optimistic concurrency so that
// concurrent senders never observe the same value.
func (c *Conversation) NextSeq() int64 {
	c.Seq++
	return c.Seq
}

// RecordMessage updates the last-message snapshot and unread counters after a
// message was accepted from senderID.
func (c *Conversation) RecordMessage(snap MessageSnapshot, now time.Time) {
	now = now.UTC()
	c.LastMessage = &snap
	for _, p := range c.Participants {
		if !p.Active() {
			continue
		}
		st := c.Status[p.UserID]
		if p.UserID == snap.SenderID {
			st.LastSeen = now
		} else {
			st.UnreadCount++
		}
		c.Status[p.UserID] = st
	}
	c.UpdatedAt = now
}

// RollbackMessage reverts RecordMessage after the message itself failed to
// persist: the prior snapshot is restored, the allocated sequence is released,
// and recipient unread counters drop back. Callers must only invoke it while
// the snapshot still points at the failed message.
func (c *Conversation) RollbackMessage(prior *MessageSnapshot, now time.Time) {
	var sender string
	if c.LastMessage != nil {
		sender = c.LastMessage.SenderID
	}
	c.LastMessage = prior
	if c.Seq > 0 {
		c.Seq--
	}
	for _, p := range c.Participants {
		if !p.Active() || p.UserID == sender {
			continue
		}
		st := c.Status[p.UserID]
		if st.UnreadCount > 0 {
			st.UnreadCount--
			c.Status[p.UserID] = st
		}
	}
	c.UpdatedAt = now.UTC()
}

// MarkRead resets the unread counter and bumps LastSeen for userID.
func (c *Conversation) MarkRead(userID string, now time.Time) {
	st := c.Status[userID]
	st.UnreadCount = 0
	st.LastSeen = now.UTC()
	c.Status[userID] = st
	c.UpdatedAt = now.UTC()
}

// SetTyping records the ephemeral typing flag. The server never expires it;
// LastTypingAt is kept so clients can apply their own timeout.
func (c *Conversation) SetTyping(userID string, isTyping bool, now time.Time) {
	st := c.Status[userID]
	st.IsTyping = isTyping
	if isTyping {
		st.LastTypingAt = now.UTC()
	}
	c.Status[userID] = st
}

func (c *Conversation) UpdateSettings(settings Settings, now time.Time) {
	c.Settings = settings
	c.UpdatedAt = now.UTC()
}

// Clone returns a deep copy, used by in-memory storage to keep readers
// isolated from concurrent mutation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = append([]Participant(nil), c.Participants...)
	cp.Status = make(map[string]ParticipantStatus, len(c.Status))
	for k, v := range c.Status {
		cp.Status[k] = v
	}
	if c.LastMessage != nil {
		snap := *c.LastMessage
		cp.LastMessage = &snap
	}
	return &cp
}
