package chat

import (
	"fmt"
	"strings"
	"time"
)

type MessageID string

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeVoice  MessageType = "voice"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeVoice, TypeImage, TypeFile, TypeSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusFailed:    4,
}

// Translation is a cached per-language rendering of the original text.
type Translation struct {
	Text         string
	Confidence   float64
	TranslatedAt time.Time
}

type Content struct {
	OriginalText     string
	OriginalLanguage string
	Translations     map[string]Translation
}

// Transcript is the speech-to-text output attached to a voice message.
// Fallback marks a degraded placeholder produced when the provider failed,
// so callers can distinguish it from an authoritative transcript.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
	Fallback   bool
}

// WaveformBuckets is the fixed length of the amplitude envelope stored with
// every voice message.
const WaveformBuckets = 64

type Voice struct {
	AudioURL        string
	DurationSeconds float64
	Transcript      Transcript
	Waveform        []float64
}

type Reaction struct {
	Emoji     string
	ReactedAt time.Time
}

type Edit struct {
	Text     string
	EditedAt time.Time
}

type ForwardedFrom struct {
	MessageID MessageID
	UserID    string
}

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	Seq            int64
	Type           MessageType
	Content        Content
	Voice          *Voice
	MediaURL       string
	Status         MessageStatus
	ReadBy         map[string]time.Time
	Reactions      map[string]Reaction
	ReplyTo        MessageID
	EditHistory    []Edit
	IsEdited       bool
	Forwarded      *ForwardedFrom
	ExpiresAt      time.Time
	Deleted        bool
	CreatedAt      time.Time
	Version        int64
}

type NewMessageParams struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	Type           MessageType
	Text           string
	Language       string
	Voice          *Voice
	MediaURL       string
	ReplyTo        MessageID
	Forwarded      *ForwardedFrom
	ExpiresAt      time.Time
	Seq            int64
	CreatedAt      time.Time
}

func NewMessage(params NewMessageParams) (*Message, error) {
	if params.ID == "" || params.ConversationID == "" {
		return nil, fmt.Errorf("%w: message and conversation ids required", ErrValidation)
	}
	if strings.TrimSpace(params.SenderID) == "" {
		return nil, fmt.Errorf("%w: sender required", ErrValidation)
	}
	if !params.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, params.Type)
	}
	switch params.Type {
	case TypeText, TypeSystem:
		if strings.TrimSpace(params.Text) == "" {
			return nil, fmt.Errorf("%w: text is required for %s messages", ErrValidation, params.Type)
		}
	case TypeVoice:
		if params.Voice == nil || params.Voice.DurationSeconds <= 0 {
			return nil, fmt.Errorf("%w: voice messages require a positive duration", ErrValidation)
		}
	case TypeImage, TypeFile:
		if strings.TrimSpace(params.MediaURL) == "" {
			return nil, fmt.Errorf("%w: media reference required for %s messages", ErrValidation, params.Type)
		}
	}
	return &Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Seq:            params.Seq,
		Type:           params.Type,
		Content: Content{
			OriginalText:     params.Text,
			OriginalLanguage: params.Language,
			Translations:     map[string]Translation{},
		},
		Voice:     params.Voice,
		MediaURL:  params.MediaURL,
		Status:    StatusSent,
		ReadBy:    map[string]time.Time{},
		Reactions: map[string]Reaction{},
		ReplyTo:   params.ReplyTo,
		Forwarded: params.Forwarded,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: params.CreatedAt.UTC(),
	}, nil
}

// Advance moves the delivery status forward. Backwards transitions are
// rejected; failed is reachable from any non-terminal state.
func (m *Message) Advance(next MessageStatus) error {
	nextRank, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	if m.Status == StatusFailed || m.Status == StatusRead {
		if next == m.Status {
			return nil
		}
		return ErrInvalidStatus
	}
	if next == StatusFailed {
		m.Status = StatusFailed
		return nil
	}
	if nextRank < statusRank[m.Status] {
		return ErrInvalidStatus
	}
	m.Status = next
	return nil
}

// EditText replaces the text of a text message, preserving the prior version.
func (m *Message) EditText(userID, newText string, now time.Time) error {
	if m.Deleted {
		return ErrMessageNotFound
	}
	if m.SenderID != userID {
		return ErrNotSender
	}
	if m.Type != TypeText {
		return fmt.Errorf("%w: only text messages can be edited", ErrValidation)
	}
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	m.EditHistory = append(m.EditHistory, Edit{Text: m.Content.OriginalText, EditedAt: now.UTC()})
	m.Content.OriginalText = newText
	m.Content.Translations = map[string]Translation{}
	m.IsEdited = true
	return nil
}

// SetReaction stores at most one emoji per user; setting again replaces.
func (m *Message) SetReaction(userID, emoji string, now time.Time) error {
	if m.Deleted {
		return ErrMessageNotFound
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrValidation)
	}
	m.Reactions[userID] = Reaction{Emoji: emoji, ReactedAt: now.UTC()}
	return nil
}

// ClearReaction removes the user's reaction. Reports whether one existed.
func (m *Message) ClearReaction(userID string) bool {
	if _, ok := m.Reactions[userID]; !ok {
		return false
	}
	delete(m.Reactions, userID)
	return true
}

// MarkReadBy adds userID to the read set. Returns false when the entry was
// already present or the user is the sender, keeping read receipts idempotent.
func (m *Message) MarkReadBy(userID string, at time.Time) bool {
	if userID == m.SenderID {
		return false
	}
	if _, ok := m.ReadBy[userID]; ok {
		return false
	}
	m.ReadBy[userID] = at.UTC()
	return true
}

// AttachTranslation caches a per-language translation on the message.
func (m *Message) AttachTranslation(language string, tr Translation) {
	if m.Content.Translations == nil {
		m.Content.Translations = map[string]Translation{}
	}
	m.Content.Translations[language] = tr
}

// SoftDelete hides the message without destroying reply/edit integrity.
func (m *Message) SoftDelete(userID string, now time.Time) error {
	if m.SenderID != userID {
		return ErrNotSender
	}
	m.Deleted = true
	return nil
}

// Clone returns a deep copy for in-memory storage isolation.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Content.Translations = make(map[string]Translation, len(m.Content.Translations))
	for k, v := range m.Content.Translations {
		cp.Content.Translations[k] = v
	}
	cp.ReadBy = make(map[string]time.Time, len(m.ReadBy))
	for k, v := range m.ReadBy {
		cp.ReadBy[k] = v
	}
	cp.Reactions = make(map[string]Reaction, len(m.Reactions))
	for k, v := range m.Reactions {
		cp.Reactions[k] = v
	}
	cp.EditHistory = append([]Edit(nil), m.EditHistory...)
	if m.Voice != nil {
		voice := *m.Voice
		voice.Waveform = append([]float64(nil), m.Voice.Waveform...)
		cp.Voice = &voice
	}
	if m.Forwarded != nil {
		fwd := *m.Forwarded
		cp.Forwarded = &fwd
	}
	return &cp
}
