package ginserver

import (
	"time"

	domainchat "bizlink/internal/domain/chat"
)

type conversationView struct {
	ID           string                     `json:"id"`
	Participants []participantView          `json:"participants"`
	Status       map[string]statusView      `json:"status"`
	Settings     settingsView               `json:"settings"`
	LastMessage  *messageSnapshotView       `json:"last_message,omitempty"`
	IsActive     bool                       `json:"is_active"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

type participantView struct {
	UserID   string     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

type statusView struct {
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	UnreadCount  int        `json:"unread_count"`
	IsTyping     bool       `json:"is_typing"`
	LastTypingAt *time.Time `json:"last_typing_at,omitempty"`
	IsMuted      bool       `json:"is_muted"`
}

type settingsView struct {
	AutoTranslate bool `json:"auto_translate"`
	Notifications bool `json:"notifications"`
}

type messageSnapshotView struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Type      string    `json:"type"`
	At        time.Time `json:"at"`
}

type messageView struct {
	ID             string                     `json:"id"`
	ConversationID string                     `json:"conversation_id"`
	SenderID       string                     `json:"sender_id"`
	Seq            int64                      `json:"seq"`
	Type           string                     `json:"type"`
	Text           string                     `json:"text"`
	Language       string                     `json:"language,omitempty"`
	Translations   map[string]translationView `json:"translations,omitempty"`
	Voice          *voiceView                 `json:"voice,omitempty"`
	MediaURL       string                     `json:"media_url,omitempty"`
	Status         string                     `json:"status"`
	ReadBy         map[string]time.Time       `json:"read_by,omitempty"`
	Reactions      map[string]reactionView    `json:"reactions,omitempty"`
	ReplyTo        string                     `json:"reply_to,omitempty"`
	IsEdited       bool                       `json:"is_edited"`
	ExpiresAt      *time.Time                 `json:"expires_at,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
}

type translationView struct {
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	TranslatedAt time.Time `json:"translated_at"`
}

type voiceView struct {
	AudioURL        string         `json:"audio_url,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	Transcript      transcriptView `json:"transcript"`
	Waveform        []float64      `json:"waveform,omitempty"`
}

type transcriptView struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback"`
}

type reactionView struct {
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reacted_at"`
}

func renderConversation(conv *domainchat.Conversation) conversationView {
	view := conversationView{
		ID:        string(conv.ID),
		Status:    make(map[string]statusView, len(conv.Status)),
		Settings:  settingsView{AutoTranslate: conv.Settings.AutoTranslate, Notifications: conv.Settings.Notifications},
		IsActive:  conv.IsActive,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	for _, p := range conv.Participants {
		pv := participantView{UserID: p.UserID, JoinedAt: p.JoinedAt}
		if !p.LeftAt.IsZero() {
			left := p.LeftAt
			pv.LeftAt = &left
		}
		view.Participants = append(view.Participants, pv)
	}
	for userID, st := range conv.Status {
		sv := statusView{
			UnreadCount: st.UnreadCount,
			IsTyping:    st.IsTyping,
			IsMuted:     st.IsMuted,
		}
		if !st.LastSeen.IsZero() {
			seen := st.LastSeen
			sv.LastSeen = &seen
		}
		if !st.LastTypingAt.IsZero() {
			typing := st.LastTypingAt
			sv.LastTypingAt = &typing
		}
		view.Status[userID] = sv
	}
	if conv.LastMessage != nil {
		view.LastMessage = &messageSnapshotView{
			MessageID: string(conv.LastMessage.MessageID),
			Text:      conv.LastMessage.Text,
			SenderID:  conv.LastMessage.SenderID,
			Type:      string(conv.LastMessage.Type),
			At:        conv.LastMessage.At,
		}
	}
	return view
}

func renderMessage(msg *domainchat.Message) messageView {
	view := messageView{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       msg.SenderID,
		Seq:            msg.Seq,
		Type:           string(msg.Type),
		Text:           msg.Content.OriginalText,
		Language:       msg.Content.OriginalLanguage,
		MediaURL:       msg.MediaURL,
		Status:         string(msg.Status),
		ReplyTo:        string(msg.ReplyTo),
		IsEdited:       msg.IsEdited,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.Content.Translations) > 0 {
		view.Translations = make(map[string]translationView, len(msg.Content.Translations))
		for lang, tr := range msg.Content.Translations {
			view.Translations[lang] = translationView{Text: tr.Text, Confidence: tr.Confidence, TranslatedAt: tr.TranslatedAt}
		}
	}
	if len(msg.ReadBy) > 0 {
		view.ReadBy = make(map[string]time.Time, len(msg.ReadBy))
		for userID, at := range msg.ReadBy {
			view.ReadBy[userID] = at
		}
	}
	if len(msg.Reactions) > 0 {
		view.Reactions = make(map[string]reactionView, len(msg.Reactions))
		for userID, re := range msg.Reactions {
			view.Reactions[userID] = reactionView{Emoji: re.Emoji, ReactedAt: re.ReactedAt}
		}
	}
	if msg.Voice != nil {
		view.Voice = &voiceView{
			AudioURL:        msg.Voice.AudioURL,
			DurationSeconds: msg.Voice.DurationSeconds,
			Transcript: transcriptView{
				Text:       msg.Voice.Transcript.Text,
				Language:   msg.Voice.Transcript.Language,
				Confidence: msg.Voice.Transcript.Confidence,
				Fallback:   msg.Voice.Transcript.Fallback,
			},
			Waveform: msg.Voice.Waveform,
		}
	}
	if !msg.ExpiresAt.IsZero() {
		expires := msg.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}

func renderMessages(msgs []*domainchat.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, renderMessage(msg))
	}
	return out
}
