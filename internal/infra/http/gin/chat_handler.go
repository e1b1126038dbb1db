package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	appchat "bizlink/internal/app/chat"
	"bizlink/internal/app/translate"
	"bizlink/internal/app/voice"
	domainchat "bizlink/internal/domain/chat"
	"bizlink/internal/realtime"
)

// maxVoiceUpload bounds a single voice note to roughly five minutes of PCM.
const maxVoiceUpload = 10 << 20

// ChatHandler exposes the durable messaging API. Live fan-out after a durable
// write goes through the gateway so connected peers see changes immediately.
type ChatHandler struct {
	Chat         *appchat.Service
	Voice        *voice.Pipeline
	Translations *translate.Cache
	Gateway      *realtime.Gateway
	Logger       *slog.Logger
}

type createConversationRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

func (h ChatHandler) CreateConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id is required"})
		return
	}
	conv, err := h.Chat.GetOrCreateConversation(c.Request.Context(), p.ID, req.PeerID)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderConversation(conv))
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC3339"})
			return
		}
		before = parsed
	}
	convs, err := h.Chat.ListConversations(c.Request.Context(), p.ID, parsePositiveInt(c.Query("limit"), 20), before)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	items := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		items = append(items, renderConversation(conv))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := h.Chat.Conversation(c.Request.Context(), domainchat.ConversationID(c.Param("id")), p.ID)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderConversation(conv))
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var beforeSeq int64
	if raw := c.Query("before_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before_seq must be a non-negative integer"})
			return
		}
		beforeSeq = parsed
	}
	msgs, err := h.Chat.ListMessages(c.Request.Context(),
		domainchat.ConversationID(c.Param("id")), p.ID, parsePositiveInt(c.Query("limit"), 20), beforeSeq)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": renderMessages(msgs)})
}

type sendMessageRequest struct {
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	Language  string     `json:"language"`
	MediaURL  string     `json:"media_url"`
	ReplyTo   string     `json:"reply_to"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msgType := domainchat.MessageType(req.Type)
	if req.Type == "" {
		msgType = domainchat.TypeText
	}
	params := appchat.SendParams{
		Type:     msgType,
		Text:     req.Text,
		Language: req.Language,
		MediaURL: req.MediaURL,
		ReplyTo:  domainchat.MessageID(req.ReplyTo),
	}
	if req.ExpiresAt != nil {
		params.ExpiresAt = *req.ExpiresAt
	}
	conversationID := domainchat.ConversationID(c.Param("id"))
	msg, err := h.Chat.SendMessage(c.Request.Context(), conversationID, p.ID, params)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	view := renderMessage(msg)
	h.fanOutNewMessage(c, conversationID, p.ID, view)
	c.JSON(http.StatusCreated, view)
}

func (h ChatHandler) SendVoice(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	file, _, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(io.LimitReader(file, maxVoiceUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read audio"})
		return
	}
	if len(audio) > maxVoiceUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio exceeds upload limit"})
		return
	}
	conversationID := domainchat.ConversationID(c.Param("id"))
	msg, err := h.Voice.IngestVoice(c.Request.Context(), conversationID, p.ID, audio, c.PostForm("language"))
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	view := renderMessage(msg)
	h.fanOutNewMessage(c, conversationID, p.ID, view)
	c.JSON(http.StatusCreated, view)
}

type synthesizeRequest struct {
	Text     string `json:"text" binding:"required"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

func (h ChatHandler) SynthesizeSpeech(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	audio, err := h.Voice.Synthesize(c.Request.Context(), req.Text, req.Language, req.Voice)
	if err != nil {
		if errors.Is(err, voice.ErrProviderUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech service unavailable"})
			return
		}
		h.respondChatError(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/L16", audio)
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ids := make([]domainchat.MessageID, 0, len(req.MessageIDs))
	for _, id := range req.MessageIDs {
		ids = append(ids, domainchat.MessageID(id))
	}
	if err := h.Chat.MarkRead(c.Request.Context(), domainchat.ConversationID(c.Param("id")), p.ID, ids); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateSettingsRequest struct {
	AutoTranslate bool `json:"auto_translate"`
	Notifications bool `json:"notifications"`
}

func (h ChatHandler) UpdateSettings(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, err := h.Chat.UpdateSettings(c.Request.Context(), domainchat.ConversationID(c.Param("id")), p.ID,
		domainchat.Settings{AutoTranslate: req.AutoTranslate, Notifications: req.Notifications})
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderConversation(conv))
}

func (h ChatHandler) LeaveConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Chat.LeaveConversation(c.Request.Context(), domainchat.ConversationID(c.Param("id")), p.ID); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type editMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h ChatHandler) EditMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	msg, err := h.Chat.EditMessage(c.Request.Context(), domainchat.MessageID(c.Param("id")), p.ID, req.Text)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	if h.Gateway != nil {
		if conv, convErr := h.Chat.Conversation(c.Request.Context(), msg.ConversationID, p.ID); convErr == nil {
			h.Gateway.FanOutEdited(c.Request.Context(), conv, p.ID, realtime.EditedPayload{
				MessageID:  msg.ID,
				NewContent: msg.Content.OriginalText,
				EditedAt:   msg.EditHistory[len(msg.EditHistory)-1].EditedAt,
			})
		}
	}
	c.JSON(http.StatusOK, renderMessage(msg))
}

func (h ChatHandler) DeleteMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Chat.DeleteMessage(c.Request.Context(), domainchat.MessageID(c.Param("id")), p.ID); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h ChatHandler) SetReaction(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji is required"})
		return
	}
	msg, err := h.Chat.SetReaction(c.Request.Context(), domainchat.MessageID(c.Param("id")), p.ID, req.Emoji)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	h.fanOutReaction(c, msg, p.ID, req.Emoji, "added")
	c.JSON(http.StatusOK, renderMessage(msg))
}

func (h ChatHandler) ClearReaction(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	msg, err := h.Chat.ClearReaction(c.Request.Context(), domainchat.MessageID(c.Param("id")), p.ID)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	h.fanOutReaction(c, msg, p.ID, "", "removed")
	c.JSON(http.StatusOK, renderMessage(msg))
}

func (h ChatHandler) Translate(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	lang := strings.TrimSpace(c.Query("lang"))
	if lang == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lang query parameter is required"})
		return
	}
	id := domainchat.MessageID(c.Param("id"))
	if _, err := h.Chat.Message(c.Request.Context(), id, p.ID); err != nil {
		h.respondChatError(c, err)
		return
	}
	result, err := h.Translations.GetOrTranslate(c.Request.Context(), id, lang)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"text":          result.Translation.Text,
		"confidence":    result.Translation.Confidence,
		"translated_at": result.Translation.TranslatedAt,
		"degraded":      result.Degraded,
	})
}

func (h ChatHandler) SearchMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	query := c.Query("q")
	msgs, err := h.Chat.SearchMessages(c.Request.Context(), p.ID,
		domainchat.ConversationID(c.Query("conversation_id")), query, parsePositiveInt(c.Query("limit"), 20))
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": renderMessages(msgs)})
}

func (h ChatHandler) fanOutNewMessage(c *gin.Context, conversationID domainchat.ConversationID, senderID string, view messageView) {
	if h.Gateway == nil {
		return
	}
	conv, err := h.Chat.Conversation(c.Request.Context(), conversationID, senderID)
	if err != nil {
		return
	}
	h.Gateway.FanOutNewMessage(c.Request.Context(), conv, senderID, view)
}

func (h ChatHandler) fanOutReaction(c *gin.Context, msg *domainchat.Message, userID, emoji, action string) {
	if h.Gateway == nil {
		return
	}
	conv, err := h.Chat.Conversation(c.Request.Context(), msg.ConversationID, userID)
	if err != nil {
		return
	}
	h.Gateway.FanOutReaction(c.Request.Context(), conv, userID, realtime.ReactionPayload{
		MessageID: msg.ID,
		UserID:    userID,
		Emoji:     emoji,
		Action:    action,
	})
}

func (h ChatHandler) respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainchat.ErrConversationNotFound), errors.Is(err, domainchat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrNotParticipant), errors.Is(err, domainchat.ErrNotSender), errors.Is(err, domainchat.ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrValidation), errors.Is(err, domainchat.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat request failed", "path", c.FullPath(), "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parsePositiveInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
