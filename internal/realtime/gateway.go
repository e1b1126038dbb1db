package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	domainchat "bizlink/internal/domain/chat"
	"bizlink/internal/domain/presence"
)

// ErrAuthentication rejects a connection before it is ever registered.
var ErrAuthentication = errors.New("realtime: authentication failed")

// errTargetOffline reports a signaling relay whose recipient has no session.
var errTargetOffline = errors.New("realtime: signal target not connected")

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID string
	Name   string
}

// Authenticator validates a connect-time credential.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// ChatOps is the slice of the chat store the gateway dispatches to.
type ChatOps interface {
	Conversation(ctx context.Context, id domainchat.ConversationID, userID string) (*domainchat.Conversation, error)
	SetReaction(ctx context.Context, id domainchat.MessageID, userID, emoji string) (*domainchat.Message, error)
	ClearReaction(ctx context.Context, id domainchat.MessageID, userID string) (*domainchat.Message, error)
}

// Session is one authenticated connection and the logical channels it joined.
type Session struct {
	UserID string
	Name   string

	handle  Handle
	limiter *rate.Limiter

	mu     sync.Mutex
	joined map[domainchat.ConversationID]struct{}
}

func (s *Session) join(id domainchat.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[id] = struct{}{}
}

func (s *Session) leave(id domainchat.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, id)
}

func (s *Session) joinedConversations() []domainchat.ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domainchat.ConversationID, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	return out
}

// Gateway authenticates persistent connections, registers them, dispatches
// inbound events, and fans outbound events out to registered sessions.
type Gateway struct {
	Auth      Authenticator
	Registry  *Registry
	Presence  *Broadcaster
	Typing    *Coordinator
	Chat      ChatOps
	RateLimit rate.Limit
	RateBurst int
	Logger    *slog.Logger
}

func (g *Gateway) limiter() *rate.Limiter {
	limit := g.RateLimit
	if limit <= 0 {
		limit = 25
	}
	burst := g.RateBurst
	if burst <= 0 {
		burst = 50
	}
	return rate.NewLimiter(limit, burst)
}

// Connect authenticates the credential and registers the handle. On
// authentication failure the handle is never registered and the caller must
// close the underlying connection.
func (g *Gateway) Connect(ctx context.Context, token string, handle Handle) (*Session, error) {
	identity, err := g.Auth.Authenticate(ctx, token)
	if err != nil {
		return nil, ErrAuthentication
	}
	sess := &Session{
		UserID:  identity.UserID,
		Name:    identity.Name,
		handle:  handle,
		limiter: g.limiter(),
		joined:  make(map[domainchat.ConversationID]struct{}),
	}
	g.Registry.Register(identity.UserID, handle)
	if _, _, err := g.Presence.Broadcast(ctx, identity.UserID, presence.StatusOnline); err != nil {
		g.logWarn("online broadcast failed", "user_id", identity.UserID, "error", err)
	}
	return sess, nil
}

// Disconnect tears a session down: typing-stop for every joined conversation,
// deregistration, and an offline transition. A session that was already
// replaced by a newer connection skips the offline broadcast.
func (g *Gateway) Disconnect(ctx context.Context, sess *Session) {
	for _, id := range sess.joinedConversations() {
		if _, _, err := g.Typing.SetTyping(ctx, id, sess.UserID, false); err != nil {
			g.logWarn("typing stop on disconnect failed", "conversation_id", id, "error", err)
		}
	}
	if g.Registry.Deregister(sess.UserID, sess.handle) {
		if _, _, err := g.Presence.Broadcast(ctx, sess.UserID, presence.StatusOffline); err != nil {
			g.logWarn("offline broadcast failed", "user_id", sess.UserID, "error", err)
		}
	}
}

// HandleEviction runs the offline transition for a session removed by the
// registry sweep. Wired as the registry's OnEvict callback.
func (g *Gateway) HandleEviction(ctx context.Context, userID string) {
	if _, _, err := g.Presence.Broadcast(ctx, userID, presence.StatusOffline); err != nil {
		g.logWarn("offline broadcast after eviction failed", "user_id", userID, "error", err)
	}
}

// Dispatch routes one inbound event. Errors are pushed back as error events
// without closing the connection.
func (g *Gateway) Dispatch(ctx context.Context, sess *Session, event InboundEvent) {
	g.Registry.Touch(sess.UserID)
	if !sess.limiter.Allow() {
		g.push(ctx, sess, Event{Type: EventError, Data: ErrorPayload{
			Code:       "rate_limited",
			Message:    "too many events, slow down",
			RetryAfter: 1,
		}})
		return
	}

	var err error
	switch event.Type {
	case EventJoinConversation:
		err = g.joinConversation(ctx, sess, event)
	case EventLeaveConversation:
		sess.leave(domainchat.ConversationID(event.ConversationID))
	case EventTypingStart:
		_, _, err = g.Typing.SetTyping(ctx, domainchat.ConversationID(event.ConversationID), sess.UserID, true)
	case EventTypingStop:
		_, _, err = g.Typing.SetTyping(ctx, domainchat.ConversationID(event.ConversationID), sess.UserID, false)
	case EventReactionAdd:
		err = g.reaction(ctx, sess, event, true)
	case EventReactionRemove:
		err = g.reaction(ctx, sess, event, false)
	case EventUpdateStatus:
		_, _, err = g.Presence.Broadcast(ctx, sess.UserID, presence.Status(event.Status))
	case EventCallSignal:
		err = g.relaySignal(ctx, sess, event)
	default:
		err = errors.New("unknown event type " + event.Type)
	}
	if err != nil {
		g.pushError(ctx, sess, err)
	}
}

func (g *Gateway) joinConversation(ctx context.Context, sess *Session, event InboundEvent) error {
	id := domainchat.ConversationID(event.ConversationID)
	if _, err := g.Chat.Conversation(ctx, id, sess.UserID); err != nil {
		return err
	}
	sess.join(id)
	return nil
}

func (g *Gateway) reaction(ctx context.Context, sess *Session, event InboundEvent, add bool) error {
	id := domainchat.MessageID(event.MessageID)
	var (
		msg    *domainchat.Message
		err    error
		action = "removed"
	)
	if add {
		msg, err = g.Chat.SetReaction(ctx, id, sess.UserID, event.Emoji)
		action = "added"
	} else {
		msg, err = g.Chat.ClearReaction(ctx, id, sess.UserID)
	}
	if err != nil {
		return err
	}
	conv, err := g.Chat.Conversation(ctx, msg.ConversationID, sess.UserID)
	if err != nil {
		return err
	}
	payload := ReactionPayload{MessageID: msg.ID, UserID: sess.UserID, Emoji: event.Emoji, Action: action}
	g.fanOut(ctx, conv, sess.UserID, Event{Type: EventMessageReaction, Data: payload})
	return nil
}

func (g *Gateway) relaySignal(ctx context.Context, sess *Session, event InboundEvent) error {
	if event.Target == "" {
		return errors.New("signal target required")
	}
	handle, ok := g.Registry.Lookup(event.Target)
	if !ok {
		return errTargetOffline
	}
	return handle.Send(ctx, Event{
		Type: EventCallSignal,
		Data: SignalPayload{From: sess.UserID, Payload: event.Payload},
	})
}

// FanOutNewMessage pushes a freshly persisted message to the other active
// participants. The rendered message payload comes from the caller so the
// wire shape matches the durable API response.
func (g *Gateway) FanOutNewMessage(ctx context.Context, conv *domainchat.Conversation, senderID string, rendered any) (delivered, skipped int) {
	return g.fanOut(ctx, conv, senderID, Event{
		Type: EventNewMessage,
		Data: NewMessagePayload{ConversationID: conv.ID, Message: rendered},
	})
}

// FanOutEdited pushes an edit notification to the other active participants.
func (g *Gateway) FanOutEdited(ctx context.Context, conv *domainchat.Conversation, actorID string, payload EditedPayload) (delivered, skipped int) {
	return g.fanOut(ctx, conv, actorID, Event{Type: EventMessageEdited, Data: payload})
}

// FanOutReaction pushes a reaction change to the other active participants.
func (g *Gateway) FanOutReaction(ctx context.Context, conv *domainchat.Conversation, actorID string, payload ReactionPayload) (delivered, skipped int) {
	return g.fanOut(ctx, conv, actorID, Event{Type: EventMessageReaction, Data: payload})
}

func (g *Gateway) fanOut(ctx context.Context, conv *domainchat.Conversation, actorID string, event Event) (delivered, skipped int) {
	for _, other := range conv.OtherParticipants(actorID) {
		handle, ok := g.Registry.Lookup(other)
		if !ok {
			skipped++
			continue
		}
		if err := handle.Send(ctx, event); err != nil {
			g.logWarn("fan-out push failed", "recipient", other, "event", event.Type, "error", err)
			skipped++
			continue
		}
		delivered++
	}
	return delivered, skipped
}

func (g *Gateway) pushError(ctx context.Context, sess *Session, err error) {
	payload := ErrorPayload{Code: "internal", Message: "operation failed"}
	switch {
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrMessageNotFound),
		errors.Is(err, errTargetOffline):
		payload = ErrorPayload{Code: "not_found", Message: err.Error()}
	case errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, domainchat.ErrNotSender),
		errors.Is(err, domainchat.ErrBlocked):
		payload = ErrorPayload{Code: "forbidden", Message: err.Error()}
	case errors.Is(err, domainchat.ErrValidation):
		payload = ErrorPayload{Code: "invalid", Message: err.Error()}
	default:
		g.logWarn("dispatch failed", "user_id", sess.UserID, "error", err)
	}
	g.push(ctx, sess, Event{Type: EventError, Data: payload})
}

func (g *Gateway) push(ctx context.Context, sess *Session, event Event) {
	if err := sess.handle.Send(ctx, event); err != nil {
		g.logWarn("push failed", "user_id", sess.UserID, "event", event.Type, "error", err)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.Logger != nil {
		g.Logger.Warn(msg, args...)
	}
}
