package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "bizlink/internal/domain/chat"
)

type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection("agg_conversation")}
}

// EnsureIndexes creates the partial unique index that enforces one active
// conversation per unordered user pair, plus the listing index.
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}),
		},
		{
			Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	})
	return err
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) ByPairKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	filter := bson.M{"pair_key": key, "is_active": true}
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domainchat.Conversation) error {
	doc := newConversationDocument(conv)
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.ErrPairExists
		}
		return err
	}
	return nil
}

func (r *ConversationRepository) Save(ctx context.Context, conv *domainchat.Conversation) error {
	doc := newConversationDocument(conv)
	filter := bson.M{"_id": doc.ID, "version": conv.Version}
	doc.Version = conv.Version + 1
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": doc})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConcurrentUpdate
	}
	conv.Version = doc.Version
	return nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit int, before time.Time) ([]*domainchat.Conversation, error) {
	filter := bson.M{"participant_ids": userID}
	if !before.IsZero() {
		filter["updated_at"] = bson.M{"$lt": before.UnixMilli()}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*domainchat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

type conversationDocument struct {
	ID             string                       `bson:"_id"`
	PairKey        string                       `bson:"pair_key"`
	ParticipantIDs []string                     `bson:"participant_ids"`
	Participants   []participantDocument        `bson:"participants"`
	Status         map[string]statusDocument    `bson:"status"`
	Settings       settingsDocument             `bson:"settings"`
	LastMessage    *messageSnapshotDocument     `bson:"last_message,omitempty"`
	IsActive       bool                         `bson:"is_active"`
	Seq            int64                        `bson:"seq"`
	CreatedAt      int64                        `bson:"created_at"`
	UpdatedAt      int64                        `bson:"updated_at"`
	Version        int64                        `bson:"version"`
}

type participantDocument struct {
	UserID   string `bson:"user_id"`
	JoinedAt int64  `bson:"joined_at"`
	LeftAt   int64  `bson:"left_at,omitempty"`
}

type statusDocument struct {
	LastSeen     int64 `bson:"last_seen,omitempty"`
	UnreadCount  int   `bson:"unread_count"`
	IsTyping     bool  `bson:"is_typing"`
	LastTypingAt int64 `bson:"last_typing_at,omitempty"`
	IsMuted      bool  `bson:"is_muted"`
	IsBlocked    bool  `bson:"is_blocked"`
}

type settingsDocument struct {
	AutoTranslate bool `bson:"auto_translate"`
	Notifications bool `bson:"notifications"`
}

type messageSnapshotDocument struct {
	MessageID string `bson:"message_id"`
	Text      string `bson:"text"`
	SenderID  string `bson:"sender_id"`
	Type      string `bson:"type"`
	At        int64  `bson:"at"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:        string(c.ID),
		PairKey:   c.PairKey,
		Status:    make(map[string]statusDocument, len(c.Status)),
		Settings:  settingsDocument{AutoTranslate: c.Settings.AutoTranslate, Notifications: c.Settings.Notifications},
		IsActive:  c.IsActive,
		Seq:       c.Seq,
		CreatedAt: c.CreatedAt.UnixMilli(),
		UpdatedAt: c.UpdatedAt.UnixMilli(),
		Version:   c.Version,
	}
	for _, p := range c.Participants {
		doc.ParticipantIDs = append(doc.ParticipantIDs, p.UserID)
		pd := participantDocument{UserID: p.UserID, JoinedAt: p.JoinedAt.UnixMilli()}
		if !p.LeftAt.IsZero() {
			pd.LeftAt = p.LeftAt.UnixMilli()
		}
		doc.Participants = append(doc.Participants, pd)
	}
	for userID, st := range c.Status {
		sd := statusDocument{
			UnreadCount: st.UnreadCount,
			IsTyping:    st.IsTyping,
			IsMuted:     st.IsMuted,
			IsBlocked:   st.IsBlocked,
		}
		if !st.LastSeen.IsZero() {
			sd.LastSeen = st.LastSeen.UnixMilli()
		}
		if !st.LastTypingAt.IsZero() {
			sd.LastTypingAt = st.LastTypingAt.UnixMilli()
		}
		doc.Status[userID] = sd
	}
	if c.LastMessage != nil {
		doc.LastMessage = &messageSnapshotDocument{
			MessageID: string(c.LastMessage.MessageID),
			Text:      c.LastMessage.Text,
			SenderID:  c.LastMessage.SenderID,
			Type:      string(c.LastMessage.Type),
			At:        c.LastMessage.At.UnixMilli(),
		}
	}
	return doc
}

func (d conversationDocument) toAggregate() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:        domainchat.ConversationID(d.ID),
		PairKey:   d.PairKey,
		Status:    make(map[string]domainchat.ParticipantStatus, len(d.Status)),
		Settings:  domainchat.Settings{AutoTranslate: d.Settings.AutoTranslate, Notifications: d.Settings.Notifications},
		IsActive:  d.IsActive,
		Seq:       d.Seq,
		CreatedAt: timestampToTime(d.CreatedAt),
		UpdatedAt: timestampToTime(d.UpdatedAt),
		Version:   d.Version,
	}
	for _, pd := range d.Participants {
		p := domainchat.Participant{UserID: pd.UserID, JoinedAt: timestampToTime(pd.JoinedAt)}
		if pd.LeftAt != 0 {
			p.LeftAt = timestampToTime(pd.LeftAt)
		}
		conv.Participants = append(conv.Participants, p)
	}
	for userID, sd := range d.Status {
		st := domainchat.ParticipantStatus{
			UnreadCount: sd.UnreadCount,
			IsTyping:    sd.IsTyping,
			IsMuted:     sd.IsMuted,
			IsBlocked:   sd.IsBlocked,
		}
		if sd.LastSeen != 0 {
			st.LastSeen = timestampToTime(sd.LastSeen)
		}
		if sd.LastTypingAt != 0 {
			st.LastTypingAt = timestampToTime(sd.LastTypingAt)
		}
		conv.Status[userID] = st
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domainchat.MessageSnapshot{
			MessageID: domainchat.MessageID(d.LastMessage.MessageID),
			Text:      d.LastMessage.Text,
			SenderID:  d.LastMessage.SenderID,
			Type:      domainchat.MessageType(d.LastMessage.Type),
			At:        timestampToTime(d.LastMessage.At),
		}
	}
	return conv
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
