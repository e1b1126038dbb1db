package mongo

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "bizlink/internal/domain/chat"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection("agg_message")}
}

func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "content.original_text", Value: "text"}},
		},
	})
	return err
}

func (r *MessageRepository) ByID(ctx context.Context, id domainchat.MessageID) (*domainchat.Message, error) {
	var doc messageDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrMessageNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	_, err := r.col.InsertOne(ctx, newMessageDocument(msg))
	return err
}

func (r *MessageRepository) Save(ctx context.Context, msg *domainchat.Message) error {
	doc := newMessageDocument(msg)
	filter := bson.M{"_id": doc.ID, "version": msg.Version}
	doc.Version = msg.Version + 1
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": doc})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConcurrentUpdate
	}
	msg.Version = doc.Version
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID, limit int, beforeSeq int64) ([]*domainchat.Message, error) {
	filter := bson.M{"conversation_id": string(id), "deleted": false}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	// Fetch the newest window descending, then flip to display order.
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(limit))
	msgs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs, nil
}

func (r *MessageRepository) Search(ctx context.Context, ids []domainchat.ConversationID, query string, limit int) ([]*domainchat.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	filter := bson.M{
		"conversation_id": bson.M{"$in": raw},
		"deleted":         false,
		"content.original_text": bson.M{
			"$regex": primitive.Regex{Pattern: regexQuote(query), Options: "i"},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domainchat.Message, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*domainchat.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

func regexQuote(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(special); j++ {
			if s[i] == special[j] {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

type messageDocument struct {
	ID             string                         `bson:"_id"`
	ConversationID string                         `bson:"conversation_id"`
	SenderID       string                         `bson:"sender_id"`
	Seq            int64                          `bson:"seq"`
	Type           string                         `bson:"type"`
	Content        contentDocument                `bson:"content"`
	Voice          *voiceDocument                 `bson:"voice,omitempty"`
	MediaURL       string                         `bson:"media_url,omitempty"`
	Status         string                         `bson:"status"`
	ReadBy         map[string]int64               `bson:"read_by"`
	Reactions      map[string]reactionDocument    `bson:"reactions"`
	ReplyTo        string                         `bson:"reply_to,omitempty"`
	EditHistory    []editDocument                 `bson:"edit_history,omitempty"`
	IsEdited       bool                           `bson:"is_edited"`
	Forwarded      *forwardedDocument             `bson:"forwarded,omitempty"`
	ExpiresAt      int64                          `bson:"expires_at,omitempty"`
	Deleted        bool                           `bson:"deleted"`
	CreatedAt      int64                          `bson:"created_at"`
	Version        int64                          `bson:"version"`
}

type contentDocument struct {
	OriginalText     string                         `bson:"original_text"`
	OriginalLanguage string                         `bson:"original_language,omitempty"`
	Translations     map[string]translationDocument `bson:"translations"`
}

type translationDocument struct {
	Text         string  `bson:"text"`
	Confidence   float64 `bson:"confidence"`
	TranslatedAt int64   `bson:"translated_at"`
}

type voiceDocument struct {
	AudioURL        string             `bson:"audio_url,omitempty"`
	DurationSeconds float64            `bson:"duration_seconds"`
	Transcript      transcriptDocument `bson:"transcript"`
	Waveform        []float64          `bson:"waveform,omitempty"`
}

type transcriptDocument struct {
	Text       string  `bson:"text,omitempty"`
	Language   string  `bson:"language,omitempty"`
	Confidence float64 `bson:"confidence"`
	Fallback   bool    `bson:"fallback"`
}

type reactionDocument struct {
	Emoji     string `bson:"emoji"`
	ReactedAt int64  `bson:"reacted_at"`
}

type editDocument struct {
	Text     string `bson:"text"`
	EditedAt int64  `bson:"edited_at"`
}

type forwardedDocument struct {
	MessageID string `bson:"message_id"`
	UserID    string `bson:"user_id"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	doc := messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		Seq:            m.Seq,
		Type:           string(m.Type),
		Content: contentDocument{
			OriginalText:     m.Content.OriginalText,
			OriginalLanguage: m.Content.OriginalLanguage,
			Translations:     make(map[string]translationDocument, len(m.Content.Translations)),
		},
		MediaURL:  m.MediaURL,
		Status:    string(m.Status),
		ReadBy:    make(map[string]int64, len(m.ReadBy)),
		Reactions: make(map[string]reactionDocument, len(m.Reactions)),
		ReplyTo:   string(m.ReplyTo),
		IsEdited:  m.IsEdited,
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt.UnixMilli(),
		Version:   m.Version,
	}
	for lang, tr := range m.Content.Translations {
		doc.Content.Translations[lang] = translationDocument{
			Text:         tr.Text,
			Confidence:   tr.Confidence,
			TranslatedAt: tr.TranslatedAt.UnixMilli(),
		}
	}
	for userID, at := range m.ReadBy {
		doc.ReadBy[userID] = at.UnixMilli()
	}
	for userID, re := range m.Reactions {
		doc.Reactions[userID] = reactionDocument{Emoji: re.Emoji, ReactedAt: re.ReactedAt.UnixMilli()}
	}
	for _, e := range m.EditHistory {
		doc.EditHistory = append(doc.EditHistory, editDocument{Text: e.Text, EditedAt: e.EditedAt.UnixMilli()})
	}
	if m.Voice != nil {
		doc.Voice = &voiceDocument{
			AudioURL:        m.Voice.AudioURL,
			DurationSeconds: m.Voice.DurationSeconds,
			Transcript: transcriptDocument{
				Text:       m.Voice.Transcript.Text,
				Language:   m.Voice.Transcript.Language,
				Confidence: m.Voice.Transcript.Confidence,
				Fallback:   m.Voice.Transcript.Fallback,
			},
			Waveform: m.Voice.Waveform,
		}
	}
	if m.Forwarded != nil {
		doc.Forwarded = &forwardedDocument{MessageID: string(m.Forwarded.MessageID), UserID: m.Forwarded.UserID}
	}
	if !m.ExpiresAt.IsZero() {
		doc.ExpiresAt = m.ExpiresAt.UnixMilli()
	}
	return doc
}

func (d messageDocument) toAggregate() *domainchat.Message {
	msg := &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       d.SenderID,
		Seq:            d.Seq,
		Type:           domainchat.MessageType(d.Type),
		Content: domainchat.Content{
			OriginalText:     d.Content.OriginalText,
			OriginalLanguage: d.Content.OriginalLanguage,
			Translations:     make(map[string]domainchat.Translation, len(d.Content.Translations)),
		},
		MediaURL:  d.MediaURL,
		Status:    domainchat.MessageStatus(d.Status),
		ReadBy:    make(map[string]time.Time, len(d.ReadBy)),
		Reactions: make(map[string]domainchat.Reaction, len(d.Reactions)),
		ReplyTo:   domainchat.MessageID(d.ReplyTo),
		IsEdited:  d.IsEdited,
		Deleted:   d.Deleted,
		CreatedAt: timestampToTime(d.CreatedAt),
		Version:   d.Version,
	}
	for lang, tr := range d.Content.Translations {
		msg.Content.Translations[lang] = domainchat.Translation{
			Text:         tr.Text,
			Confidence:   tr.Confidence,
			TranslatedAt: timestampToTime(tr.TranslatedAt),
		}
	}
	for userID, ms := range d.ReadBy {
		msg.ReadBy[userID] = timestampToTime(ms)
	}
	for userID, re := range d.Reactions {
		msg.Reactions[userID] = domainchat.Reaction{Emoji: re.Emoji, ReactedAt: timestampToTime(re.ReactedAt)}
	}
	for _, e := range d.EditHistory {
		msg.EditHistory = append(msg.EditHistory, domainchat.Edit{Text: e.Text, EditedAt: timestampToTime(e.EditedAt)})
	}
	if d.Voice != nil {
		msg.Voice = &domainchat.Voice{
			AudioURL:        d.Voice.AudioURL,
			DurationSeconds: d.Voice.DurationSeconds,
			Transcript: domainchat.Transcript{
				Text:       d.Voice.Transcript.Text,
				Language:   d.Voice.Transcript.Language,
				Confidence: d.Voice.Transcript.Confidence,
				Fallback:   d.Voice.Transcript.Fallback,
			},
			Waveform: d.Voice.Waveform,
		}
	}
	if d.Forwarded != nil {
		msg.Forwarded = &domainchat.ForwardedFrom{MessageID: domainchat.MessageID(d.Forwarded.MessageID), UserID: d.Forwarded.UserID}
	}
	if d.ExpiresAt != 0 {
		msg.ExpiresAt = timestampToTime(d.ExpiresAt)
	}
	return msg
}
