package chat

import (
	"errors"
	"testing"
	"time"
)

func newTextMessage(t *testing.T) *Message {
	t.Helper()
	msg, err := NewMessage(NewMessageParams{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Type:           TypeText,
		Text:           "hello",
		Language:       "english",
		Seq:            1,
		CreatedAt:      testTime,
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestNewMessage_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params NewMessageParams
	}{
		{
			name:   "EmptyTextMessage",
			params: NewMessageParams{ID: "m1", ConversationID: "c1", SenderID: "alice", Type: TypeText},
		},
		{
			name:   "UnknownType",
			params: NewMessageParams{ID: "m1", ConversationID: "c1", SenderID: "alice", Type: "sticker", Text: "x"},
		},
		{
			name:   "VoiceWithoutDuration",
			params: NewMessageParams{ID: "m1", ConversationID: "c1", SenderID: "alice", Type: TypeVoice, Voice: &Voice{}},
		},
		{
			name:   "ImageWithoutMedia",
			params: NewMessageParams{ID: "m1", ConversationID: "c1", SenderID: "alice", Type: TypeImage},
		},
		{
			name:   "MissingSender",
			params: NewMessageParams{ID: "m1", ConversationID: "c1", Type: TypeText, Text: "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMessage(tt.params); !errors.Is(err, ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestMessage_Advance(t *testing.T) {
	tests := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		want    MessageStatus
		wantErr bool
	}{
		{name: "Forward", from: StatusSent, to: StatusDelivered, want: StatusDelivered},
		{name: "Backward", from: StatusDelivered, to: StatusSent, want: StatusDelivered, wantErr: true},
		{name: "FailedFromSending", from: StatusSending, to: StatusFailed, want: StatusFailed},
		{name: "FailedFromDelivered", from: StatusDelivered, to: StatusFailed, want: StatusFailed},
		{name: "ReadIsTerminal", from: StatusRead, to: StatusDelivered, want: StatusRead, wantErr: true},
		{name: "FailedIsTerminal", from: StatusFailed, to: StatusSent, want: StatusFailed, wantErr: true},
		{name: "ReadRepeated", from: StatusRead, to: StatusRead, want: StatusRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := newTextMessage(t)
			msg.Status = tt.from
			err := msg.Advance(tt.to)
			if tt.wantErr && !errors.Is(err, ErrInvalidStatus) {
				t.Fatalf("want ErrInvalidStatus, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if msg.Status != tt.want {
				t.Errorf("status = %s, want %s", msg.Status, tt.want)
			}
		})
	}
}

func TestMessage_EditText(t *testing.T) {
	msg := newTextMessage(t)
	msg.AttachTranslation("german", Translation{Text: "hallo"})

	if err := msg.EditText("bob", "changed", testTime); !errors.Is(err, ErrNotSender) {
		t.Fatalf("non-sender edit = %v, want ErrNotSender", err)
	}
	if err := msg.EditText("alice", "changed", testTime.Add(time.Minute)); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	if msg.Content.OriginalText != "changed" {
		t.Errorf("text = %q, want changed", msg.Content.OriginalText)
	}
	if !msg.IsEdited {
		t.Error("edited flag not set")
	}
	if len(msg.EditHistory) != 1 || msg.EditHistory[0].Text != "hello" {
		t.Errorf("edit history = %+v, want prior text preserved", msg.EditHistory)
	}
	if len(msg.Content.Translations) != 0 {
		t.Error("stale translations should be dropped on edit")
	}

	voiceMsg, err := NewMessage(NewMessageParams{
		ID: "m2", ConversationID: "c1", SenderID: "alice", Type: TypeVoice,
		Voice: &Voice{DurationSeconds: 2}, Seq: 2, CreatedAt: testTime,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := voiceMsg.EditText("alice", "nope", testTime); !errors.Is(err, ErrValidation) {
		t.Errorf("voice edit = %v, want ErrValidation", err)
	}
}

func TestMessage_Reactions(t *testing.T) {
	msg := newTextMessage(t)
	if err := msg.SetReaction("bob", "thumbs_up", testTime); err != nil {
		t.Fatal(err)
	}
	if err := msg.SetReaction("bob", "heart", testTime.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if len(msg.Reactions) != 1 {
		t.Fatalf("reactions = %d, want 1 (replace semantics)", len(msg.Reactions))
	}
	if got := msg.Reactions["bob"].Emoji; got != "heart" {
		t.Errorf("emoji = %q, want heart", got)
	}
	if !msg.ClearReaction("bob") {
		t.Error("clear existing reaction should report true")
	}
	if msg.ClearReaction("bob") {
		t.Error("clear absent reaction should report false")
	}
}

func TestMessage_MarkReadBy(t *testing.T) {
	msg := newTextMessage(t)
	if msg.MarkReadBy("alice", testTime) {
		t.Error("sender must not mark own message read")
	}
	if !msg.MarkReadBy("bob", testTime) {
		t.Error("first read should report true")
	}
	if msg.MarkReadBy("bob", testTime.Add(time.Minute)) {
		t.Error("repeated read should report false")
	}
	if got := msg.ReadBy["bob"]; !got.Equal(testTime) {
		t.Errorf("read timestamp = %v, want first read %v", got, testTime)
	}
}

func TestMessage_SoftDelete(t *testing.T) {
	msg := newTextMessage(t)
	if err := msg.SoftDelete("bob", testTime); !errors.Is(err, ErrNotSender) {
		t.Fatalf("non-sender delete = %v, want ErrNotSender", err)
	}
	if err := msg.SoftDelete("alice", testTime); err != nil {
		t.Fatal(err)
	}
	if !msg.Deleted {
		t.Error("deleted flag not set")
	}
	if err := msg.EditText("alice", "late", testTime); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("edit after delete = %v, want ErrMessageNotFound", err)
	}
}
