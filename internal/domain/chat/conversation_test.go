package chat

import (
	"errors"
	"testing"
	"time"
)

var testTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestPairKey(t *testing.T) {
	if got, want := PairKey("bob", "alice"), "alice|bob"; got != want {
		t.Errorf("PairKey(bob, alice) = %q, want %q", got, want)
	}
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Error("pair key is not order independent")
	}
}

func TestNewConversation(t *testing.T) {
	tests := []struct {
		name    string
		userA   string
		userB   string
		wantErr bool
	}{
		{name: "OK", userA: "alice", userB: "bob"},
		{name: "SelfConversation", userA: "alice", userB: "alice", wantErr: true},
		{name: "MissingParticipant", userA: "alice", userB: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := NewConversation("c1", tt.userA, tt.userB, testTime)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("want ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConversation: %v", err)
			}
			if !conv.IsActive {
				t.Error("new conversation should be active")
			}
			if !conv.ActiveParticipant("alice") || !conv.ActiveParticipant("bob") {
				t.Error("both participants should be active")
			}
			if !conv.Settings.Notifications {
				t.Error("notifications should default on")
			}
		})
	}
}

func TestConversation_RecordMessage(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	snap := MessageSnapshot{MessageID: "m1", Text: "hi", SenderID: "alice", Type: TypeText, At: testTime}
	conv.RecordMessage(snap, testTime)

	if conv.LastMessage == nil || conv.LastMessage.MessageID != "m1" {
		t.Fatalf("last message snapshot not recorded: %+v", conv.LastMessage)
	}
	if got := conv.Status["bob"].UnreadCount; got != 1 {
		t.Errorf("bob unread = %d, want 1", got)
	}
	if got := conv.Status["alice"].UnreadCount; got != 0 {
		t.Errorf("alice unread = %d, want 0", got)
	}
	if conv.Status["alice"].LastSeen.IsZero() {
		t.Error("sender last seen should be set")
	}
}

func TestConversation_MarkReadIdempotent(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	conv.RecordMessage(MessageSnapshot{MessageID: "m1", SenderID: "alice", At: testTime}, testTime)
	conv.MarkRead("bob", testTime.Add(time.Minute))
	conv.MarkRead("bob", testTime.Add(2*time.Minute))

	if got := conv.Status["bob"].UnreadCount; got != 0 {
		t.Errorf("unread after repeated mark read = %d, want 0", got)
	}
}

func TestConversation_NextSeq(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if got := conv.NextSeq(); got != 1 {
		t.Errorf("first seq = %d, want 1", got)
	}
	if got := conv.NextSeq(); got != 2 {
		t.Errorf("second seq = %d, want 2", got)
	}
}

func TestConversation_Leave(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if err := conv.Leave("alice", testTime.Add(time.Hour)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !conv.IsActive {
		t.Error("conversation should stay active while one participant remains")
	}
	if conv.ActiveParticipant("alice") {
		t.Error("alice should no longer be active")
	}
	if err := conv.Leave("alice", testTime.Add(time.Hour)); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("second leave = %v, want ErrNotParticipant", err)
	}
	if err := conv.Leave("bob", testTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if conv.IsActive {
		t.Error("conversation should deactivate once both sides left")
	}
}

func TestConversation_SetTyping(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	conv.SetTyping("alice", true, testTime)
	if !conv.Status["alice"].IsTyping {
		t.Error("typing flag should be set")
	}
	if conv.Status["alice"].LastTypingAt.IsZero() {
		t.Error("last typing timestamp should be set")
	}
	conv.SetTyping("alice", false, testTime.Add(time.Second))
	if conv.Status["alice"].IsTyping {
		t.Error("typing flag should be cleared")
	}
	// Stop must not erase the timestamp clients use for their own expiry.
	if got := conv.Status["alice"].LastTypingAt; !got.Equal(testTime) {
		t.Errorf("last typing at = %v, want %v", got, testTime)
	}
}

func TestConversation_CloneIsolation(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	clone := conv.Clone()
	clone.MarkRead("bob", testTime)
	clone.Participants[0].LeftAt = testTime

	if conv.Participants[0].LeftAt.Equal(testTime) {
		t.Error("clone participant mutation leaked into original")
	}
	if !conv.Status["bob"].LastSeen.IsZero() {
		t.Error("clone status mutation leaked into original")
	}
}

func TestConversation_RollbackMessage(t *testing.T) {
	conv, err := NewConversation("c1", "alice", "bob", testTime)
	if err != nil {
		t.Fatal(err)
	}
	seq := conv.NextSeq()
	conv.RecordMessage(MessageSnapshot{MessageID: "m1", SenderID: "alice", Type: TypeText, At: testTime}, testTime)

	conv.RollbackMessage(nil, testTime)

	if conv.LastMessage != nil {
		t.Errorf("snapshot = %+v, want nil after rollback", conv.LastMessage)
	}
	if conv.Seq != seq-1 {
		t.Errorf("seq = %d, want %d", conv.Seq, seq-1)
	}
	if conv.Status["bob"].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", conv.Status["bob"].UnreadCount)
	}

	// With an earlier message in place, rollback restores it untouched.
	conv.NextSeq()
	conv.RecordMessage(MessageSnapshot{MessageID: "m2", SenderID: "alice", Type: TypeText, At: testTime}, testTime)
	prior := conv.LastMessage
	conv.NextSeq()
	conv.RecordMessage(MessageSnapshot{MessageID: "m3", SenderID: "bob", Type: TypeText, At: testTime}, testTime)

	conv.RollbackMessage(prior, testTime)
	if conv.LastMessage == nil || conv.LastMessage.MessageID != "m2" {
		t.Fatalf("snapshot = %+v, want m2 restored", conv.LastMessage)
	}
	if conv.Status["alice"].UnreadCount != 0 || conv.Status["bob"].UnreadCount != 1 {
		t.Errorf("unread alice=%d bob=%d, want 0 and 1", conv.Status["alice"].UnreadCount, conv.Status["bob"].UnreadCount)
	}
}
