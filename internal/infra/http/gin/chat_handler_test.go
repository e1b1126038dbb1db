package ginserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	gin "github.com/gin-gonic/gin"
	"github.com/neilotoole/slogt"

	appchat "bizlink/internal/app/chat"
	"bizlink/internal/app/translate"
	"bizlink/internal/app/voice"
	"bizlink/internal/infra/config"
	"bizlink/internal/infra/directory"
	"bizlink/internal/infra/obs"
	"bizlink/internal/infra/providers"
	"bizlink/internal/infra/storage/memory"
)

type handlerEnv struct {
	handler http.Handler
	chat    *appchat.Service
	dir     *directory.Memory
}

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
	carolToken = "carol-token"
)

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slogt.New(t)

	dir := directory.NewMemory()
	for _, u := range []struct {
		user  directory.User
		token string
	}{
		{directory.User{ID: "alice", Name: "Alice", Company: "Acme"}, aliceToken},
		{directory.User{ID: "bob", Name: "Bob", Company: "Globex"}, bobToken},
		{directory.User{ID: "carol", Name: "Carol", Company: "Initech"}, carolToken},
	} {
		if _, err := dir.AddUser(u.user, u.token); err != nil {
			t.Fatal(err)
		}
	}

	msgRepo := memory.NewMessageRepository()
	chat := &appchat.Service{
		Conversations: memory.NewConversationRepository(),
		Messages:      msgRepo,
		Directory:     dir,
		Logger:        logger,
	}
	handlers := Handlers{
		Chat: ChatHandler{
			Chat:         chat,
			Voice:        &voice.Pipeline{Chat: chat, Speech: providers.MockSpeech{}, Logger: logger},
			Translations: &translate.Cache{Messages: msgRepo, Provider: providers.MockTranslator{}, Logger: logger},
			Logger:       logger,
		},
		AuthMiddleware: AuthMiddleware{Directory: dir, Logger: logger}.Handle,
	}
	srv := NewServer(config.Config{Env: "test", HTTPAddr: ":0"}, obs.Middleware{Logger: logger}, obs.HealthHandlers{}, handlers)
	return &handlerEnv{handler: srv.Handler, chat: chat, dir: dir}
}

func (e *handlerEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *handlerEnv) createConversation(t *testing.T, token, peerID string) conversationView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/conversations", token, gin.H{"peer_id": peerID})
	if rec.Code != http.StatusOK {
		t.Fatalf("create conversation: status %d, body %s", rec.Code, rec.Body)
	}
	return decodeJSON[conversationView](t, rec)
}

func (e *handlerEnv) sendText(t *testing.T, token, conversationID, text string) messageView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/conversations/"+conversationID+"/messages", token, gin.H{"text": text})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send message: status %d, body %s", rec.Code, rec.Body)
	}
	return decodeJSON[messageView](t, rec)
}

func TestServer_RequiresAuthentication(t *testing.T) {
	env := newHandlerEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/conversations", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/conversations", "bogus", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/livez", "", nil); rec.Code != http.StatusOK {
		t.Errorf("livez status = %d, want 200 without auth", rec.Code)
	}
}

func TestServer_CreateConversation(t *testing.T) {
	env := newHandlerEnv(t)

	conv := env.createConversation(t, aliceToken, "bob")
	if len(conv.Participants) != 2 || !conv.IsActive {
		t.Errorf("conversation = %+v", conv)
	}

	// Either side asking again lands on the same thread.
	again := env.createConversation(t, bobToken, "alice")
	if again.ID != conv.ID {
		t.Errorf("repeat create returned %s, want %s", again.ID, conv.ID)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/conversations", aliceToken, gin.H{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing peer_id status = %d, want 400", rec.Code)
	}
}

func TestServer_CreateConversation_Blocked(t *testing.T) {
	env := newHandlerEnv(t)
	env.dir.Block("alice", "carol")

	rec := env.do(t, http.MethodPost, "/api/v1/conversations", aliceToken, gin.H{"peer_id": "carol"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("blocked pair status = %d, want 403", rec.Code)
	}
}

func TestServer_SendAndListMessages(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")

	first := env.sendText(t, aliceToken, conv.ID, "hello bob")
	if first.Seq != 1 || first.Status != "sent" || first.Type != "text" {
		t.Errorf("first message = %+v", first)
	}
	env.sendText(t, bobToken, conv.ID, "hello alice")

	rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body)
	}
	page := decodeJSON[struct {
		Items []messageView `json:"items"`
	}](t, rec)
	if len(page.Items) != 2 || page.Items[0].Text != "hello bob" {
		t.Errorf("items = %+v, want both messages oldest first", page.Items)
	}

	// An outsider cannot read the thread.
	if rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", carolToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("outsider list status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/conversations/missing/messages", aliceToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestServer_MarkRead(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	msg := env.sendText(t, aliceToken, conv.ID, "ping")

	rec := env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", bobToken, gin.H{"message_ids": []string{msg.ID}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read status = %d, body %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, bobToken, nil)
	got := decodeJSON[conversationView](t, rec)
	if got.Status["bob"].UnreadCount != 0 {
		t.Errorf("unread after read = %d, want 0", got.Status["bob"].UnreadCount)
	}
}

func TestServer_EditMessage(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	msg := env.sendText(t, aliceToken, conv.ID, "helo")

	rec := env.do(t, http.MethodPut, "/api/v1/messages/"+msg.ID, aliceToken, gin.H{"text": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body %s", rec.Code, rec.Body)
	}
	edited := decodeJSON[messageView](t, rec)
	if edited.Text != "hello" || !edited.IsEdited {
		t.Errorf("edited = %+v", edited)
	}

	// Only the sender may rewrite.
	if rec := env.do(t, http.MethodPut, "/api/v1/messages/"+msg.ID, bobToken, gin.H{"text": "hijacked"}); rec.Code != http.StatusForbidden {
		t.Errorf("non-sender edit status = %d, want 403", rec.Code)
	}
}

func TestServer_Reactions(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	msg := env.sendText(t, aliceToken, conv.ID, "deal signed")

	rec := env.do(t, http.MethodPost, "/api/v1/messages/"+msg.ID+"/reactions", bobToken, gin.H{"emoji": "tada"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set reaction status = %d, body %s", rec.Code, rec.Body)
	}
	reacted := decodeJSON[messageView](t, rec)
	if reacted.Reactions["bob"].Emoji != "tada" {
		t.Errorf("reactions = %+v", reacted.Reactions)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/messages/"+msg.ID+"/reactions", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear reaction status = %d", rec.Code)
	}
	cleared := decodeJSON[messageView](t, rec)
	if len(cleared.Reactions) != 0 {
		t.Errorf("reactions after clear = %+v", cleared.Reactions)
	}
}

func TestServer_DeleteMessage(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	msg := env.sendText(t, aliceToken, conv.ID, "typo")

	if rec := env.do(t, http.MethodDelete, "/api/v1/messages/"+msg.ID, aliceToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", aliceToken, nil)
	page := decodeJSON[struct {
		Items []messageView `json:"items"`
	}](t, rec)
	if len(page.Items) != 0 {
		t.Errorf("deleted message still listed: %+v", page.Items)
	}
}

func TestServer_Translate(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	msg := env.sendText(t, aliceToken, conv.ID, "good morning")

	rec := env.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID+"/translation?lang=german", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("translate status = %d, body %s", rec.Code, rec.Body)
	}
	result := decodeJSON[struct {
		Text     string `json:"text"`
		Degraded bool   `json:"degraded"`
	}](t, rec)
	if result.Text != "[german] good morning" || result.Degraded {
		t.Errorf("translation = %+v", result)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID+"/translation", bobToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing lang status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/messages/"+msg.ID+"/translation?lang=german", carolToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("outsider translate status = %d, want 403", rec.Code)
	}
}

func TestServer_SearchMessages(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")
	env.sendText(t, aliceToken, conv.ID, "shipment delayed at customs")
	env.sendText(t, bobToken, conv.ID, "invoice attached")

	rec := env.do(t, http.MethodGet, "/api/v1/messages/search?q=delayed", aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body)
	}
	page := decodeJSON[struct {
		Items []messageView `json:"items"`
	}](t, rec)
	if len(page.Items) != 1 || page.Items[0].Text != "shipment delayed at customs" {
		t.Errorf("search items = %+v", page.Items)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/messages/search", aliceToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("blank query status = %d, want 400", rec.Code)
	}
}

func TestServer_SendVoice(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("audio", "note.pcm")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(make([]byte, 32000)); err != nil {
		t.Fatal(err)
	}
	if err := form.WriteField("language", "auto"); err != nil {
		t.Fatal(err)
	}
	if err := form.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/voice", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("voice upload status = %d, body %s", rec.Code, rec.Body)
	}
	msg := decodeJSON[messageView](t, rec)
	if msg.Type != "voice" || msg.Voice == nil {
		t.Fatalf("message = %+v, want a voice message", msg)
	}
	if msg.Voice.DurationSeconds != 1 {
		t.Errorf("duration = %v, want 1 second", msg.Voice.DurationSeconds)
	}
	if msg.Voice.Transcript.Fallback || msg.Voice.Transcript.Text == "" {
		t.Errorf("transcript = %+v", msg.Voice.Transcript)
	}
}

func TestServer_SynthesizeSpeech(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/speech/synthesize", aliceToken, gin.H{"text": "hello", "language": "english"})
	if rec.Code != http.StatusOK {
		t.Fatalf("synthesize status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/L16" {
		t.Errorf("content type = %q", got)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("audio = %q", rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/speech/synthesize", aliceToken, gin.H{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing text status = %d, want 400", rec.Code)
	}
}

func TestServer_LeaveConversation(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")

	if rec := env.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, aliceToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("leave status = %d", rec.Code)
	}
	// The remaining participant still sees the thread; the leaver does not.
	if rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, bobToken, nil); rec.Code != http.StatusOK {
		t.Errorf("remaining participant status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, aliceToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("leaver status = %d, want 403", rec.Code)
	}
}

func TestServer_UpdateSettings(t *testing.T) {
	env := newHandlerEnv(t)
	conv := env.createConversation(t, aliceToken, "bob")

	rec := env.do(t, http.MethodPatch, "/api/v1/conversations/"+conv.ID+"/settings", aliceToken,
		gin.H{"auto_translate": true, "notifications": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d, body %s", rec.Code, rec.Body)
	}
	got := decodeJSON[conversationView](t, rec)
	if !got.Settings.AutoTranslate || !got.Settings.Notifications {
		t.Errorf("settings = %+v", got.Settings)
	}
}
