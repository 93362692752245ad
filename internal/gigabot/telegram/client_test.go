package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{Token: "test-token", BaseURL: srv.URL, PollTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))

	kb := Keyboard(Button{Label: "🌐 Main", Data: "back_on_main"})
	if err := c.SendMessage(context.Background(), 42, "hello", kb); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPayload["text"] != "hello" || gotPayload["parse_mode"] != "Markdown" {
		t.Errorf("payload = %v", gotPayload)
	}
	if gotPayload["chat_id"].(float64) != 42 {
		t.Errorf("chat_id = %v", gotPayload["chat_id"])
	}
	if gotPayload["reply_markup"] == nil {
		t.Error("missing reply_markup")
	}
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))

	err := c.SendMessage(context.Background(), 1, "x", nil)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected API rejection error, got: %v", err)
	}
}

func TestSendPhotoMultipart(t *testing.T) {
	photo := []byte{0xff, 0xd8, 0xff}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "42" {
			t.Errorf("chat_id = %q", got)
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != string(photo) {
			t.Error("photo bytes mismatch")
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))

	if err := c.SendPhoto(context.Background(), 42, photo, ""); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
}

func TestEditMessageText(t *testing.T) {
	var gotPayload map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))

	if err := c.EditMessageText(context.Background(), 42, 7, "updated", nil); err != nil {
		t.Fatalf("EditMessageText: %v", err)
	}
	if gotPayload["message_id"].(float64) != 7 {
		t.Errorf("message_id = %v", gotPayload["message_id"])
	}
}

// TestStartDeliversUpdatesAndAdvancesOffset drives the poll loop against a
// server that serves one update and then empty pages, and verifies the
// handler sees the update and the next poll carries the advanced offset.
func TestStartDeliversUpdatesAndAdvancesOffset(t *testing.T) {
	var mu sync.Mutex
	offsets := []int64{}
	served := false

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			w.Write([]byte(`{"ok":true,"result":{}}`))
			return
		}
		var payload struct {
			Offset int64 `json:"offset"`
		}
		json.NewDecoder(r.Body).Decode(&payload)

		mu.Lock()
		offsets = append(offsets, payload.Offset)
		first := !served
		served = true
		mu.Unlock()

		if first {
			w.Write([]byte(`{"ok":true,"result":[{"update_id":100,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5},"text":"hi"}}]}`))
			return
		}
		// Slow down subsequent polls so the test does not spin.
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}))

	received := make(chan Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx, func(_ context.Context, upd Update) {
		select {
		case received <- upd:
		default:
		}
	})
	defer c.Stop()

	select {
	case upd := <-received:
		if upd.Message == nil || upd.Message.Text != "hi" {
			t.Errorf("unexpected update: %+v", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the update")
	}

	// Wait for at least one follow-up poll and check the offset advanced.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(offsets)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second poll never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if offsets[0] != 0 {
		t.Errorf("first offset = %d, want 0", offsets[0])
	}
	if offsets[1] != 101 {
		t.Errorf("second offset = %d, want 101", offsets[1])
	}
}

func TestKeyboardShape(t *testing.T) {
	kb := Keyboard(
		Button{Label: "Start Chat Dialog with AI", Data: "start_chat_dialog_ai"},
		Button{Label: "Generate Image", Data: "start_image_ai"},
	)
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(kb.InlineKeyboard))
	}
	if kb.InlineKeyboard[0][0].CallbackData != "start_chat_dialog_ai" {
		t.Errorf("row 0 data = %q", kb.InlineKeyboard[0][0].CallbackData)
	}
}
