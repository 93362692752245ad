package gigachat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/gigabot/internal/gigabot/config"
	"github.com/bdobrica/gigabot/internal/gigabot/dialog"
)

// newClientUnderTest wires a Client against an httptest provider and a
// stub OAuth endpoint, returning the client, the fake config store, and a
// counter of OAuth calls.
func newClientUnderTest(t *testing.T, provider http.Handler) (*Client, *fakeConfigStore, *int) {
	t.Helper()

	oauthCalls := 0
	oauthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		oauthCalls++
		w.Write([]byte(`{"access_token":"tok-fresh","expires_at":1}`))
	}))
	t.Cleanup(oauthSrv.Close)

	providerSrv := httptest.NewServer(provider)
	t.Cleanup(providerSrv.Close)

	store := newFakeConfigStore()
	creds := NewCredentials(CredentialsConfig{
		AuthKey:      "test-auth-key",
		InitialToken: "tok-initial",
		OAuthURL:     oauthSrv.URL,
	}, store)

	client := NewClient(Config{BaseURL: providerSrv.URL}, creds)
	return client, store, &oauthCalls
}

func completionJSON(content string) []byte {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestRequestTextSuccess(t *testing.T) {
	var gotReq textRequest
	var gotSession, gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = r.Header.Get("X-Session-ID")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(completionJSON("the answer"))
	})

	client, _, oauthCalls := newClientUnderTest(t, handler)

	turns := []dialog.Turn{
		{Role: dialog.RoleSystem, Content: "sys"},
		{Role: dialog.RoleUser, Content: "question"},
	}
	got, err := client.RequestText(context.Background(), turns, "12345")
	if err != nil {
		t.Fatalf("RequestText: %v", err)
	}
	if got != "the answer" {
		t.Errorf("got %q, want %q", got, "the answer")
	}
	if gotSession != "12345" {
		t.Errorf("X-Session-ID = %q, want 12345", gotSession)
	}
	if gotAuth != "Bearer tok-initial" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "question" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if gotReq.Model != defaultModel {
		t.Errorf("model = %q, want %q", gotReq.Model, defaultModel)
	}
	if *oauthCalls != 0 {
		t.Errorf("oauth calls = %d, want 0 on success", *oauthCalls)
	}
}

// TestRequestTextRefreshThenInform is the soft-failure protocol: a failing
// provider call refreshes and persists the token exactly once, returns
// ErrRetryAfterRefresh, and does not retry the original request.
func TestRequestTextRefreshThenInform(t *testing.T) {
	completionCalls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		completionCalls++
		http.Error(w, "token expired", http.StatusUnauthorized)
	})

	client, store, oauthCalls := newClientUnderTest(t, handler)

	_, err := client.RequestText(context.Background(),
		[]dialog.Turn{{Role: dialog.RoleUser, Content: "q"}}, "1")
	if !errors.Is(err, ErrRetryAfterRefresh) {
		t.Fatalf("expected ErrRetryAfterRefresh, got: %v", err)
	}
	if completionCalls != 1 {
		t.Errorf("completion calls = %d, want 1 (no transparent retry)", completionCalls)
	}
	if *oauthCalls != 1 {
		t.Errorf("oauth calls = %d, want 1", *oauthCalls)
	}
	if got, _ := store.Get(context.Background(), config.KeyAccessToken); got != "tok-fresh" {
		t.Errorf("persisted token = %q, want tok-fresh", got)
	}
	if client.creds.Token() != "tok-fresh" {
		t.Errorf("cached token = %q, want tok-fresh", client.creds.Token())
	}
}

func TestRequestTextMalformedResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"unexpected":"shape"}`))
	})

	client, _, oauthCalls := newClientUnderTest(t, handler)

	_, err := client.RequestText(context.Background(),
		[]dialog.Turn{{Role: dialog.RoleUser, Content: "q"}}, "1")
	if !errors.Is(err, ErrRetryAfterRefresh) {
		t.Fatalf("malformed payload should take the refresh path, got: %v", err)
	}
	if *oauthCalls != 1 {
		t.Errorf("oauth calls = %d, want 1", *oauthCalls)
	}
}

func TestRequestImagePhotoBranch(t *testing.T) {
	photo := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != imagePersona {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.FunctionCall != "auto" {
			t.Errorf("function_call = %q, want auto", req.FunctionCall)
		}
		w.Write(completionJSON(`<img src="file-ref-42" fuse="true"/>`))
	})
	mux.HandleFunc("/files/file-ref-42/content", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/jpg" {
			t.Errorf("Accept = %q", got)
		}
		w.Write(photo)
	})

	client, _, oauthCalls := newClientUnderTest(t, mux)

	res, err := client.RequestImage(context.Background(), "a red square")
	if err != nil {
		t.Fatalf("RequestImage: %v", err)
	}
	if !res.IsPhoto() {
		t.Fatal("expected photo branch")
	}
	if string(res.Photo) != string(photo) {
		t.Errorf("photo bytes mismatch")
	}
	if *oauthCalls != 0 {
		t.Errorf("oauth calls = %d, want 0", *oauthCalls)
	}
}

func TestRequestImageTextBranch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(completionJSON("I can only paint pictures, not answer questions."))
	})

	client, _, _ := newClientUnderTest(t, handler)

	res, err := client.RequestImage(context.Background(), "what is two plus two")
	if err != nil {
		t.Fatalf("RequestImage: %v", err)
	}
	if res.IsPhoto() {
		t.Fatal("expected text branch")
	}
	if res.Text != "I can only paint pictures, not answer questions." {
		t.Errorf("text = %q", res.Text)
	}
}

func TestRequestImageContentFetchFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(completionJSON(`<img src="gone"/>`))
	})
	mux.HandleFunc("/files/gone/content", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	client, _, oauthCalls := newClientUnderTest(t, mux)

	_, err := client.RequestImage(context.Background(), "a ghost")
	if !errors.Is(err, ErrRetryAfterRefresh) {
		t.Fatalf("failed content fetch should take the refresh path, got: %v", err)
	}
	if *oauthCalls != 1 {
		t.Errorf("oauth calls = %d, want 1", *oauthCalls)
	}
}

func TestExtractFileRef(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain marker", `<img src="abc-123"/>`, "abc-123", false},
		{"marker mid-text", `here you go <img src="ref-9" style="x"/>`, "ref-9", false},
		{"no marker", "just text", "", true},
		{"marker without quotes", "<img >", "", true},
		{"empty reference", `<img src=""`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractFileRef(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
