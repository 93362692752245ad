package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusProvider struct {
	count int
	err   error
}

func (f *fakeStatusProvider) UserCount(_ context.Context) (int, error) {
	return f.count, f.err
}

func TestHealthEndpoint(t *testing.T) {
	hs := NewHealthServer(":0", &fakeStatusProvider{})

	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q", resp.Status)
	}
}

func TestStatusEndpointReportsUserCount(t *testing.T) {
	hs := NewHealthServer(":0", &fakeStatusProvider{count: 12})

	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserCount != 12 {
		t.Errorf("user_count = %d, want 12", resp.UserCount)
	}
	if resp.UptimeSecs < 0 {
		t.Errorf("uptime = %v, want non-negative", resp.UptimeSecs)
	}
}

func TestStatusEndpointSurvivesStoreError(t *testing.T) {
	hs := NewHealthServer(":0", &fakeStatusProvider{err: errors.New("db closed")})

	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite the store error", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserCount != 0 {
		t.Errorf("user_count = %d, want 0 fallback", resp.UserCount)
	}
}

func TestHealthRejectsNonGet(t *testing.T) {
	hs := NewHealthServer(":0", nil)

	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
