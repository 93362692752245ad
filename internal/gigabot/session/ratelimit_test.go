package session

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow(1) {
		t.Error("request over the limit should be denied")
	}
}

func TestRateLimiterIsPerUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow(1) {
		t.Fatal("first user's first request should be allowed")
	}
	if !rl.Allow(2) {
		t.Error("second user must have their own quota")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow(1) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow(1) {
		t.Fatal("second request inside the window should be denied")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow(1) {
		t.Error("request after the window expired should be allowed")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if got := rl.Remaining(1); got != 2 {
		t.Errorf("remaining = %d, want 2", got)
	}
	rl.Allow(1)
	if got := rl.Remaining(1); got != 1 {
		t.Errorf("remaining = %d, want 1", got)
	}
	rl.Allow(1)
	if got := rl.Remaining(1); got != 0 {
		t.Errorf("remaining = %d, want 0", got)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit {
		t.Errorf("limit = %d, want %d", rl.limit, DefaultRateLimit)
	}
	if rl.window != time.Minute {
		t.Errorf("window = %v, want 1m", rl.window)
	}
}
