package environment

import (
	"testing"
	"time"
)

func TestStringOr(t *testing.T) {
	t.Setenv("GIGABOT_TEST_STR", "hello")

	if got := StringOr("GIGABOT_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("set variable: got %q, want %q", got, "hello")
	}
	if got := StringOr("GIGABOT_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Errorf("unset variable: got %q, want %q", got, "fallback")
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("GIGABOT_TEST_REQ", "value")

	v, err := RequiredString("GIGABOT_TEST_REQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("got %q, want %q", v, "value")
	}

	if _, err := RequiredString("GIGABOT_TEST_REQ_MISSING"); err == nil {
		t.Error("expected error for unset variable, got nil")
	}
}

func TestBoolOr(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"garbage", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("GIGABOT_TEST_BOOL", tt.value)
			if got := BoolOr("GIGABOT_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("BoolOr(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("GIGABOT_TEST_INT", "42")
	if got := IntOr("GIGABOT_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv("GIGABOT_TEST_INT", "not-a-number")
	if got := IntOr("GIGABOT_TEST_INT", 7); got != 7 {
		t.Errorf("unparseable value: got %d, want default 7", got)
	}
}

func TestFloatOr(t *testing.T) {
	t.Setenv("GIGABOT_TEST_FLOAT", "0.75")
	if got := FloatOr("GIGABOT_TEST_FLOAT", 1.0); got != 0.75 {
		t.Errorf("got %v, want 0.75", got)
	}

	t.Setenv("GIGABOT_TEST_FLOAT", "nope")
	if got := FloatOr("GIGABOT_TEST_FLOAT", 1.0); got != 1.0 {
		t.Errorf("unparseable value: got %v, want default 1.0", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("GIGABOT_TEST_DUR", "90s")
	if got := DurationOr("GIGABOT_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}

	t.Setenv("GIGABOT_TEST_DUR", "soon")
	if got := DurationOr("GIGABOT_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("unparseable value: got %v, want default 1m", got)
	}
}
