package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("HOLD_TTL", "90")
	d, err := Duration("HOLD_TTL", time.Minute)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	t.Setenv("HOLD_TTL", "10m")
	d, err = Duration("HOLD_TTL", time.Minute)
	if err != nil || d != 10*time.Minute {
		t.Fatalf("expected 10m, got %s (err=%v)", d, err)
	}

	t.Setenv("HOLD_TTL", "soon")
	if _, err := Duration("HOLD_TTL", time.Minute); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestIntFallback(t *testing.T) {
	t.Setenv("EXPOSURE_MIN_SLOTS", "")
	n, err := Int("EXPOSURE_MIN_SLOTS", 2)
	if err != nil || n != 2 {
		t.Fatalf("expected fallback 2, got %d (err=%v)", n, err)
	}
	t.Setenv("EXPOSURE_MIN_SLOTS", "x")
	if _, err := Int("EXPOSURE_MIN_SLOTS", 2); err == nil {
		t.Fatal("expected error for non-integer")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8080"); err == nil {
		t.Fatal("expected invalid port error")
	}
	t.Setenv("PORT", "")
	p, err := Port("PORT", "8080")
	if err != nil || p != "8080" {
		t.Fatalf("expected fallback port, got %q (err=%v)", p, err)
	}
}

func TestList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	got := List("CORS_ALLOWED_ORIGINS")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
}
