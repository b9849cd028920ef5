package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "info").With("component", "test")

	ctx := WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "hold created")
	logger.Info("no context")
	logger.Debug("filtered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["request_id"] != "req-42" || first["service"] != "booking-service" || first["component"] != "test" {
		t.Fatalf("unexpected record %v", first)
	}
	if _, ok := second["request_id"]; ok {
		t.Fatalf("request_id without context: %v", second)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAcceptRequestID(t *testing.T) {
	if got := AcceptRequestID("abc-123"); got != "abc-123" {
		t.Fatalf("kept id %q", got)
	}
	for _, bad := range []string{"", strings.Repeat("x", MaxRequestIDLen+1), "line\nbreak"} {
		got := AcceptRequestID(bad)
		if got == bad || len(got) != 36 {
			t.Fatalf("AcceptRequestID(%q) = %q", bad, got)
		}
	}
}
