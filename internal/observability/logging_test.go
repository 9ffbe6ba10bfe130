package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-123")
	logger.With("component", "router").InfoContext(ctx, "dispatch complete", "plan", "A")

	entry := decodeLine(t, &buf)
	if entry["msg"] != "dispatch complete" || entry["component"] != "router" || entry["plan"] != "A" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("expected request id, got %+v", entry)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn should be logged")
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}

func TestNewLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	logger.Warn("publish failed",
		"error", errors.New("auth failed for api_key=abcdefghijklmnopqrstuvwx"),
		"token", "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"detail", "using sk-abcdefghijklmnopqrstuvwxyz123456",
	)
	out := buf.String()
	for _, secret := range []string{"abcdefghijklmnopqrstuvwx", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "sk-abcdefghijklmnopqrstuvwxyz123456"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker: %s", out)
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevelFromString(in); got != want {
			t.Fatalf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
