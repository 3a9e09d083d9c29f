package transcript

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		TurnID:     "turn-1",
		UserID:     "user-1",
		SessionID:  "sess-1",
		Channel:    ChannelHTTP,
		Direction:  DirectionInbound,
		EventType:  EventUserMessage,
		ContentRaw: "Yo tiene hambre",
	})

	path := filepath.Join(dir, "user-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "Yo tiene hambre" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content == "" {
		t.Fatal("expected cleaned content to be populated")
	}
	if got.TurnID != "turn-1" {
		t.Fatalf("unexpected TurnID: %q", got.TurnID)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be set")
	}
}

func TestFileLoggerWritesGlobalStream(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := New(Config{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Log(Event{UserID: "../escape", SessionID: "", ContentRaw: "hola"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(global); err != nil {
		t.Fatalf("expected global transcript: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "_escape", "default.ndjson")); err != nil {
		t.Fatalf("expected sanitized session path: %v", err)
	}
}

func TestDisabledLoggerIsNop(t *testing.T) {
	logger, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := logger.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", logger)
	}
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	logger, err := New(Config{Enabled: true, Dir: t.TempDir(), QueueSize: 1}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = logger.Close()
	logger.Log(Event{UserID: "u", ContentRaw: "late"})
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func TestCleanForReadabilityCollapsesBlankLines(t *testing.T) {
	t.Parallel()

	got := cleanForReadability("Corrección\r\n\n\n\n**Regla:** x  ")
	if got != "Corrección\n\n**Regla:** x" {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
}

func TestChannelFromContext(t *testing.T) {
	if got := ChannelFromContext(context.Background()); got != ChannelHTTP {
		t.Fatalf("expected default channel, got %q", got)
	}
	ctx := WithChannel(context.Background(), ChannelWS)
	if got := ChannelFromContext(ctx); got != ChannelWS {
		t.Fatalf("expected ws channel, got %q", got)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
