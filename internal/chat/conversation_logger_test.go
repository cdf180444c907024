package chat

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{
		UserID:     "anon_1",
		SessionID:  "tab-1",
		Channel:    ChannelHTTP,
		Direction:  "inbound",
		EventType:  EventUserMessage,
		ContentRaw: "\x1b[1mhello\x1b[0m",
	})
	logger.Log(ConversationLogEvent{
		UserID:     "anon_1",
		SessionID:  "../escape",
		EventType:  EventAssistantMessage,
		ContentRaw: "hi",
	})

	// Close drains the queue before returning.
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "anon_1", "tab-1.ndjson"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "hello" || got.Timestamp == "" {
		t.Fatalf("unexpected event %+v", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "anon_1", ".._escape.ndjson")); err != nil {
		t.Fatalf("expected sanitized session file: %v", err)
	}
	if n := len(readLines(t, global)); n != 2 {
		t.Fatalf("expected 2 lines in global log, got %d", n)
	}

	// Events after Close are dropped silently.
	logger.Log(ConversationLogEvent{UserID: "anon_1", SessionID: "tab-1"})
}

func TestConversationLoggerReleaseClosesSessionFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := newFileConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("newFileConversationLogger failed: %v", err)
	}

	l.write(ConversationLogEvent{UserID: "anon_1", SessionID: "tab-1", EventType: EventUserMessage})
	l.write(ConversationLogEvent{UserID: "anon_1", SessionID: "tab-2", EventType: EventUserMessage})
	if len(l.files) != 2 {
		t.Fatalf("expected 2 open files, got %d", len(l.files))
	}

	l.handle(logItem{release: sessionKey("anon_1", "tab-1")})
	if _, ok := l.files[sessionKey("anon_1", "tab-1")]; ok || len(l.files) != 1 {
		t.Fatalf("released session still open, files = %d", len(l.files))
	}

	// Unknown sessions are ignored.
	l.closeSession(sessionKey("anon_9", "none"))
	l.closeFiles()
}

func TestConversationLoggerReopensAfterRelease(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 8}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{UserID: "anon_1", SessionID: "tab-1", EventType: EventUserMessage, ContentRaw: "first"})
	logger.Release("anon_1", "tab-1")
	logger.Log(ConversationLogEvent{UserID: "anon_1", SessionID: "tab-1", EventType: EventUserMessage, ContentRaw: "second"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "anon_1", "tab-1.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], `"content":"second"`) {
		t.Fatalf("unexpected second line %q", lines[1])
	}

	// Release after Close returns instead of blocking.
	logger.Release("anon_1", "tab-1")
}

func TestNewConversationLoggerDisabled(t *testing.T) {
	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected no-op logger, got %T", logger)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\x07"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b") || strings.Contains(clean, "\x07") {
		t.Fatalf("expected escapes to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
