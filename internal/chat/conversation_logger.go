package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Conversation log channels.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
	ChannelCLI       = "chat_cli"
)

// Conversation log event types.
const (
	EventUserMessage      = "chat_user_message"
	EventAssistantMessage = "chat_assistant_message"
	EventProviderError    = "chat_provider_error"
)

// ConversationLogConfig controls the NDJSON conversation log.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records chat traffic for later review. Release frees
// whatever is held open for a session that has ended; a later event for the
// same session reopens it.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Release(userID, sessionID string)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Release(string, string)   {}
func (noopConversationLogger) Close() error             { return nil }

// NopConversationLogger returns a logger that discards events.
func NopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// cleanForReadability strips terminal escapes and control bytes.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = controlPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// fileConversationLogger appends events to dir/<user>/<session>.ndjson and,
// optionally, to one global file. Writes happen on a single goroutine; when
// the queue is full events are dropped with a warning.
type fileConversationLogger struct {
	cfg     ConversationLogConfig
	logger  *slog.Logger
	queue   chan logItem
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	files  map[string]*os.File
	global *os.File
}

// logItem is either an event to write or a session whose file should be closed.
type logItem struct {
	event   ConversationLogEvent
	release string
}

// NewConversationLogger creates a logger from cfg. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	l, err := newFileConversationLogger(cfg, logger)
	if err != nil {
		return nil, err
	}
	go l.run()
	return l, nil
}

func newFileConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (*fileConversationLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &fileConversationLogger{
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan logItem, cfg.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		files:   make(map[string]*os.File),
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		f, err := openAppend(cfg.GlobalPath)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}
	return l, nil
}

// Log enqueues event without blocking.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- logItem{event: event}:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID, "session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Release closes the session's file once queued events for it are written.
// Unlike Log it waits for queue space, since a dropped release leaks the file.
func (l *fileConversationLogger) Release(userID, sessionID string) {
	select {
	case l.queue <- logItem{release: sessionKey(userID, sessionID)}:
	case <-l.done:
	}
}

// Close stops accepting events, drains the queue and closes all files.
func (l *fileConversationLogger) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	<-l.stopped
	return nil
}

func (l *fileConversationLogger) run() {
	defer close(l.stopped)
	defer l.closeFiles()
	for {
		select {
		case item := <-l.queue:
			l.handle(item)
		case <-l.done:
			for {
				select {
				case item := <-l.queue:
					l.handle(item)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) handle(item logItem) {
	if item.release != "" {
		l.closeSession(item.release)
		return
	}
	l.write(item.event)
}

func (l *fileConversationLogger) write(event ConversationLogEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to marshal conversation event", "error", err)
		return
	}
	line = append(line, '\n')

	if l.cfg.Enabled {
		f, err := l.sessionFile(event.UserID, event.SessionID)
		if err != nil {
			l.logger.Warn("Failed to open conversation log", "user_id", event.UserID, "error", err)
		} else if _, err := f.Write(line); err != nil {
			l.logger.Warn("Failed to write conversation log", "user_id", event.UserID, "error", err)
		}
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global conversation log", "error", err)
		}
	}
}

func (l *fileConversationLogger) sessionFile(userID, sessionID string) (*os.File, error) {
	key := sessionKey(userID, sessionID)
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	path := filepath.Join(l.cfg.Dir, safeName(userID), safeName(sessionID)+".ndjson")
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

func (l *fileConversationLogger) closeSession(key string) {
	f, ok := l.files[key]
	if !ok {
		return
	}
	delete(l.files, key)
	if err := f.Close(); err != nil {
		l.logger.Debug("Failed to close conversation log", "key", key, "error", err)
	}
}

func (l *fileConversationLogger) closeFiles() {
	for key, f := range l.files {
		if err := f.Close(); err != nil {
			l.logger.Debug("Failed to close conversation log", "key", key, "error", err)
		}
	}
	if l.global != nil {
		if err := l.global.Close(); err != nil {
			l.logger.Debug("Failed to close global conversation log", "error", err)
		}
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// safeName keeps a path element inside the log directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
