package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
)

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("message is required")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// ProviderName labels provider errors and log lines.
	ProviderName string
	// Window is the number of trailing history messages sent with each turn.
	Window int
	Logger *slog.Logger
	Log    ConversationLogger
}

// Service runs conversation turns against a completion provider.
type Service struct {
	provider provider.Provider
	name     string
	window   int
	logger   *slog.Logger
	log      ConversationLogger
	now      func() time.Time
}

// NewService creates a turn service.
func NewService(p provider.Provider, cfg ServiceConfig) (*Service, error) {
	if p == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("window must be >= 0, got %d", cfg.Window)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Log == nil {
		cfg.Log = noopConversationLogger{}
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "provider"
	}
	return &Service{
		provider: p,
		name:     cfg.ProviderName,
		window:   cfg.Window,
		logger:   cfg.Logger,
		log:      cfg.Log,
		now:      time.Now,
	}, nil
}

// Window returns the configured history window.
func (s *Service) Window() int {
	return s.window
}

// Turn is one user submission.
type Turn struct {
	Text    string
	Enhance bool
	// Channel tags conversation log events (ChannelHTTP, ChannelWebSocket, ...).
	Channel   string
	RequestID string
}

// Send runs one turn on e: the request is composed from the history as it
// stood before this message, the user message is recorded, the provider is
// called outside the state lock, and the annotated reply is appended.
//
// On provider failure the user message stays in the history, no assistant
// message is added and the error is a *provider.Error.
func (s *Service) Send(ctx context.Context, e *Entry, turn Turn) (session.Message, error) {
	if strings.TrimSpace(turn.Text) == "" {
		return session.Message{}, ErrEmptyMessage
	}
	text := turn.Text
	if turn.Enhance {
		text = prompt.Enhance(text)
	}

	release, err := e.begin()
	if err != nil {
		return session.Message{}, err
	}
	defer release()

	var req prompt.CompletionRequest
	err = e.Update(func(st *session.State) error {
		if _, ok := prompt.DomainSuffix(st.Domain()); !ok {
			s.logger.Warn("No prompt suffix for domain, continuing without one",
				"user_id", e.UserID, "session_id", e.SessionID, "domain", st.Domain())
		}
		req = prompt.Compose(st, text, s.window)
		return st.Append(session.RoleUser, text)
	})
	if err != nil {
		return session.Message{}, fmt.Errorf("record user message: %w", err)
	}

	s.logEvent(e, turn, "inbound", EventUserMessage, text, map[string]any{
		"enhanced":       turn.Enhance,
		"model":          req.Model,
		"temperature":    req.Temperature,
		"prompt_entries": len(req.Messages),
	})

	start := s.now()
	reply, err := s.provider.Complete(ctx, req)
	elapsed := s.now().Sub(start)
	if err != nil {
		err = provider.Wrap(s.name, err)
		s.logger.Error("Completion failed",
			"user_id", e.UserID, "session_id", e.SessionID,
			"provider", s.name, "elapsed", elapsed, "error", err)
		s.logEvent(e, turn, "outbound", EventProviderError, err.Error(), nil)
		return session.Message{}, err
	}

	var msg session.Message
	err = e.Update(func(st *session.State) error {
		if err := prompt.AbsorbReply(st, prompt.Reply{Text: reply, Elapsed: elapsed}); err != nil {
			return err
		}
		msg = st.Window(1)[0]
		return nil
	})
	if err != nil {
		return session.Message{}, fmt.Errorf("record reply: %w", err)
	}

	s.logger.Info("Chat turn completed",
		"user_id", e.UserID, "session_id", e.SessionID,
		"model", req.Model, "elapsed", elapsed, "reply_length", len(reply))
	s.logEvent(e, turn, "outbound", EventAssistantMessage, msg.Content, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})

	return msg, nil
}

func (s *Service) logEvent(e *Entry, turn Turn, direction, eventType, content string, meta map[string]any) {
	if turn.RequestID != "" {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["request_id"] = turn.RequestID
	}
	s.log.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Channel:    turn.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
