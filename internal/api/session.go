package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/domain"
	"github.com/ashureev/gene-chat/internal/identity"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/ashureev/gene-chat/internal/store"
	"github.com/go-chi/chi/v5"
)

// ConversationStore persists saved conversation snapshots.
type ConversationStore interface {
	SaveConversation(ctx context.Context, conv *domain.SavedConversation) error
	ListConversations(ctx context.Context, userID string) ([]*domain.SavedConversation, error)
	GetConversation(ctx context.Context, userID, id string) (*domain.SavedConversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error
}

// SessionHandler serves settings, history and analytics for the caller's
// conversation.
type SessionHandler struct {
	reg     *chat.Registry
	repo    ConversationStore
	window  int
	maxBody int64
	now     func() time.Time
}

// NewSessionHandler creates a session handler. window is reported in snapshots.
func NewSessionHandler(reg *chat.Registry, repo ConversationStore, window int, maxBody int64) *SessionHandler {
	return &SessionHandler{reg: reg, repo: repo, window: window, maxBody: maxBody, now: time.Now}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/catalog", h.GetCatalog)
	r.Get("/api/session", h.GetSession)
	r.Put("/api/session/{setting}", h.UpdateSetting)
	r.Get("/api/history", h.GetHistory)
	r.Get("/api/history/export", h.ExportHistory)
	r.Get("/api/analytics", h.GetAnalytics)
	r.Post("/api/ratings", h.Rate)
	r.Post("/api/conversations", h.SaveConversation)
	r.Get("/api/conversations", h.ListConversations)
	r.Get("/api/conversations/{id}", h.GetConversation)
	r.Delete("/api/conversations/{id}", h.DeleteConversation)
}

// snapshot is the client view of a session.
type snapshot struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	Profile      session.Profile   `json:"profile"`
	Domain       session.Domain    `json:"domain"`
	Persona      session.Persona   `json:"persona"`
	Style        session.Style     `json:"style"`
	Model        session.Model     `json:"model"`
	Tools        []session.Tool    `json:"tools"`
	MessageCount int               `json:"message_count"`
	WindowSize   int               `json:"window_size"`
	Busy         bool              `json:"busy"`
	Ratings      []session.Rating  `json:"ratings"`
	Labels       map[string]string `json:"labels"`
}

func (h *SessionHandler) snapshot(e *chat.Entry) snapshot {
	busy := e.Busy()
	var snap snapshot
	e.View(func(s *session.State) {
		snap = snapshot{
			ID:           s.ID(),
			StartedAt:    s.StartedAt(),
			Profile:      s.Profile(),
			Domain:       s.Domain(),
			Persona:      s.Persona(),
			Style:        s.Style(),
			Model:        s.Model(),
			Tools:        s.Tools(),
			MessageCount: s.Len(),
			WindowSize:   h.window,
			Busy:         busy,
			Ratings:      s.Ratings(),
			Labels: map[string]string{
				"domain":  s.Domain().Label(),
				"persona": s.Persona().Label(),
				"style":   s.Style().Label(),
			},
		}
	})
	return snap
}

// GetCatalog handles GET /api/catalog.
func (h *SessionHandler) GetCatalog(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, session.Options())
}

// GetSession handles GET /api/session.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.snapshot(entryFor(h.reg, r)))
}

type settingRequest struct {
	Value string   `json:"value"`
	Tools []string `json:"tools"`
}

// UpdateSetting handles PUT /api/session/{setting}. Rejected values leave the
// session unchanged and answer 400.
func (h *SessionHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	setting := chi.URLParam(r, "setting")

	var req settingRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	apply, err := settingUpdate(setting, req)
	if errors.Is(err, errUnknownSetting) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		status, msg := statusFor(err)
		Error(w, status, msg)
		return
	}

	e := entryFor(h.reg, r)
	if err := e.Update(apply); err != nil {
		status, msg := statusFor(err)
		Error(w, status, msg)
		return
	}

	slog.Info("Session setting updated",
		"user_id", e.UserID, "session_id", e.SessionID, "setting", setting)
	JSON(w, http.StatusOK, h.snapshot(e))
}

var errUnknownSetting = errors.New("unknown setting")

// settingUpdate parses the request for one setting and returns the mutation.
func settingUpdate(setting string, req settingRequest) (func(*session.State) error, error) {
	switch setting {
	case "domain":
		d, err := session.ParseDomain(req.Value)
		if err != nil {
			return nil, err
		}
		return func(s *session.State) error { return s.SetDomain(d) }, nil
	case "persona":
		p, err := session.ParsePersona(req.Value)
		if err != nil {
			return nil, err
		}
		return func(s *session.State) error { return s.SetPersona(p) }, nil
	case "style":
		st, err := session.ParseStyle(req.Value)
		if err != nil {
			return nil, err
		}
		return func(s *session.State) error { return s.SetStyle(st) }, nil
	case "model":
		m, err := session.ParseModel(req.Value)
		if err != nil {
			return nil, err
		}
		return func(s *session.State) error { return s.SetModel(m) }, nil
	case "tools":
		// A missing key is a malformed request; an empty list clears the tools.
		if req.Tools == nil {
			return nil, &session.InvalidOptionError{Field: "tools", Value: req.Value}
		}
		tools := make([]session.Tool, 0, len(req.Tools))
		for _, v := range req.Tools {
			t, err := session.ParseTool(v)
			if err != nil {
				return nil, err
			}
			tools = append(tools, t)
		}
		return func(s *session.State) error { return s.SetTools(tools) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownSetting, setting)
	}
}

// GetHistory handles GET /api/history?q=term.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))

	var messages []session.Message
	entryFor(h.reg, r).View(func(s *session.State) {
		messages = s.Search(term)
	})
	if messages == nil {
		messages = []session.Message{}
	}

	JSON(w, http.StatusOK, map[string]any{
		"query":    term,
		"count":    len(messages),
		"messages": messages,
	})
}

// ExportHistory handles GET /api/history/export as a JSON attachment.
func (h *SessionHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var err error
	entryFor(h.reg, r).View(func(s *session.State) {
		data, err = s.ExportJSON()
	})
	if err != nil {
		slog.Error("History export failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, session.ExportFileName(h.now())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write export", "error", err)
	}
}

// GetAnalytics handles GET /api/analytics.
func (h *SessionHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	var a session.Analytics
	entryFor(h.reg, r).View(func(s *session.State) {
		a = s.Analytics()
	})
	JSON(w, http.StatusOK, a)
}

// Rate handles POST /api/ratings.
func (h *SessionHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score int `json:"score"`
	}
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	var ratings []session.Rating
	err := entryFor(h.reg, r).Update(func(s *session.State) error {
		if err := s.Rate(req.Score); err != nil {
			return err
		}
		ratings = s.Ratings()
		return nil
	})
	if err != nil {
		status, msg := statusFor(err)
		Error(w, status, msg)
		return
	}

	JSON(w, http.StatusCreated, map[string]any{"ratings": ratings})
}

// SaveConversation handles POST /api/conversations: it stores a snapshot of
// the current history under an optional title.
func (h *SessionHandler) SaveConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	e := entryFor(h.reg, r)
	conv := &domain.SavedConversation{UserID: e.UserID, SessionID: e.SessionID}
	e.View(func(s *session.State) {
		conv.Domain = string(s.Domain())
		conv.Persona = string(s.Persona())
		conv.Style = string(s.Style())
		conv.Model = string(s.Model())
		conv.Records = s.Export()
	})
	conv.MessageCount = len(conv.Records)
	if len(conv.Records) == 0 {
		Error(w, http.StatusBadRequest, "nothing to save: history is empty")
		return
	}
	conv.Title = strings.TrimSpace(req.Title)
	if conv.Title == "" {
		conv.Title = defaultTitle(conv.Records)
	}

	if err := h.repo.SaveConversation(r.Context(), conv); err != nil {
		slog.Error("Failed to save conversation", "user_id", e.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save conversation")
		return
	}

	JSON(w, http.StatusCreated, conv)
}

// defaultTitle uses the first user message, shortened.
func defaultTitle(records []session.Record) string {
	const maxLen = 60
	for _, rec := range records {
		if rec.Role != session.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(rec.Content), " ")
		if r := []rune(title); len(r) > maxLen {
			title = string(r[:maxLen]) + "..."
		}
		return title
	}
	return "Untitled conversation"
}

// ListConversations handles GET /api/conversations.
func (h *SessionHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.FromContext(r.Context()).UserID
	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list conversations", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// GetConversation handles GET /api/conversations/{id}.
func (h *SessionHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.FromContext(r.Context()).UserID
	conv, err := h.repo.GetConversation(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/conversations/{id}.
func (h *SessionHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.FromContext(r.Context()).UserID
	err := h.repo.DeleteConversation(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to delete conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
