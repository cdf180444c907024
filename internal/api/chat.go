package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	svc     *chat.Service
	reg     *chat.Registry
	limiter *chat.RateLimiter
	maxBody int64
}

// NewChatHandler creates a chat handler. limiter may be nil.
func NewChatHandler(svc *chat.Service, reg *chat.Registry, limiter *chat.RateLimiter, maxBody int64) *ChatHandler {
	return &ChatHandler{svc: svc, reg: reg, limiter: limiter, maxBody: maxBody}
}

// RegisterRoutes registers the chat route.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Enhance bool   `json:"enhance"`
}

// ChatResponse carries the appended assistant message.
type ChatResponse struct {
	Reply session.Message `json:"reply"`
}

// HandleChat runs one turn and returns the annotated reply.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	e := entryFor(h.reg, r)

	var req ChatRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		status, message := statusFor(chat.ErrEmptyMessage)
		Error(w, status, message)
		return
	}

	// Keyed by user only so rotating tab session IDs does not bypass the limit.
	if h.limiter != nil && !h.limiter.Allow(e.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slog.Info("Chat request",
		"user_id", e.UserID,
		"session_id", e.SessionID,
		"message_length", len(req.Message),
		"enhance", req.Enhance,
	)

	msg, err := h.svc.Send(r.Context(), e, chat.Turn{
		Text:      req.Message,
		Enhance:   req.Enhance,
		Channel:   chat.ChannelHTTP,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
	if err != nil {
		status, message := statusFor(err)
		Error(w, status, message)
		return
	}

	JSON(w, http.StatusOK, ChatResponse{Reply: msg})
}
