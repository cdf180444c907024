package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/identity"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/coder/websocket"
)

// WebSocket frame types.
const (
	frameMessage  = "message"
	framePing     = "ping"
	framePong     = "pong"
	frameThinking = "thinking"
	frameReply    = "reply"
	frameError    = "error"
)

// wsClientFrame is a frame sent by the browser.
type wsClientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Enhance bool   `json:"enhance,omitempty"`
}

// wsServerFrame is a frame sent to the browser.
type wsServerFrame struct {
	Type    string           `json:"type"`
	Message *session.Message `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Status  int              `json:"status,omitempty"`
}

// WebSocketHandler serves the /ws/chat channel. Each connection is bound to
// the caller's (user, tab session) conversation.
type WebSocketHandler struct {
	svc           *chat.Service
	reg           *chat.Registry
	limiter       *chat.RateLimiter
	allowedOrigin string
	isDev         bool
	writeTimeout  time.Duration
}

// NewWebSocketHandler creates a WebSocket chat handler. limiter may be nil.
func NewWebSocketHandler(svc *chat.Service, reg *chat.Registry, limiter *chat.RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		reg:           reg,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		writeTimeout:  10 * time.Second,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	userID, sessionID := id.UserID, id.SessionID
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	e := h.reg.Get(userID, sessionID)

	var turns sync.WaitGroup
	h.readLoop(ctx, ws, e, &turns)

	// Abandon any in-flight provider call once the client is gone.
	cancel()
	turns.Wait()
	slog.Info("Chat WebSocket closed", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop dispatches client frames until the connection closes. Turns run on
// their own goroutine so pings are answered while the provider works; a
// second message during a turn is answered with a 409 error frame.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, e *chat.Entry, turns *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", e.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", e.UserID)
			}
			return
		}

		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.write(ctx, ws, wsServerFrame{Type: frameError, Error: "invalid frame", Status: http.StatusBadRequest})
			continue
		}

		switch frame.Type {
		case framePing:
			h.write(ctx, ws, wsServerFrame{Type: framePong})
		case frameMessage:
			if strings.TrimSpace(frame.Content) == "" {
				status, message := statusFor(chat.ErrEmptyMessage)
				h.write(ctx, ws, wsServerFrame{Type: frameError, Error: message, Status: status})
				continue
			}
			if h.limiter != nil && !h.limiter.Allow(e.UserID) {
				h.write(ctx, ws, wsServerFrame{Type: frameError, Error: "rate limit exceeded", Status: http.StatusTooManyRequests})
				continue
			}
			turns.Add(1)
			go func() {
				defer turns.Done()
				h.runTurn(ctx, ws, e, frame)
			}()
		default:
			h.write(ctx, ws, wsServerFrame{Type: frameError, Error: "unknown frame type", Status: http.StatusBadRequest})
		}
	}
}

func (h *WebSocketHandler) runTurn(ctx context.Context, ws *websocket.Conn, e *chat.Entry, frame wsClientFrame) {
	h.write(ctx, ws, wsServerFrame{Type: frameThinking})

	msg, err := h.svc.Send(ctx, e, chat.Turn{
		Text:    frame.Content,
		Enhance: frame.Enhance,
		Channel: chat.ChannelWebSocket,
	})
	if err != nil {
		status, message := statusFor(err)
		h.write(ctx, ws, wsServerFrame{Type: frameError, Error: message, Status: status})
		return
	}
	h.write(ctx, ws, wsServerFrame{Type: frameReply, Message: &msg})
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, frame wsServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
