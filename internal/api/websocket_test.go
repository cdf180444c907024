package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/coder/websocket"
)

func dialChat(t *testing.T, s *testServer) (*websocket.Conn, context.Context) {
	t.Helper()

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame wsClientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsServerFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame wsServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("invalid server frame %q: %v", data, err)
	}
	return frame
}

func TestWebSocketChat(t *testing.T) {
	s := newTestServer(t, echoProvider(), nil)
	conn, ctx := dialChat(t, s)

	sendFrame(t, ctx, conn, wsClientFrame{Type: framePing})
	if f := readFrame(t, ctx, conn); f.Type != framePong {
		t.Fatalf("expected pong, got %+v", f)
	}

	sendFrame(t, ctx, conn, wsClientFrame{Type: frameMessage, Content: "hi there"})
	if f := readFrame(t, ctx, conn); f.Type != frameThinking {
		t.Fatalf("expected thinking, got %+v", f)
	}
	f := readFrame(t, ctx, conn)
	if f.Type != frameReply || f.Message == nil {
		t.Fatalf("expected reply, got %+v", f)
	}
	if f.Message.Role != session.RoleAssistant || !strings.HasPrefix(f.Message.Content, "echo: hi there") {
		t.Fatalf("unexpected reply %+v", f.Message)
	}

	e, ok := s.reg.Lookup("anon_test", "tab-1")
	if !ok {
		t.Fatal("expected the WebSocket to share the tab's session")
	}
	var n int
	e.View(func(st *session.State) { n = st.Len() })
	if n != 2 {
		t.Fatalf("expected 2 history entries, got %d", n)
	}
}

func TestWebSocketErrors(t *testing.T) {
	s := newTestServer(t, provider.Func(func(context.Context, prompt.CompletionRequest) (string, error) {
		return "", context.DeadlineExceeded
	}), nil)
	conn, ctx := dialChat(t, s)

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ctx, conn); f.Type != frameError || f.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 error frame, got %+v", f)
	}

	sendFrame(t, ctx, conn, wsClientFrame{Type: frameMessage, Content: "hello"})
	readFrame(t, ctx, conn) // thinking
	f := readFrame(t, ctx, conn)
	if f.Type != frameError || f.Status != http.StatusBadGateway || f.Error != "completion provider timed out" {
		t.Fatalf("expected provider error frame, got %+v", f)
	}
}

func TestWebSocketEmptyMessageDoesNotConsumeRateLimit(t *testing.T) {
	limitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServer(t, echoProvider(), chat.NewRateLimiter(limitCtx, 1, time.Minute))
	conn, ctx := dialChat(t, s)

	sendFrame(t, ctx, conn, wsClientFrame{Type: frameMessage, Content: "  \n "})
	f := readFrame(t, ctx, conn)
	if f.Type != frameError || f.Status != http.StatusBadRequest || f.Error != chat.ErrEmptyMessage.Error() {
		t.Fatalf("expected empty message error frame, got %+v", f)
	}

	sendFrame(t, ctx, conn, wsClientFrame{Type: frameMessage, Content: "hello"})
	if f := readFrame(t, ctx, conn); f.Type != frameThinking {
		t.Fatalf("expected thinking, got %+v", f)
	}
	if f := readFrame(t, ctx, conn); f.Type != frameReply {
		t.Fatalf("expected reply, got %+v", f)
	}
}
