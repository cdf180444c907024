package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
)

func TestHandleChat(t *testing.T) {
	s := newTestServer(t, echoProvider(), nil)

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[ChatResponse](t, rec)
	if got.Reply.Role != session.RoleAssistant || !strings.HasPrefix(got.Reply.Content, "echo: hello\n\n*[Generated in ") {
		t.Fatalf("unexpected reply %+v", got.Reply)
	}

	e, ok := s.reg.Lookup("anon_test", "tab-1")
	if !ok {
		t.Fatal("expected session to be registered")
	}
	var n int
	e.View(func(st *session.State) { n = st.Len() })
	if n != 2 {
		t.Fatalf("expected 2 history entries, got %d", n)
	}
}

func TestHandleChatEnhance(t *testing.T) {
	s := newTestServer(t, echoProvider(), nil)

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"maps","enhance":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[ChatResponse](t, rec)
	if !strings.Contains(got.Reply.Content, "[ENHANCED QUERY]: maps") {
		t.Fatalf("expected enhanced query to reach the provider, got %q", got.Reply.Content)
	}
}

func TestHandleChatErrors(t *testing.T) {
	failing := provider.Func(func(context.Context, prompt.CompletionRequest) (string, error) {
		return "", &provider.Error{Provider: "test", Message: "completion provider quota exceeded", Err: errors.New("429")}
	})

	tests := []struct {
		name   string
		p      provider.Provider
		body   string
		status int
		errMsg string
	}{
		{"empty message", echoProvider(), `{"message":"  "}`, http.StatusBadRequest, chat.ErrEmptyMessage.Error()},
		{"invalid json", echoProvider(), `{"message":`, http.StatusBadRequest, "invalid request body"},
		{"provider failure", failing, `{"message":"hi"}`, http.StatusBadGateway, "completion provider quota exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.p, nil)
			rec := s.do(t, http.MethodPost, "/api/chat", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decode[map[string]string](t, rec); got["error"] != tt.errMsg {
				t.Fatalf("error = %q, want %q", got["error"], tt.errMsg)
			}
		})
	}
}

func TestHandleChatProviderFailureKeepsUserMessage(t *testing.T) {
	s := newTestServer(t, provider.Func(func(context.Context, prompt.CompletionRequest) (string, error) {
		return "", errors.New("upstream reset")
	}), nil)

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"are you there"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/history", "")
	got := decode[struct {
		Messages []session.Message `json:"messages"`
	}](t, rec)
	if len(got.Messages) != 1 || got.Messages[0].Role != session.RoleUser {
		t.Fatalf("expected only the user message, got %+v", got.Messages)
	}
}

func TestHandleChatRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServer(t, echoProvider(), chat.NewRateLimiter(ctx, 1, time.Minute))

	if rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}

func TestHandleChatInvalidRequestsDoNotConsumeRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServer(t, echoProvider(), chat.NewRateLimiter(ctx, 1, time.Minute))

	for _, body := range []string{`{"message":"   "}`, `{"message":`, `{}`} {
		if rec := s.do(t, http.MethodPost, "/api/chat", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
	if rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("valid request after rejected ones: expected 200, got %d", rec.Code)
	}
}

func TestHandleChatTurnInProgress(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	s := newTestServer(t, provider.Func(func(context.Context, prompt.CompletionRequest) (string, error) {
		close(started)
		<-unblock
		return "late", nil
	}), nil)

	done := make(chan int, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/api/chat", `{"message":"first"}`).Code
	}()
	<-started

	if rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"second"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	close(unblock)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
}
