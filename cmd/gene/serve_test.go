package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/config"
	"github.com/ashureev/gene-chat/internal/identity"
	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/ashureev/gene-chat/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "gene.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc, err := chat.NewService(provider.Func(func(_ context.Context, req prompt.CompletionRequest) (string, error) {
		return "reply from " + req.Model, nil
	}), chat.ServiceConfig{ProviderName: "test", Window: 10})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{MaxRequestBody: 1 << 20}
	return newRouter(serverDeps{
		cfg:          cfg,
		repo:         repo,
		reg:          chat.NewRegistry(nil),
		svc:          svc,
		limiter:      chat.NewRateLimiter(ctx, 10, time.Minute),
		providerName: "test",
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(t))
	t.Cleanup(srv.Close)

	tests := []struct {
		method, path, body string
		wantStatus         int
		wantBody           string
	}{
		{method: http.MethodGet, path: "/ping", wantStatus: http.StatusOK, wantBody: "."},
		{method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, wantBody: `"provider":"test"`},
		{method: http.MethodGet, path: "/api/catalog", wantStatus: http.StatusOK, wantBody: `"Technical/IT"`},
		{method: http.MethodPost, path: "/api/chat", body: `{"message":"hi"}`, wantStatus: http.StatusOK, wantBody: "reply from " + string(session.DefaultModel)},
		{method: http.MethodGet, path: "/", wantStatus: http.StatusOK, wantBody: "<title>Gene</title>"},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("NewRequest failed: %v", err)
		}
		req.Header.Set(identity.SessionHeaderName, "tab-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", tt.method, tt.path, err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("read body failed: %v", err)
		}
		body := string(data)

		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("%s %s status = %d, want %d (%s)", tt.method, tt.path, resp.StatusCode, tt.wantStatus, body)
		}
		if !strings.Contains(body, tt.wantBody) {
			t.Fatalf("%s %s body %q missing %q", tt.method, tt.path, body, tt.wantBody)
		}
	}
}

func TestRouterSetsAnonymousCookie(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.AnonCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected anonymous identity cookie")
	}

	var snap map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap["window_size"] != float64(10) {
		t.Fatalf("window_size = %v, want 10", snap["window_size"])
	}
}
