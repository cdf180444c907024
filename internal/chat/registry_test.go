package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/gene-chat/internal/prompt"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestRegistry() (*Registry, *testClock) {
	clock := &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(func() *session.State {
		return session.New(session.WithModel(session.ModelGemma7B))
	})
	r.now = clock.now
	return r, clock
}

func TestRegistryGet(t *testing.T) {
	r, _ := newTestRegistry()

	a := r.Get("anon_1", "tab-1")
	if again := r.Get("anon_1", "tab-1"); again != a {
		t.Fatal("Get should return the same entry for the same key")
	}
	b := r.Get("anon_1", "tab-2")
	c := r.Get("anon_2", "tab-1")
	if a == b || a == c {
		t.Fatal("different tabs or users must not share an entry")
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	var model session.Model
	a.View(func(s *session.State) { model = s.Model() })
	if model != session.ModelGemma7B {
		t.Fatalf("factory not used, model = %q", model)
	}

	if _, ok := r.Lookup("anon_3", "tab-1"); ok {
		t.Fatal("Lookup must not create entries")
	}

	r.Remove("anon_1", "tab-1")
	if _, ok := r.Lookup("anon_1", "tab-1"); ok || r.Len() != 2 {
		t.Fatal("Remove did not discard the entry")
	}
}

func TestRegistryEvict(t *testing.T) {
	r, clock := newTestRegistry()

	stale := r.Get("anon_1", "old")
	busy := r.Get("anon_1", "busy")
	release, err := busy.begin()
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	clock.t = clock.t.Add(2 * time.Hour)
	fresh := r.Get("anon_2", "new")

	var evicted []*Entry
	n := sweep(r, time.Hour, func(e *Entry) { evicted = append(evicted, e) })
	if n != 1 || len(evicted) != 1 || evicted[0] != stale {
		t.Fatalf("expected only the stale entry evicted, got %d", n)
	}
	if _, ok := r.Lookup("anon_1", "busy"); !ok {
		t.Fatal("busy entries must survive eviction")
	}
	if got, _ := r.Lookup("anon_2", "new"); got != fresh {
		t.Fatal("fresh entry should remain")
	}
}

func TestRegistryKeepsSessionActiveThroughTurns(t *testing.T) {
	r, clock := newTestRegistry()

	// A WebSocket connection resolves its entry once, then only sends turns.
	e := r.Get("anon_1", "tab-ws")
	svc := newTestService(t, provider.Func(func(context.Context, prompt.CompletionRequest) (string, error) {
		return "ok", nil
	}), 10, nil)

	for i := 0; i < 7; i++ {
		clock.t = clock.t.Add(10 * time.Minute)
		if _, err := svc.Send(context.Background(), e, Turn{Text: "still here", Channel: ChannelWebSocket}); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	if n := sweep(r, time.Hour, nil); n != 0 {
		t.Fatalf("evicted %d entries with recent turns", n)
	}
	if got, ok := r.Lookup("anon_1", "tab-ws"); !ok || got != e {
		t.Fatal("active session was evicted")
	}

	clock.t = clock.t.Add(2 * time.Hour)
	if n := sweep(r, time.Hour, nil); n != 1 {
		t.Fatalf("idle session not evicted, n = %d", n)
	}
}
