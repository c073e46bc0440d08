package agentruntime

import (
	"context"
	"errors"
	"testing"

	"github.com/relaygate/castellan/internal/streambridge"
)

func drain(t *testing.T, ch <-chan streambridge.Event) streambridge.Event {
	t.Helper()
	var last streambridge.Event
	for ev := range ch {
		last = ev
	}
	return last
}

func TestRouterDispatchesByModelPrefix(t *testing.T) {
	r := NewRouter()
	r.Register("claude", &Stub{Respond: func(string, string) string { return "from-claude" }})
	r.Register("gpt", &Stub{Respond: func(string, string) string { return "from-gpt" }})

	ch, err := r.Execute(context.Background(), "sys", "usr", "claude-agent-default", 100)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ev := drain(t, ch); ev.Content != "from-claude" {
		t.Fatalf("expected claude backend, got %q", ev.Content)
	}

	ch, err = r.Execute(context.Background(), "sys", "usr", "gpt-4o", 100)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ev := drain(t, ch); ev.Content != "from-gpt" {
		t.Fatalf("expected gpt backend, got %q", ev.Content)
	}
}

func TestRouterFallsBackToDefault(t *testing.T) {
	r := NewRouter()
	r.Default = &Stub{Respond: func(string, string) string { return "default" }}

	ch, err := r.Execute(context.Background(), "sys", "usr", "unknown-model", 100)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ev := drain(t, ch); ev.Content != "default" {
		t.Fatalf("expected default backend, got %q", ev.Content)
	}
}

func TestRouterErrorsWithoutBackendOrDefault(t *testing.T) {
	r := NewRouter()
	if _, err := r.Execute(context.Background(), "sys", "usr", "mystery-model", 100); err == nil {
		t.Fatal("expected error when no backend and no default are registered")
	}
}

func TestStubEchoesPromptByDefault(t *testing.T) {
	s := &Stub{}
	ch, err := s.Execute(context.Background(), "sys", "echo me", "claude-agent-default", 100)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ev := drain(t, ch); ev.Content != "echo me" {
		t.Fatalf("expected echoed content, got %q", ev.Content)
	}
}

func TestStubDeliversFailEvent(t *testing.T) {
	s := &Stub{Fail: errors.New("boom")}
	ch, err := s.Execute(context.Background(), "sys", "usr", "claude-agent-default", 100)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	ev := drain(t, ch)
	if ev.Kind != streambridge.KindFail || ev.Err == nil {
		t.Fatalf("expected fail event, got %+v", ev)
	}
}
