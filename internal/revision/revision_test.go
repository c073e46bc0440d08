package revision

import (
	"context"
	"errors"
	"testing"

	"github.com/relaygate/castellan/internal/document"
	"github.com/relaygate/castellan/internal/feedback"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/spawn"
	"github.com/relaygate/castellan/internal/streambridge"
	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
)

type fakeRuntime struct {
	events []streambridge.Event
	err    error
}

func (f *fakeRuntime) Execute(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (<-chan streambridge.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan streambridge.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestLoop(t *testing.T, rt streambridge.Runtime) (*Loop, *truth.Store, *document.Store) {
	t.Helper()
	store, err := truth.Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ev, _ := truth.NewEvent(truth.EventProjectCreated, "p1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	docs := document.New(t.TempDir())
	bridge := streambridge.New(rt)
	enforcer := spawn.New(store, func(context.Context, string) (bool, error) { return false, nil })
	return New(store, docs, bridge, enforcer), store, docs
}

func TestHandleMessageNonFeedbackIsNoop(t *testing.T) {
	loop, _, _ := newTestLoop(t, &fakeRuntime{})
	outcome, err := loop.HandleMessage(context.Background(), "p1", gatefsm.G2, "The weather is nice today")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if outcome.Triggered {
		t.Fatal("expected non-feedback message not to trigger a revision")
	}
}

func TestHandleMessageFeedbackRevisesDocument(t *testing.T) {
	rt := &fakeRuntime{events: []streambridge.Event{
		{Kind: streambridge.KindChunk, Chunk: "revising..."},
		{Kind: streambridge.KindComplete, Content: "# PRD v2\n\nAddressed the requested change.", Usage: streambridge.Usage{InputTokens: 100, OutputTokens: 50}},
	}}
	loop, _, docs := newTestLoop(t, rt)
	ctx := context.Background()

	if _, err := docs.Register("p1", string(gatefsm.G2), GateDocumentType[gatefsm.G2], "# PRD v1\n\ninitial draft"); err != nil {
		t.Fatalf("register doc: %v", err)
	}

	outcome, err := loop.HandleMessage(ctx, "p1", gatefsm.G2, "Please change the onboarding flow instead")
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !outcome.Triggered {
		t.Fatal("expected feedback message to trigger a revision")
	}
	if outcome.Classification.Type != feedback.TypeChangeRequest {
		t.Errorf("classification type = %q, want CHANGE_REQUEST", outcome.Classification.Type)
	}
	if outcome.Version != 2 {
		t.Errorf("expected version 2, got %d", outcome.Version)
	}

	latest, err := docs.Latest("p1", string(gatefsm.G2), GateDocumentType[gatefsm.G2])
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Content != outcome.Content {
		t.Error("expected stored document to match returned content")
	}
}

func TestHandleMessageFeedbackWithoutExistingDocumentFails(t *testing.T) {
	loop, _, _ := newTestLoop(t, &fakeRuntime{})
	_, err := loop.HandleMessage(context.Background(), "p1", gatefsm.G2, "Please change the layout")
	if err == nil {
		t.Fatal("expected error when no prior document exists for the gate")
	}
}

func TestHandleMessageRuntimeFailurePropagates(t *testing.T) {
	rt := &fakeRuntime{events: []streambridge.Event{
		{Kind: streambridge.KindFail, Err: errors.New("upstream exploded")},
	}}
	loop, _, docs := newTestLoop(t, rt)
	if _, err := docs.Register("p1", string(gatefsm.G2), GateDocumentType[gatefsm.G2], "# PRD v1"); err != nil {
		t.Fatalf("register doc: %v", err)
	}

	_, err := loop.HandleMessage(context.Background(), "p1", gatefsm.G2, "Please change this")
	if err == nil {
		t.Fatal("expected runtime failure to propagate")
	}
}
