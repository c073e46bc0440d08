// Package agentruntime provides streambridge.Runtime implementations: a
// model-prefix Router that dispatches to one backend per provider family,
// and a Stub backend for tests and offline operation that never calls out
// to a real LLM provider. Wiring a real provider SDK behind this interface
// is explicitly out of scope; castellan treats the agent runtime as an
// external collaborator it drives through streambridge.Runtime.
package agentruntime

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaygate/castellan/internal/streambridge"
)

// Router dispatches Execute to a backend chosen by the model string's
// prefix up to the first "-" (e.g. "claude-..." -> "claude", "gpt-..." ->
// "gpt"). A model with no registered prefix falls back to Default if set.
type Router struct {
	backends map[string]streambridge.Runtime
	Default  streambridge.Runtime
}

// NewRouter constructs an empty Router. Register backends with Register.
func NewRouter() *Router {
	return &Router{backends: make(map[string]streambridge.Runtime)}
}

// Register associates prefix (the portion of a model string before its
// first hyphen) with backend.
func (r *Router) Register(prefix string, backend streambridge.Runtime) {
	r.backends[prefix] = backend
}

// Execute implements streambridge.Runtime.
func (r *Router) Execute(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (<-chan streambridge.Event, error) {
	prefix := model
	if i := strings.Index(model, "-"); i >= 0 {
		prefix = model[:i]
	}
	backend, ok := r.backends[prefix]
	if !ok {
		backend = r.Default
	}
	if backend == nil {
		return nil, fmt.Errorf("agentruntime: no backend registered for model %q", model)
	}
	return backend.Execute(ctx, systemPrompt, userPrompt, model, maxTokens)
}

// Stub is a deterministic streambridge.Runtime that never calls out to a
// real provider. Respond, if set, computes the completion content from the
// prompts; otherwise Execute echoes userPrompt back as the completion.
// Used for tests and for running castellan without live agents.
type Stub struct {
	Respond func(systemPrompt, userPrompt string) string
	Fail    error
}

// Execute implements streambridge.Runtime.
func (s *Stub) Execute(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (<-chan streambridge.Event, error) {
	ch := make(chan streambridge.Event, 2)
	go func() {
		defer close(ch)
		if s.Fail != nil {
			ch <- streambridge.Event{Kind: streambridge.KindFail, Err: s.Fail}
			return
		}
		content := userPrompt
		if s.Respond != nil {
			content = s.Respond(systemPrompt, userPrompt)
		}
		select {
		case ch <- streambridge.Event{Kind: streambridge.KindChunk, Chunk: content}:
		case <-ctx.Done():
			ch <- streambridge.Event{Kind: streambridge.KindFail, Err: ctx.Err()}
			return
		}
		ch <- streambridge.Event{
			Kind:         streambridge.KindComplete,
			Content:      content,
			Usage:        streambridge.Usage{InputTokens: len(systemPrompt) + len(userPrompt), OutputTokens: len(content)},
			FinishReason: "stop",
		}
	}()
	return ch, nil
}
