// Package streambridge wraps an external agent runtime's execute call in
// an identified, subscribable stream: every execution gets an id up front,
// chunks arrive in order, and exactly one of complete/fail terminates it.
package streambridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind tags which variant of the Event tagged union is populated.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindComplete Kind = "complete"
	KindFail     Kind = "fail"
)

// Usage is token accounting reported at completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is the tagged union delivered to subscribers: exactly one of
// Chunk/Complete/Err is meaningful, selected by Kind.
type Event struct {
	Kind         Kind
	Chunk        string
	Content      string
	Usage        Usage
	FinishReason string
	Err          error
}

// Runtime is the external collaborator being wrapped — an LLM agent
// runtime's raw execute call. It must deliver at most one KindComplete or
// KindFail event, and no events after that one.
type Runtime interface {
	Execute(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (<-chan Event, error)
}

type subscriber struct {
	ch        chan Event
	cancelled bool
}

type execution struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int
	done        bool
}

// Bridge assigns execution ids, serializes a runtime's raw output per
// execution, and fans it out to any number of subscribers.
type Bridge struct {
	runtime Runtime

	mu         sync.Mutex
	executions map[string]*execution
}

// New constructs a Bridge wrapping runtime.
func New(runtime Runtime) *Bridge {
	return &Bridge{runtime: runtime, executions: make(map[string]*execution)}
}

// Execute starts a runtime execution and returns its id immediately,
// before any output has streamed. The returned channel receives every
// event for this execution in arrival order; it is closed after the
// terminal complete/fail event.
func (b *Bridge) Execute(ctx context.Context, systemPrompt, userPrompt, model string, maxTokens int) (string, <-chan Event, error) {
	raw, err := b.runtime.Execute(ctx, systemPrompt, userPrompt, model, maxTokens)
	if err != nil {
		return "", nil, err
	}

	executionID := uuid.New().String()
	exec := &execution{subscribers: make(map[int]*subscriber)}

	b.mu.Lock()
	b.executions[executionID] = exec
	b.mu.Unlock()

	_, primary := b.subscribe(exec)
	go b.pump(executionID, exec, raw)
	return executionID, primary, nil
}

// Subscribe joins an in-flight or already-started execution, receiving
// every event from the point of joining onward (events before the join
// are not replayed, matching "incremental output... in arrival order").
// The returned cancel func suppresses further delivery to this subscriber
// without interrupting a send already in flight.
func (b *Bridge) Subscribe(executionID string) (<-chan Event, func(), bool) {
	b.mu.Lock()
	exec, ok := b.executions[executionID]
	b.mu.Unlock()
	if !ok {
		return nil, func() {}, false
	}
	id, ch := b.subscribe(exec)
	cancel := func() {
		exec.mu.Lock()
		if sub, ok := exec.subscribers[id]; ok {
			sub.cancelled = true
		}
		exec.mu.Unlock()
	}
	return ch, cancel, true
}

func (b *Bridge) subscribe(exec *execution) (int, <-chan Event) {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, 64)}
	if exec.done {
		close(sub.ch)
		return -1, sub.ch
	}
	id := exec.nextSubID
	exec.nextSubID++
	exec.subscribers[id] = sub
	return id, sub.ch
}

// pump reads the runtime's raw channel, serializing delivery to every
// subscriber in order; different executions pump concurrently since each
// has its own goroutine and its own execution state.
func (b *Bridge) pump(executionID string, exec *execution, raw <-chan Event) {
	for ev := range raw {
		b.deliver(exec, ev)
		if ev.Kind == KindComplete || ev.Kind == KindFail {
			break
		}
	}
	exec.mu.Lock()
	exec.done = true
	for _, sub := range exec.subscribers {
		close(sub.ch)
	}
	exec.mu.Unlock()

	b.mu.Lock()
	delete(b.executions, executionID)
	b.mu.Unlock()
}

func (b *Bridge) deliver(exec *execution, ev Event) {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, sub := range exec.subscribers {
		if sub.cancelled {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; drop rather than block the whole execution.
		}
	}
}
