// Package event provides an in-memory pub/sub bus for engine lifecycle
// notifications. The engine publishes an Event at run, superstep, node,
// and checkpoint boundaries; observers subscribe to the types they care
// about without slowing the execution path.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type classifies a lifecycle event.
type Type string

// Lifecycle event types published by the engine.
const (
	TypeRunStarted      Type = "run.started"
	TypeRunCompleted    Type = "run.completed"
	TypeRunSuspended    Type = "run.suspended"
	TypeRunFailed       Type = "run.failed"
	TypeStepStarted     Type = "step.started"
	TypeStepCompleted   Type = "step.completed"
	TypeNodeStarted     Type = "node.started"
	TypeNodeCompleted   Type = "node.completed"
	TypeNodeFailed      Type = "node.failed"
	TypeCheckpointSaved Type = "checkpoint.saved"
)

// Event is a single lifecycle notification. Events are value types;
// subscribers must not assume a shared Data map is theirs to mutate.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Graph     string         `json:"graph"`
	ThreadID  string         `json:"thread_id"`
	Step      int            `json:"step"`
	Node      string         `json:"node,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Option configures event construction.
type Option func(*Event)

// WithStep records the superstep index the event belongs to.
func WithStep(step int) Option {
	return func(e *Event) {
		e.Step = step
	}
}

// WithNode records the node the event concerns.
func WithNode(node string) Option {
	return func(e *Event) {
		e.Node = node
	}
}

// WithData attaches free-form payload fields.
func WithData(data map[string]any) Option {
	return func(e *Event) {
		e.Data = data
	}
}

// New builds an event with a generated ID and the current time.
func New(typ Type, graph, threadID string, opts ...Option) Event {
	e := Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Graph:     graph,
		ThreadID:  threadID,
		Step:      -1,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// HandlerFunc consumes one event. Handlers run on the subscription's
// own goroutine, so a slow handler delays only its own subscription.
type HandlerFunc func(ctx context.Context, evt Event) error
