package stategraph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
)

// Shared channel operators. They widen JSON-decoded numbers so folds
// keep working on state restored from a checkpoint.

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func addInts(current, update any) any {
	return asInt(current) + asInt(update)
}

func maxInt(current, update any) any {
	if asInt(update) > asInt(current) {
		return update
	}
	return current
}

// Shared node factories.

// writeNode returns updates verbatim.
func writeNode(updates map[string]any) NodeFunc {
	return func(ctx Context, state State) (any, error) {
		return updates, nil
	}
}

// noopNode returns no updates.
func noopNode(ctx Context, state State) (any, error) {
	return nil, nil
}

// failNode fails with the given error.
func failNode(err error) NodeFunc {
	return func(ctx Context, state State) (any, error) {
		return nil, err
	}
}

// panicNode panics with the given value.
func panicNode(value any) NodeFunc {
	return func(ctx Context, state State) (any, error) {
		panic(value)
	}
}

// execLog records node executions across concurrent supersteps.
type execLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *execLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, name)
}

func (l *execLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *execLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == name {
			n++
		}
	}
	return n
}

// trackNode records its execution and applies the given updates.
func trackNode(log *execLog, name string, updates map[string]any) NodeFunc {
	return func(ctx Context, state State) (any, error) {
		log.record(name)
		return updates, nil
	}
}

// Builders.

// compile compiles the graph, failing the test on validation errors.
func compile(t *testing.T, g *Graph) *CompiledGraph {
	t.Helper()
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

// newTestEngine builds an engine and closes it when the test ends.
func newTestEngine(t *testing.T, cg *CompiledGraph, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(cg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close(context.Background())
	})
	return engine
}

// memorySaver builds a saver over an in-memory store.
func memorySaver() *checkpoint.Saver {
	return checkpoint.NewSaver(checkpoint.NewMemoryStore())
}

// counterGraph is a three-node linear pipeline summing into "x":
// a -> b -> c -> END, each node adding its weight.
func counterGraph() *Graph {
	return New("counter").
		AddChannel("x", channel.NewBinaryOperator(addInts, nil)).
		AddNode("a", writeNode(map[string]any{"x": 1})).
		AddNode("b", writeNode(map[string]any{"x": 1})).
		AddNode("c", writeNode(map[string]any{"x": 1})).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
}
