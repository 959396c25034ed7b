package stategraph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/event"
)

// eventSink collects published events. Delivery is asynchronous, so
// tests wait for a terminal event before asserting on the sequence.
type eventSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *eventSink) handle(ctx context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *eventSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func (s *eventSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]event.Type, len(s.events))
	for i, evt := range s.events {
		types[i] = evt.Type
	}
	return types
}

func (s *eventSink) ofType(typ event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, evt := range s.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (s *eventSink) has(typ event.Type) bool {
	return len(s.ofType(typ)) > 0
}

func (s *eventSink) waitFor(t *testing.T, typ event.Type) {
	t.Helper()
	require.Eventually(t, func() bool { return s.has(typ) },
		2*time.Second, 5*time.Millisecond, "event %s never arrived", typ)
}

// TestEvents_LifecycleSequence tests the full event stream of one run.
// The graph is linear so every superstep has exactly one node and the
// publication order is deterministic.
func TestEvents_LifecycleSequence(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	var sink eventSink
	_, err := bus.Subscribe(nil, sink.handle)
	require.NoError(t, err)

	engine := newTestEngine(t, compile(t, counterGraph()), WithEventBus(bus))
	_, err = engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)

	sink.waitFor(t, event.TypeRunCompleted)

	assert.Equal(t, []event.Type{
		event.TypeRunStarted,
		event.TypeStepStarted, event.TypeNodeStarted, event.TypeNodeCompleted, event.TypeStepCompleted,
		event.TypeStepStarted, event.TypeNodeStarted, event.TypeNodeCompleted, event.TypeStepCompleted,
		event.TypeStepStarted, event.TypeNodeStarted, event.TypeNodeCompleted, event.TypeStepCompleted,
		event.TypeRunCompleted,
	}, sink.types())

	first := sink.all()[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "counter", first.Graph)
	assert.Equal(t, "t1", first.ThreadID)
	assert.False(t, first.Timestamp.IsZero())

	steps := sink.ofType(event.TypeStepCompleted)
	require.Len(t, steps, 3)
	assert.Equal(t, 0, steps[0].Step)
	assert.Equal(t, []string{"b"}, steps[1].Data["nodes"])

	nodes := sink.ofType(event.TypeNodeCompleted)
	require.Len(t, nodes, 3)
	assert.Equal(t, "a", nodes[0].Node)
	assert.Equal(t, "c", nodes[2].Node)

	done := sink.ofType(event.TypeRunCompleted)[0]
	assert.Equal(t, 3, done.Data["steps"])
}

// TestEvents_CheckpointSaved tests checkpoint notifications.
func TestEvents_CheckpointSaved(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	var sink eventSink
	_, err := bus.Subscribe([]event.Type{event.TypeCheckpointSaved, event.TypeRunCompleted}, sink.handle)
	require.NoError(t, err)

	engine := newTestEngine(t, compile(t, counterGraph()),
		WithEventBus(bus),
		WithCheckpointSaver(memorySaver()))
	_, err = engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)

	sink.waitFor(t, event.TypeRunCompleted)

	saved := sink.ofType(event.TypeCheckpointSaved)
	require.Len(t, saved, 3)
	for i, evt := range saved {
		assert.Equal(t, i, evt.Step)
		assert.NotEmpty(t, evt.Data["checkpoint_id"])
		assert.NotZero(t, evt.Data["size_bytes"])
	}
}

// TestEvents_NodeFailure tests the failure notifications.
func TestEvents_NodeFailure(t *testing.T) {
	boom := errors.New("boom")
	g := New("g").
		AddNode("a", noopNode).
		AddNode("b", failNode(boom)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a")

	bus := event.NewBus(event.BusConfig{})
	var sink eventSink
	_, err := bus.Subscribe([]event.Type{event.TypeNodeFailed, event.TypeRunFailed}, sink.handle)
	require.NoError(t, err)

	engine := newTestEngine(t, compile(t, g), WithEventBus(bus))
	_, err = engine.Invoke(context.Background(), nil)
	require.Error(t, err)

	sink.waitFor(t, event.TypeRunFailed)

	failures := sink.ofType(event.TypeNodeFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].Node)
	assert.Equal(t, 1, failures[0].Step)
	assert.Contains(t, failures[0].Data["error"], "boom")

	runFailed := sink.ofType(event.TypeRunFailed)[0]
	assert.Contains(t, runFailed.Data["error"], "boom")
}

// TestEvents_RunSuspended tests the interrupt notification.
func TestEvents_RunSuspended(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	var sink eventSink
	_, err := bus.Subscribe([]event.Type{event.TypeRunSuspended}, sink.handle)
	require.NoError(t, err)

	engine := newTestEngine(t, compile(t, counterGraph()),
		WithEventBus(bus),
		WithCheckpointSaver(memorySaver()),
		WithInterruptBefore("b"))
	result, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, result.Status)

	sink.waitFor(t, event.TypeRunSuspended)

	suspended := sink.ofType(event.TypeRunSuspended)[0]
	assert.Equal(t, []string{"b"}, suspended.Data["next_nodes"])
}

// TestEvents_ClosedBusDoesNotFailRun tests that publishing to a bus
// closed out from under the engine is tolerated.
func TestEvents_ClosedBusDoesNotFailRun(t *testing.T) {
	bus := event.NewBus(event.BusConfig{})
	require.NoError(t, bus.Close())

	engine := newTestEngine(t, compile(t, counterGraph()), WithEventBus(bus))
	result, err := engine.Invoke(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.EqualValues(t, 3, result.State["x"])
}
