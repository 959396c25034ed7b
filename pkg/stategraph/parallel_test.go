package stategraph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
)

// TestFanOut_TopicGathersBranches runs a fork where every branch
// appends to a topic, and checks the barrier merges writes in node-id
// order regardless of completion order.
//
//	        ┌─> b ─┐
//	seed ───┼─> c ─┼─> (END)
//	        └─> d ─┘
func TestFanOut_TopicGathersBranches(t *testing.T) {
	g := New("g").
		AddChannel("results", channel.NewTopic(false)).
		AddNode("seed", noopNode).
		AddNode("b", func(ctx Context, state State) (any, error) {
			time.Sleep(10 * time.Millisecond) // finish last on purpose
			return map[string]any{"results": "from-b"}, nil
		}).
		AddNode("c", writeNode(map[string]any{"results": "from-c"})).
		AddNode("d", writeNode(map[string]any{"results": "from-d"})).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("seed", "d").
		AddEdge("b", END).
		AddEdge("c", END).
		AddEdge("d", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g))

	result, err := engine.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}

	got, ok := result.State["results"].([]any)
	if !ok {
		t.Fatalf("results = %T, want []any", result.State["results"])
	}
	want := []any{"from-b", "from-c", "from-d"}
	if len(got) != len(want) {
		t.Fatalf("results = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("results[%d] = %v, want %v (node-id order)", i, got[i], want[i])
		}
	}
}

// TestFanOut_SameStepWritesInvisible checks that branches of one
// superstep all see the same pre-step snapshot, not each other.
func TestFanOut_SameStepWritesInvisible(t *testing.T) {
	g := New("g").
		AddChannel("x", channel.NewLastValue()).
		AddChannel("seen", channel.NewTopic(false)).
		AddNode("seed", writeNode(map[string]any{"x": "original"})).
		AddNode("b", func(ctx Context, state State) (any, error) {
			return map[string]any{"seen": state["x"]}, nil
		}).
		AddNode("c", func(ctx Context, state State) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return map[string]any{"seen": state["x"]}, nil
		}).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("b", END).
		AddEdge("c", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g))

	result, err := engine.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}

	seen := result.State["seen"].([]any)
	for i, v := range seen {
		if v != "original" {
			t.Errorf("branch %d saw %v, want the pre-step snapshot", i, v)
		}
	}
}

// TestFanOut_LastValueConflict checks that two branches writing one
// LastValue channel in the same superstep fail the whole barrier.
func TestFanOut_LastValueConflict(t *testing.T) {
	g := New("g").
		AddChannel("x", channel.NewLastValue()).
		AddChannel("safe", channel.NewTopic(false)).
		AddNode("seed", noopNode).
		AddNode("b", writeNode(map[string]any{"x": 1, "safe": "b"})).
		AddNode("c", writeNode(map[string]any{"x": 2})).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("b", END).
		AddEdge("c", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g))

	result, err := engine.Invoke(context.Background(), nil)
	if err == nil {
		t.Fatal("Invoke() should fail on conflicting LastValue writes")
	}

	var iue *channel.InvalidUpdateError
	if !errors.As(err, &iue) {
		t.Fatalf("error = %v, want InvalidUpdateError", err)
	}
	if iue.Channel != "x" {
		t.Errorf("InvalidUpdateError.Channel = %q, want %q", iue.Channel, "x")
	}
	// All-or-nothing: the topic write from the same barrier is gone too.
	if _, ok := result.State["safe"]; ok {
		t.Error("safe should not have been applied when the barrier failed")
	}
}

// TestFanOut_BinaryOperatorFold checks a reducer channel folds all
// branch writes into one value.
func TestFanOut_BinaryOperatorFold(t *testing.T) {
	g := New("g").
		AddChannel("best", channel.NewBinaryOperator(maxInt, 0)).
		AddNode("seed", noopNode).
		AddNode("b", writeNode(map[string]any{"best": 3})).
		AddNode("c", writeNode(map[string]any{"best": 7})).
		AddNode("d", writeNode(map[string]any{"best": 2})).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("seed", "d").
		AddEdge("b", END).
		AddEdge("c", END).
		AddEdge("d", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g))

	result, err := engine.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if result.State["best"] != 7 {
		t.Errorf("best = %v, want 7", result.State["best"])
	}
}

// TestFanOut_MaxConcurrency checks the semaphore bound on node
// execution within a superstep.
func TestFanOut_MaxConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	slow := func(ctx Context, state State) (any, error) {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}

	g := New("g").
		AddNode("seed", noopNode).
		AddNode("w1", slow).
		AddNode("w2", slow).
		AddNode("w3", slow).
		AddNode("w4", slow).
		AddEdge("seed", "w1").
		AddEdge("seed", "w2").
		AddEdge("seed", "w3").
		AddEdge("seed", "w4").
		AddEdge("w1", END).
		AddEdge("w2", END).
		AddEdge("w3", END).
		AddEdge("w4", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g), WithMaxConcurrency(2))

	if _, err := engine.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

// TestFanOut_FailFast checks that under the default policy the first
// failure in node-id order is reported and nothing is applied.
func TestFanOut_FailFast(t *testing.T) {
	g := New("g").
		AddChannel("out", channel.NewTopic(false)).
		AddNode("seed", noopNode).
		AddNode("b", failNode(errors.New("b broke"))).
		AddNode("c", writeNode(map[string]any{"out": "c"})).
		AddNode("d", failNode(errors.New("d broke"))).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("seed", "d").
		AddEdge("b", END).
		AddEdge("c", END).
		AddEdge("d", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g))

	result, err := engine.Invoke(context.Background(), nil)
	if err == nil {
		t.Fatal("Invoke() should fail")
	}

	var nerr *NodeExecutionError
	if !errors.As(err, &nerr) {
		t.Fatalf("error = %v, want NodeExecutionError", err)
	}
	if nerr.Node != "b" { // first failure in node-id order
		t.Errorf("failed node = %q, want %q", nerr.Node, "b")
	}
	if _, ok := result.State["out"]; ok {
		t.Error("successful sibling's write should have been discarded")
	}
}

// TestFanOut_IsolateAggregates checks the isolate policy collects every
// failure and leaves the failed nodes as the frontier.
func TestFanOut_IsolateAggregates(t *testing.T) {
	g := New("g").
		AddChannel("out", channel.NewTopic(false)).
		AddNode("seed", noopNode).
		AddNode("b", failNode(errors.New("b broke"))).
		AddNode("c", writeNode(map[string]any{"out": "c"})).
		AddNode("d", failNode(errors.New("d broke"))).
		AddEdge("seed", "b").
		AddEdge("seed", "c").
		AddEdge("seed", "d").
		AddEdge("b", END).
		AddEdge("c", END).
		AddEdge("d", END).
		SetEntry("seed")
	engine := newTestEngine(t, compile(t, g), WithFailurePolicy(Isolate))

	result, err := engine.Invoke(context.Background(), nil)
	if err == nil {
		t.Fatal("Invoke() should fail")
	}

	var agg *AggregateExecutionError
	if !errors.As(err, &agg) {
		t.Fatalf("error = %v, want AggregateExecutionError", err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("len(agg.Errors) = %d, want 2", len(agg.Errors))
	}
	if agg.Step != 1 {
		t.Errorf("agg.Step = %d, want 1", agg.Step)
	}
	if len(result.NextNodes) != 2 || result.NextNodes[0] != "b" || result.NextNodes[1] != "d" {
		t.Errorf("NextNodes = %v, want [b d]", result.NextNodes)
	}
}
