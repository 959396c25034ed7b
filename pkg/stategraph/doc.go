/*
Package stategraph executes directed graphs of named nodes over shared
channel state, in parallel supersteps with durable checkpoints.

# Overview

stategraph is a Go library for orchestrating multi-step agentic
pipelines. A graph declares nodes (units of work), channels (named
state slots with merge semantics), and edges (what runs next). The
engine runs the graph as a sequence of supersteps: every node in the
active frontier executes concurrently against the same state snapshot,
their writes are buffered, and a barrier applies all of them at once
before the next frontier is derived.

The model is inspired by Pregel and LangGraph, built for Go with:
  - Channel-based state with pluggable merge semantics
  - Compile-time validation of graph structure
  - Durable, resumable checkpoints (memory, SQLite, Postgres, Redis)
  - Human-in-the-loop interrupts and time-travel branching
  - OpenTelemetry integration for observability

# Basic Usage

Declare channels and nodes, wire edges, compile, and run:

	g := stategraph.New("pipeline").
	    AddChannel("query", channel.NewLastValue()).
	    AddChannel("docs", channel.NewTopic(false)).
	    AddNode("retrieve", retrieve).
	    AddNode("answer", answer).
	    AddEdge("retrieve", "answer").
	    AddEdge("answer", stategraph.END).
	    SetEntry("retrieve")

	compiled, err := g.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	engine, err := stategraph.NewEngine(compiled)
	if err != nil {
	    log.Fatal(err)
	}
	defer engine.Close(context.Background())

	result, err := engine.Invoke(ctx, map[string]any{"query": "hello"})
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(result.State["docs"])

A node receives a read-only view of the channels and returns its
updates as a map (or nil, or a *Command):

	func retrieve(ctx stategraph.Context, state stategraph.State) (any, error) {
	    q := state["query"].(string)
	    return map[string]any{"docs": search(q)}, nil
	}

# Channels

Each channel defines how concurrent writes merge at the barrier:

  - channel.NewLastValue: exactly one writer per superstep; a second
    concurrent write is an InvalidUpdateError.
  - channel.NewTopic: accumulates values in arrival order; optionally
    drains when read, for work-queue flows.
  - channel.NewBinaryOperator: folds values into an accumulator with a
    caller-supplied reducer (sum, max, append, ...).

# Conditional Branching

A conditional edge routes on post-barrier state. The router returns
one or more labels, optionally translated through a mapping:

	g.AddConditionalEdges("review", func(ctx stategraph.Context, state stategraph.State) []string {
	    if state["approved"] == true {
	        return []string{"publish"}
	    }
	    return []string{"revise"}
	}, nil)

For simple predicates, When builds the router from an expression:

	g.AddConditionalEdges("review",
	    stategraph.When("score >= 0.8", "publish", "revise"), nil)

A node can also override its static routing for one superstep by
returning a *Command with Goto targets. Loops are plain edges that
point backward; the engine's recursion limit (default 25 supersteps,
WithRecursionLimit to change) stops runaway cycles.

# Checkpointing and Resume

With a saver configured, the engine checkpoints after every superstep:
channel values, the next frontier, and the parent checkpoint ID, as
one atomic record per barrier.

	store, err := checkpoint.NewSQLiteStore("./graph.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	engine, err := stategraph.NewEngine(compiled,
	    stategraph.WithCheckpointSaver(checkpoint.NewSaver(store)))

	result, err := engine.Invoke(ctx, input, stategraph.WithThreadID("job-42"))

	// Later, in the same or another process:
	result, err = engine.Resume(ctx, stategraph.WithThreadID("job-42"))

Resume picks up at the latest checkpoint's frontier. FromCheckpoint
resumes an earlier checkpoint instead, branching the thread's history;
WithStateUpdate merges corrections into the restored state first.
GetState, GetStateHistory, and UpdateState inspect and repair threads
between runs.

# Interrupts

Interrupt points suspend a run for human review before or after named
nodes execute, persisting a checkpoint to resume from:

	engine, err := stategraph.NewEngine(compiled,
	    stategraph.WithCheckpointSaver(saver),
	    stategraph.WithInterruptBefore("publish"))

	result, _ := engine.Invoke(ctx, input, stategraph.WithThreadID("job-42"))
	if result.Status == stategraph.StatusSuspended {
	    // inspect, maybe UpdateState, then:
	    result, _ = engine.Resume(ctx, stategraph.WithThreadID("job-42"))
	}

# Streaming

Stream delivers a Delta after every committed superstep, pacing the
run by consumer demand:

	s, err := engine.Stream(ctx, input)
	if err != nil {
	    log.Fatal(err)
	}
	defer s.Close()
	for d := range s.Deltas() {
	    fmt.Printf("step %d: %v\n", d.Step, d.Nodes)
	}
	result, err := s.Result()

# Observability

Logging uses log/slog with structured fields (thread_id, node_id,
step, duration_ms). Metrics and tracing are OpenTelemetry, opt-in:

	engine, err := stategraph.NewEngine(compiled,
	    stategraph.WithLogger(logger),
	    stategraph.WithMetrics(true),
	    stategraph.WithTracing(true))

Metrics: stategraph.node.executions, stategraph.node.latency_ms,
stategraph.step.latency_ms, stategraph.run.total, and more. Spans nest
stategraph.run > stategraph.step > stategraph.node.{id}.

# Error Handling

Errors carry the node and superstep they came from:

	result, err := engine.Invoke(ctx, input)
	var nodeErr *stategraph.NodeExecutionError
	if errors.As(err, &nodeErr) {
	    log.Printf("node %s failed at step %d: %v", nodeErr.Node, nodeErr.Step, nodeErr.Err)
	}

Panics in nodes are recovered into PanicError with a stack trace. A
failed superstep applies nothing: under the default FailFast policy
state stays at the previous barrier, while WithFailurePolicy(Isolate)
checkpoints the successful nodes' writes as pending and lets Resume
retry only the failed ones.

# Thread Safety

  - Graph is NOT safe for concurrent use during construction
  - CompiledGraph IS safe for concurrent use (immutable)
  - Engine IS safe for concurrent use; each run gets its own channel copies
  - Saver and all Store implementations are safe for concurrent use

# Subpackages

  - channel: state channels (LastValue, Topic, BinaryOperator)
  - checkpoint: checkpoint saver and stores (memory, SQLite, Postgres, Redis)
  - config: configuration loading with typed getters and env expansion
  - event: execution event bus for external observers
  - expr: boolean predicates over state maps
  - hook: lifecycle hook registration and dispatch
  - observability: logging, metrics, and tracing helpers
  - registry: generic named-constructor registry
  - template: ${VAR} and {var} string expansion
*/
package stategraph
