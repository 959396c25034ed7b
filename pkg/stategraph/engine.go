package stategraph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/randalmurphal/stategraph/pkg/stategraph/event"
	"github.com/randalmurphal/stategraph/pkg/stategraph/hook"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusInit is a run that has not executed a superstep yet.
	StatusInit Status = "init"
	// StatusRunning is a run currently executing supersteps.
	StatusRunning Status = "running"
	// StatusSuspended is a run paused at an interrupt point; resumable.
	StatusSuspended Status = "suspended"
	// StatusCompleted is a run that reached END or ran out of work.
	StatusCompleted Status = "completed"
	// StatusFailed is a run stopped by a node failure, a barrier
	// conflict, cancellation, or the recursion limit.
	StatusFailed Status = "failed"
)

// Result is the outcome of one Invoke, Stream, or Resume call.
type Result struct {
	// ThreadID is the durable identity of the run.
	ThreadID string
	// Status is the terminal status of this call.
	Status Status
	// State holds the last consistent channel values.
	State State
	// Steps counts the supersteps executed by this call.
	Steps int
	// CheckpointID is the id of the last checkpoint saved, if any.
	CheckpointID string
	// NextNodes is the frontier left behind: the nodes a resumed run
	// would execute next. Empty for completed runs.
	NextNodes []string
}

// Engine executes a compiled graph. It is safe for concurrent use;
// each Invoke/Stream/Resume call is an independent run identified by
// its thread id.
//
// The engine owns the event bus passed via WithEventBus (Close closes
// it) but not the checkpoint saver, which outlives the engine.
type Engine struct {
	graph  *CompiledGraph
	config engineConfig
	closed atomic.Bool
}

// NewEngine creates an execution engine for the given compiled graph.
//
// Returns an error when an interrupt option names an unknown node, or
// when interrupts are configured without a checkpoint saver (a
// suspended run without a checkpoint could never be resumed).
func NewEngine(graph *CompiledGraph, opts ...EngineOption) (*Engine, error) {
	if graph == nil {
		return nil, errors.New("stategraph: engine requires a compiled graph")
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, id := range cfg.interruptBefore {
		if !graph.HasNode(id) {
			return nil, fmt.Errorf("%w: interrupt before %q", ErrNodeNotFound, id)
		}
	}
	for _, id := range cfg.interruptAfter {
		if !graph.HasNode(id) {
			return nil, fmt.Errorf("%w: interrupt after %q", ErrNodeNotFound, id)
		}
	}
	if (len(cfg.interruptBefore) > 0 || len(cfg.interruptAfter) > 0) && cfg.saver == nil {
		return nil, fmt.Errorf("interrupts: %w", ErrNoCheckpointSaver)
	}

	return &Engine{graph: graph, config: cfg}, nil
}

// Graph returns the compiled graph this engine executes.
func (e *Engine) Graph() *CompiledGraph {
	return e.graph
}

// Invoke runs the graph to a terminal status and returns the result.
//
// The input map seeds the named channels before the first superstep;
// it is a state update, not a checkpoint. On failure the returned
// Result still carries the last consistent state, alongside the error.
func (e *Engine) Invoke(ctx context.Context, input map[string]any, opts ...RunOption) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	rc := defaultRunConfig()
	for _, opt := range opts {
		opt(&rc)
	}

	r := e.newRun(ctx, rc, nil)
	if err := r.seed(input); err != nil {
		return nil, err
	}
	return r.loop()
}

// Close releases the engine: it fires the before_destroy hooks and
// closes the event bus, if one was configured. The checkpoint saver is
// caller-owned and stays open. Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if e.config.hooks != nil {
		info := hook.Info{Point: hook.BeforeDestroy, Graph: e.graph.name, Step: -1}
		if err := e.config.hooks.Run(ctx, info); err != nil {
			errs = append(errs, fmt.Errorf("before destroy: %w", err))
		}
	}
	if e.config.bus != nil {
		if err := e.config.bus.Close(); err != nil && !errors.Is(err, event.ErrBusClosed) {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	return errors.Join(errs...)
}
