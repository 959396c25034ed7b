package stategraph

import (
	"log/slog"
	"runtime"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/event"
	"github.com/randalmurphal/stategraph/pkg/stategraph/hook"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
)

// FailurePolicy controls what a superstep does when a node fails.
type FailurePolicy int

const (
	// FailFast stops launching further nodes, waits for in-flight
	// ones, discards every buffered write, and fails the run. This is
	// the default.
	FailFast FailurePolicy = iota

	// Isolate lets sibling nodes finish. Their writes are checkpointed
	// as pending instead of applied, and the failed nodes become the
	// checkpoint's next set, so a resumed run retries only those.
	Isolate
)

// defaultRecursionLimit bounds supersteps per run unless overridden.
const defaultRecursionLimit = 25

// engineConfig holds engine-level configuration.
type engineConfig struct {
	logger          *slog.Logger
	saver           *checkpoint.Saver
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	tracingEnabled  bool
	bus             event.Bus
	hooks           *hook.Runner
	recursionLimit  int
	maxConcurrency  int
	failurePolicy   FailurePolicy
	interruptBefore []string
	interruptAfter  []string
}

// defaultEngineConfig returns the default engine configuration.
func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		recursionLimit: defaultRecursionLimit,
		maxConcurrency: runtime.GOMAXPROCS(0),
	}
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*engineConfig)

// WithLogger sets the logger for the engine. Node contexts receive it
// enriched with thread, node, and step attributes.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCheckpointSaver enables durable checkpointing. A checkpoint is
// persisted after every superstep's barrier; without a saver, runs are
// purely in-memory and cannot be resumed.
//
// The engine does not take ownership: closing the engine leaves the
// saver open.
func WithCheckpointSaver(saver *checkpoint.Saver) EngineOption {
	return func(c *engineConfig) {
		c.saver = saver
	}
}

// WithMetrics enables OpenTelemetry metrics recording.
// Default: disabled (no-op recorder).
func WithMetrics(enabled bool) EngineOption {
	return func(c *engineConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry trace spans for runs, supersteps,
// and node executions.
// Default: disabled.
func WithTracing(enabled bool) EngineOption {
	return func(c *engineConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithEventBus publishes run, step, node, and checkpoint events to the
// given bus. The engine takes ownership and closes the bus in Close.
func WithEventBus(bus event.Bus) EngineOption {
	return func(c *engineConfig) {
		c.bus = bus
	}
}

// WithHooks attaches a hook runner. The engine fires the
// before_execution, after_execution, before_step, after_step, and
// before_destroy points.
func WithHooks(r *hook.Runner) EngineOption {
	return func(c *engineConfig) {
		c.hooks = r
	}
}

// WithRecursionLimit sets the maximum supersteps per run.
// Default: 25
//
// This bounds cyclic graphs. When a run reaches the limit without
// terminating, Invoke returns a *RecursionError.
func WithRecursionLimit(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.recursionLimit = n
		}
	}
}

// WithMaxConcurrency bounds how many nodes of one superstep execute
// concurrently.
// Default: runtime.GOMAXPROCS(0)
func WithMaxConcurrency(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithFailurePolicy selects the superstep failure policy.
// Default: FailFast
func WithFailurePolicy(p FailurePolicy) EngineOption {
	return func(c *engineConfig) {
		c.failurePolicy = p
	}
}

// WithInterruptBefore suspends the run whenever one of the named nodes
// is about to execute. The pause happens after the previous superstep's
// checkpoint, so a resumed run starts exactly at the interrupted node.
// Requires a checkpoint saver.
func WithInterruptBefore(nodes ...string) EngineOption {
	return func(c *engineConfig) {
		c.interruptBefore = append(c.interruptBefore, nodes...)
	}
}

// WithInterruptAfter suspends the run whenever one of the named nodes
// has just executed and its superstep committed.
// Requires a checkpoint saver.
func WithInterruptAfter(nodes ...string) EngineOption {
	return func(c *engineConfig) {
		c.interruptAfter = append(c.interruptAfter, nodes...)
	}
}

// runConfig holds per-run configuration.
type runConfig struct {
	threadID       string
	maxSteps       int
	metadata       map[string]any
	fromCheckpoint string
	stateUpdate    map[string]any
}

// defaultRunConfig returns the default run configuration.
func defaultRunConfig() runConfig {
	return runConfig{}
}

// RunOption configures a single Invoke, Stream, or Resume call.
type RunOption func(*runConfig)

// WithThreadID sets the durable identity of the run. Checkpoints are
// keyed by it, and Resume requires it. Auto-generated when empty.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithMaxSteps overrides the engine's recursion limit for this run.
func WithMaxSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithRunMetadata merges the given metadata into every checkpoint this
// run saves.
func WithRunMetadata(meta map[string]any) RunOption {
	return func(c *runConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			c.metadata[k] = v
		}
	}
}

// FromCheckpoint makes Resume continue from the named checkpoint
// instead of the thread's latest. Resuming from an older checkpoint
// branches the thread's history at that point.
func FromCheckpoint(id string) RunOption {
	return func(c *runConfig) {
		c.fromCheckpoint = id
	}
}

// WithStateUpdate applies channel updates before a resumed run's first
// superstep. Useful for injecting a decision while a thread is
// suspended at an interrupt.
func WithStateUpdate(updates map[string]any) RunOption {
	return func(c *runConfig) {
		if c.stateUpdate == nil {
			c.stateUpdate = make(map[string]any, len(updates))
		}
		for k, v := range updates {
			c.stateUpdate[k] = v
		}
	}
}
