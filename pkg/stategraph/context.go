package stategraph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
)

// Context is the execution context passed to node and router
// functions. It extends context.Context with run metadata and an
// enriched logger.
//
// Context is immutable after creation. The engine derives a fresh
// context per node invocation with the node id and attempt set.
type Context interface {
	context.Context

	// Logger returns the run logger enriched with thread_id, node_id
	// and step. Never returns nil.
	Logger() *slog.Logger

	// ThreadID returns the durable identity of this run.
	ThreadID() string

	// Step returns the current superstep index, starting at 0.
	Step() int

	// NodeID returns the id of the node being executed. Empty outside
	// node execution (for example inside hooks).
	NodeID() string

	// Attempt returns the retry attempt number (1 = first attempt).
	// Only the Retry decorator advances it.
	Attempt() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	step     int
	nodeID   string
	attempt  int
}

func newExecutionContext(ctx context.Context, logger *slog.Logger, threadID string) *executionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &executionContext{
		Context:  ctx,
		logger:   logger,
		threadID: threadID,
		attempt:  1,
	}
}

// Logger returns the enriched logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// ThreadID returns the run's thread identifier.
func (c *executionContext) ThreadID() string {
	return c.threadID
}

// Step returns the current superstep index.
func (c *executionContext) Step() int {
	return c.step
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Attempt returns the retry attempt number.
func (c *executionContext) Attempt() int {
	return c.attempt
}

// withStep derives a context for a new superstep.
func (c *executionContext) withStep(step int) *executionContext {
	return &executionContext{
		Context:  c.Context,
		logger:   c.logger,
		threadID: c.threadID,
		step:     step,
		attempt:  c.attempt,
	}
}

// withNode derives a per-node context with an enriched logger.
// The inner context.Context may differ from the parent's when the node
// has a timeout.
func (c *executionContext) withNode(ctx context.Context, nodeID string) *executionContext {
	return &executionContext{
		Context:  ctx,
		logger:   observability.EnrichLogger(c.logger, c.threadID, nodeID, c.step),
		threadID: c.threadID,
		step:     c.step,
		nodeID:   nodeID,
		attempt:  c.attempt,
	}
}

// withAttempt derives a context for a retry attempt.
func (c *executionContext) withAttempt(attempt int) *executionContext {
	return &executionContext{
		Context:  c.Context,
		logger:   c.logger.With(slog.Int("attempt", attempt)),
		threadID: c.threadID,
		step:     c.step,
		nodeID:   c.nodeID,
		attempt:  attempt,
	}
}
