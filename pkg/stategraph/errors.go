package stategraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrDuplicateNode indicates the same node id was added twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNoEntryPoint indicates SetEntry was not called before Compile.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a missing node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge or option references a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnknownChannel indicates a reference to a channel that was never
	// added to the graph.
	ErrUnknownChannel = errors.New("unknown channel")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates an entry point was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrThreadIDRequired indicates an operation that needs a thread id
	// (checkpointed runs, Resume, state inspection) was called without one.
	ErrThreadIDRequired = errors.New("thread id required")

	// ErrInvalidRouterResult indicates a router returned no targets or an
	// empty label.
	ErrInvalidRouterResult = errors.New("router returned no valid target")

	// ErrRouterTargetNotFound indicates a routing target names a node that
	// does not exist in the graph.
	ErrRouterTargetNotFound = errors.New("routing target not found")

	// ErrNoCheckpointSaver indicates an operation that needs durable
	// checkpoints (Resume, interrupts, state inspection) was called on an
	// engine built without WithCheckpointSaver.
	ErrNoCheckpointSaver = errors.New("no checkpoint saver configured")

	// ErrEngineClosed indicates a run was started on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)

// ValidationError aggregates every violation found during Compile, so a
// caller sees all problems in one pass.
type ValidationError struct {
	Errs []error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("graph validation failed: %v", e.Errs[0])
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("graph validation failed with %d errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap returns the individual violations for errors.Is/As support.
func (e *ValidationError) Unwrap() []error {
	return e.Errs
}

// RecursionError indicates a run exceeded its superstep budget without
// reaching END, usually a routing cycle that never terminates.
type RecursionError struct {
	// Limit is the superstep budget that was exhausted.
	Limit int
	// ThreadID identifies the run.
	ThreadID string
	// NextNodes is the frontier that would have executed next.
	NextNodes []string
}

// Error implements the error interface.
func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursion limit %d reached on thread %s (next: %s)",
		e.Limit, e.ThreadID, strings.Join(e.NextNodes, ", "))
}

// NodeExecutionError wraps a node failure with its superstep position.
type NodeExecutionError struct {
	// Node is the id of the failed node.
	Node string
	// Step is the superstep index the node ran in.
	Step int
	// Err is the underlying error from the node function.
	Err error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.Node, e.Step, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// AggregateExecutionError collects the failures of one superstep when
// the engine runs with the Isolate policy and more than zero nodes fail.
type AggregateExecutionError struct {
	// Step is the superstep the failures occurred in.
	Step int
	// Errors holds one *NodeExecutionError per failed node.
	Errors []error
}

// Error implements the error interface.
func (e *AggregateExecutionError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("step %d: %v", e.Step, e.Errors[0])
	}
	return fmt.Sprintf("step %d: %d nodes failed: %v", e.Step, len(e.Errors), errors.Join(e.Errors...))
}

// Unwrap returns the individual node failures for errors.Is/As support.
func (e *AggregateExecutionError) Unwrap() []error {
	return e.Errors
}

// CancellationError indicates the run's context was cancelled. The
// engine honors cancellation only at superstep boundaries, so State is
// the last consistent post-barrier state.
type CancellationError struct {
	// Step is the superstep that would have executed next.
	Step int
	// State is the last consistent state.
	State State
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before step %d: %v", e.Step, e.Cause)
}

// Unwrap returns the cancellation cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps a conditional-edge routing failure.
type RouterError struct {
	// Node is the node whose router failed.
	Node string
	// Returned is the offending label or target.
	Returned string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.Node, e.Returned, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised inside a node function, including
// the stack trace at the point of panic.
type PanicError struct {
	// Node is the node that panicked.
	Node string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace captured in the recovering goroutine.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Node, e.Value)
}
