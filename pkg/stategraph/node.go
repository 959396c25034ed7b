package stategraph

import (
	"time"
)

// END is the terminal routing target. Any node routing to END
// completes the run after the current superstep's barrier.
const END = "__end__"

// State is the view of channel values a node receives and the shape of
// the partial updates it returns. Keys are channel names.
//
// The engine builds a fresh State map for every node invocation, but
// the values themselves are shared with the channels: nodes must treat
// inputs as read-only and return updates instead of mutating in place.
type State map[string]any

// NodeFunc is the signature of all node functions. The returned value
// is one of:
//
//   - nil: the node writes nothing this superstep
//   - State (or map[string]any): partial channel updates, buffered and
//     applied at the barrier
//   - *Command: updates plus explicit routing targets
//
// Any other return type fails the node.
type NodeFunc func(ctx Context, state State) (any, error)

// RouterFunc decides where execution goes after a node with
// conditional edges. It runs after the barrier, so it sees the
// superstep's applied state. It returns one or more labels, resolved
// through the mapping given to AddConditionalEdges (or used as node
// ids directly when the mapping is nil).
type RouterFunc func(ctx Context, state State) []string

// Command is an explicit routing directive returned by a node. Goto
// overrides the node's static and conditional edges for this
// superstep; targets are node ids or END.
type Command struct {
	// Update carries channel updates, like a plain State return.
	Update State
	// Goto names the nodes to activate at the next superstep.
	Goto []string
}

// nodeSpec is the compiled form of one node: its function plus the
// wiring options captured at AddNode time.
type nodeSpec struct {
	id       string
	fn       NodeFunc
	triggers []string
	inputs   []string
	timeout  time.Duration
}

// NodeOption configures a node at AddNode time.
type NodeOption func(*nodeSpec)

// WithTriggers subscribes the node to channels: whenever a barrier
// changes one of them, the node activates in the next superstep even
// if no edge points at it.
func WithTriggers(channels ...string) NodeOption {
	return func(n *nodeSpec) {
		n.triggers = append(n.triggers, channels...)
	}
}

// WithInputs narrows the node's state view to the named channels.
// Default is every channel in the graph.
func WithInputs(channels ...string) NodeOption {
	return func(n *nodeSpec) {
		n.inputs = append(n.inputs, channels...)
	}
}

// WithNodeTimeout puts a deadline on the context the node receives.
// The engine never preempts a running node; a node that ignores its
// context keeps the superstep open until it returns.
func WithNodeTimeout(d time.Duration) NodeOption {
	return func(n *nodeSpec) {
		n.timeout = d
	}
}

// RetryPolicy configures the Retry decorator.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// Delay is the wait before the first retry.
	Delay time.Duration
	// Backoff multiplies the delay after each failed attempt.
	// Values below 1 mean a constant delay.
	Backoff float64
}

// Retry wraps a node function with attempt-based retry. The engine
// itself never retries; this decorator is the only retry mechanism,
// applied per node by the caller.
//
//	g.AddNode("fetch", stategraph.Retry(fetch, stategraph.RetryPolicy{
//	    MaxAttempts: 3,
//	    Delay:       100 * time.Millisecond,
//	    Backoff:     2,
//	}))
//
// Retries stop early when the node's context is done. The context's
// Attempt() reflects the current try inside the wrapped function.
func Retry(fn NodeFunc, policy RetryPolicy) NodeFunc {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff < 1 {
		policy.Backoff = 1
	}
	return func(ctx Context, state State) (any, error) {
		delay := policy.Delay
		var lastErr error
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			attemptCtx := ctx
			if ec, ok := ctx.(*executionContext); ok {
				attemptCtx = ec.withAttempt(attempt)
			}

			result, err := fn(attemptCtx, state)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if attempt == policy.MaxAttempts {
				break
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
				delay = time.Duration(float64(delay) * policy.Backoff)
			} else if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, lastErr
	}
}
