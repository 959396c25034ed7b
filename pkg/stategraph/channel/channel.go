// Package channel provides the state containers that carry values between
// graph supersteps.
//
// A channel holds one logical piece of graph state. Nodes never touch
// channels directly: they receive read-only views of channel values and
// return updates, which the execution engine buffers and applies at the
// superstep barrier. Three kinds are provided:
//
//   - LastValue: keeps only the most recent write
//   - Topic: accumulates writes in arrival order
//   - BinaryOperator: folds writes through an associative operator
//
// Channels are not safe for concurrent use on their own. The engine is the
// only writer and applies updates single-threaded at the barrier.
package channel

import (
	"errors"
	"fmt"
)

// ErrEmpty indicates a channel was read before any value was written.
var ErrEmpty = errors.New("channel is empty")

// InvalidUpdateError indicates conflicting writes to a channel within a
// single superstep. It is a hard conflict: the engine aborts the barrier
// rather than resolving it silently.
type InvalidUpdateError struct {
	// Channel is the channel name. Filled in by the engine; empty when the
	// error originates inside a channel implementation.
	Channel string
	// Writes is the number of conflicting writes received.
	Writes int
}

// Error implements the error interface.
func (e *InvalidUpdateError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("invalid update: %d conflicting writes in one superstep", e.Writes)
	}
	return fmt.Sprintf("invalid update on channel %s: %d conflicting writes in one superstep", e.Channel, e.Writes)
}

// Channel is a state container managed by the execution engine.
//
// The engine mutates channels only during its barrier apply phase, so
// implementations do not need internal locking. Compiled graphs hold channel
// prototypes; every run works on fresh copies obtained via Copy.
type Channel interface {
	// Update applies the writes buffered for one superstep.
	// Returns whether the visible value changed. Implementations must
	// either apply all values or none.
	Update(values []any) (bool, error)

	// Get returns the current value.
	// Returns ErrEmpty if the channel has never been written.
	Get() (any, error)

	// Checkpoint returns a snapshot of the current value suitable for
	// persistence. Returns ErrEmpty for channels that hold no value yet;
	// the checkpoint manager skips those.
	Checkpoint() (any, error)

	// Restore replaces the current value with a snapshot previously
	// produced by Checkpoint (possibly after a serialization round trip).
	Restore(snapshot any) error

	// IsAvailable reports whether Get would succeed.
	IsAvailable() bool

	// Copy returns a fresh channel with the same configuration and value.
	Copy() Channel
}
