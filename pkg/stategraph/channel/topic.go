package channel

import "fmt"

// Topic accumulates every value written to it, in arrival order.
//
// Unlike LastValue, concurrent writes within one superstep are welcome: the
// engine orders buffered writes deterministically before applying them, so
// the accumulated sequence is stable for a given graph and input.
type Topic struct {
	values      []any
	drainOnRead bool
}

// NewTopic creates an empty Topic channel.
// When drainOnRead is true, Get clears the accumulated values, turning the
// topic into a consume-once inbox.
func NewTopic(drainOnRead bool) *Topic {
	return &Topic{drainOnRead: drainOnRead}
}

// Update implements Channel.
func (c *Topic) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.values = append(c.values, values...)
	return true, nil
}

// Get implements Channel.
// Returns the accumulated values as a []any. The returned slice is a copy;
// callers may keep it. With drainOnRead the topic is emptied afterwards.
func (c *Topic) Get() (any, error) {
	if len(c.values) == 0 {
		return nil, ErrEmpty
	}
	out := make([]any, len(c.values))
	copy(out, c.values)
	if c.drainOnRead {
		c.values = nil
	}
	return out, nil
}

// Checkpoint implements Channel.
func (c *Topic) Checkpoint() (any, error) {
	if len(c.values) == 0 {
		return nil, ErrEmpty
	}
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out, nil
}

// Restore implements Channel.
// Accepts the []any produced by Checkpoint, including one that went through
// a serialization round trip.
func (c *Topic) Restore(snapshot any) error {
	if snapshot == nil {
		c.values = nil
		return nil
	}
	vals, ok := snapshot.([]any)
	if !ok {
		return fmt.Errorf("topic restore: expected []any, got %T", snapshot)
	}
	c.values = make([]any, len(vals))
	copy(c.values, vals)
	return nil
}

// IsAvailable implements Channel.
func (c *Topic) IsAvailable() bool {
	return len(c.values) > 0
}

// Copy implements Channel.
func (c *Topic) Copy() Channel {
	clone := &Topic{drainOnRead: c.drainOnRead}
	if len(c.values) > 0 {
		clone.values = make([]any, len(c.values))
		copy(clone.values, c.values)
	}
	return clone
}
