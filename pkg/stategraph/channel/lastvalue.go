package channel

// LastValue stores the single most recent value written to it.
//
// At most one write may target a LastValue channel within one superstep.
// Concurrent writes from sibling nodes are ambiguous - there is no order to
// break the tie - so Update fails with *InvalidUpdateError instead of
// picking a winner.
type LastValue struct {
	value      any
	set        bool
	defaultVal any
	hasDefault bool
}

// NewLastValue creates an empty LastValue channel.
// Reading it before the first write fails with ErrEmpty.
func NewLastValue() *LastValue {
	return &LastValue{}
}

// NewLastValueWithDefault creates a LastValue channel that returns v
// until the first write replaces it.
func NewLastValueWithDefault(v any) *LastValue {
	return &LastValue{defaultVal: v, hasDefault: true}
}

// Update implements Channel.
// More than one value in a single superstep is a conflict.
func (c *LastValue) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	if len(values) > 1 {
		return false, &InvalidUpdateError{Writes: len(values)}
	}
	c.value = values[0]
	c.set = true
	return true, nil
}

// Get implements Channel.
func (c *LastValue) Get() (any, error) {
	if c.set {
		return c.value, nil
	}
	if c.hasDefault {
		return c.defaultVal, nil
	}
	return nil, ErrEmpty
}

// Checkpoint implements Channel.
// The default value is part of the channel's configuration, not its state,
// so an unwritten channel has nothing to snapshot.
func (c *LastValue) Checkpoint() (any, error) {
	if !c.set {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Restore implements Channel.
func (c *LastValue) Restore(snapshot any) error {
	c.value = snapshot
	c.set = true
	return nil
}

// IsAvailable implements Channel.
func (c *LastValue) IsAvailable() bool {
	return c.set || c.hasDefault
}

// Copy implements Channel.
func (c *LastValue) Copy() Channel {
	clone := *c
	return &clone
}
