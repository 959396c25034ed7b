package channel

// Op combines the current channel value with one incoming update.
// It must be associative so that folding a batch of writes is well defined
// regardless of how the engine groups them.
type Op func(current, update any) any

// BinaryOperator folds every incoming value into a single accumulated value
// using a caller-supplied associative operator (max, sum, set union, ...).
//
// Multiple writes within one superstep are reduced deterministically: the
// engine orders buffered writes by node id before calling Update, and Update
// applies the operator in that order.
type BinaryOperator struct {
	op          Op
	value       any
	set         bool
	identity    any
	hasIdentity bool
}

// NewBinaryOperator creates a BinaryOperator channel.
//
// The identity element seeds the fold when the channel is empty: the first
// batch of writes is reduced as identity ⊕ v1 ⊕ v2 ⊕ ... A nil identity
// means the first incoming value seeds the accumulator instead.
//
// The channel stays empty (Get fails with ErrEmpty) until the first write;
// the identity is a fold seed, not a default value.
func NewBinaryOperator(op Op, identity any) *BinaryOperator {
	if op == nil {
		panic("channel: binary operator requires an op")
	}
	return &BinaryOperator{
		op:          op,
		identity:    identity,
		hasIdentity: identity != nil,
	}
}

// Update implements Channel.
func (c *BinaryOperator) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	acc := c.value
	seeded := c.set
	if !seeded && c.hasIdentity {
		acc = c.identity
		seeded = true
	}
	for _, v := range values {
		if !seeded {
			acc = v
			seeded = true
			continue
		}
		acc = c.op(acc, v)
	}
	c.value = acc
	c.set = true
	return true, nil
}

// Get implements Channel.
func (c *BinaryOperator) Get() (any, error) {
	if !c.set {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Checkpoint implements Channel.
func (c *BinaryOperator) Checkpoint() (any, error) {
	if !c.set {
		return nil, ErrEmpty
	}
	return c.value, nil
}

// Restore implements Channel.
func (c *BinaryOperator) Restore(snapshot any) error {
	c.value = snapshot
	c.set = true
	return nil
}

// IsAvailable implements Channel.
func (c *BinaryOperator) IsAvailable() bool {
	return c.set
}

// Copy implements Channel.
func (c *BinaryOperator) Copy() Channel {
	clone := *c
	return &clone
}

// Sum is an Op that adds numeric values. Integers and floats are coerced to
// float64, mirroring what values look like after a JSON round trip.
func Sum(current, update any) any {
	a, aok := asFloat(current)
	b, bok := asFloat(update)
	if !aok || !bok {
		return update
	}
	return a + b
}

// Max is an Op that keeps the larger of two numeric values, with the same
// coercion rules as Sum.
func Max(current, update any) any {
	a, aok := asFloat(current)
	b, bok := asFloat(update)
	if !aok || !bok {
		return update
	}
	if a >= b {
		return a
	}
	return b
}

// asFloat coerces the numeric types that appear in graph state.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
