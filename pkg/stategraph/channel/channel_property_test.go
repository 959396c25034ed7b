package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Folding a batch through the Sum operator must equal summing the batch,
// however the writes are split across supersteps.
func TestProperty_BinaryOperatorSumFoldEqualsTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 50).Draw(rt, "count")
		values := make([]float64, count)
		var total float64
		for i := range values {
			values[i] = rapid.Float64Range(-1e6, 1e6).Draw(rt, "value")
			total += values[i]
		}

		ch := NewBinaryOperator(Sum, float64(0))
		i := 0
		for i < count {
			// Split the writes into arbitrary superstep batches.
			batch := rapid.IntRange(1, count-i).Draw(rt, "batch")
			updates := make([]any, batch)
			for j := 0; j < batch; j++ {
				updates[j] = values[i+j]
			}
			_, err := ch.Update(updates)
			require.NoError(t, err)
			i += batch
		}

		v, err := ch.Get()
		require.NoError(t, err)
		assert.InDelta(t, total, v.(float64), 1e-6)
	})
}

// A topic must preserve every value in arrival order no matter how the
// writes are batched.
func TestProperty_TopicAppendPreservesSequence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(0, 60).Draw(rt, "count")
		values := make([]any, count)
		for i := range values {
			values[i] = rapid.IntRange(-1000, 1000).Draw(rt, "value")
		}

		ch := NewTopic(false)
		i := 0
		for i < count {
			batch := rapid.IntRange(1, count-i).Draw(rt, "batch")
			_, err := ch.Update(values[i : i+batch])
			require.NoError(t, err)
			i += batch
		}

		if count == 0 {
			assert.False(t, ch.IsAvailable())
			return
		}
		v, err := ch.Get()
		require.NoError(t, err)
		assert.Equal(t, values, v)
	})
}

// Checkpoint/restore must be lossless for the last-value channel regardless
// of the stored value.
func TestProperty_LastValueCheckpointRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.String().Draw(rt, "value")

		ch := NewLastValue()
		_, err := ch.Update([]any{value})
		require.NoError(t, err)

		snap, err := ch.Checkpoint()
		require.NoError(t, err)

		restored := NewLastValue()
		require.NoError(t, restored.Restore(snap))

		got, err := restored.Get()
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})
}
