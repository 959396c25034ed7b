package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastValue_EmptyRead(t *testing.T) {
	ch := NewLastValue()

	assert.False(t, ch.IsAvailable())

	_, err := ch.Get()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = ch.Checkpoint()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLastValue_SingleWrite(t *testing.T) {
	ch := NewLastValue()

	changed, err := ch.Update([]any{"hello"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, ch.IsAvailable())

	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestLastValue_SequentialWritesKeepLatest(t *testing.T) {
	ch := NewLastValue()

	_, err := ch.Update([]any{"a"})
	require.NoError(t, err)
	_, err = ch.Update([]any{"b"})
	require.NoError(t, err)

	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestLastValue_ConcurrentWritesConflict(t *testing.T) {
	ch := NewLastValue()

	_, err := ch.Update([]any{"a", "b"})
	require.Error(t, err)

	var iue *InvalidUpdateError
	require.True(t, errors.As(err, &iue))
	assert.Equal(t, 2, iue.Writes)

	// The conflict must not leave a partial value behind.
	assert.False(t, ch.IsAvailable())
}

func TestLastValue_EmptyUpdateIsNoop(t *testing.T) {
	ch := NewLastValue()

	changed, err := ch.Update(nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, ch.IsAvailable())
}

func TestLastValue_Default(t *testing.T) {
	ch := NewLastValueWithDefault(42)

	assert.True(t, ch.IsAvailable())

	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// The default is configuration, not state.
	_, err = ch.Checkpoint()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = ch.Update([]any{7})
	require.NoError(t, err)
	v, err = ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestLastValue_CheckpointRestore(t *testing.T) {
	ch := NewLastValue()
	_, err := ch.Update([]any{"state"})
	require.NoError(t, err)

	snap, err := ch.Checkpoint()
	require.NoError(t, err)

	restored := NewLastValue()
	require.NoError(t, restored.Restore(snap))

	v, err := restored.Get()
	require.NoError(t, err)
	assert.Equal(t, "state", v)
}

func TestLastValue_CopyIsIndependent(t *testing.T) {
	ch := NewLastValue()
	_, err := ch.Update([]any{1})
	require.NoError(t, err)

	clone := ch.Copy()
	_, err = clone.Update([]any{2})
	require.NoError(t, err)

	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	cv, err := clone.Get()
	require.NoError(t, err)
	assert.Equal(t, 2, cv)
}
