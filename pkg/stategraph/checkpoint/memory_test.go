package checkpoint_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
)

func TestMemoryStore_Len(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Equal(t, 0, store.Len())

	now := time.Now().UTC()
	putEnvelope(t, store, "thread-1", "cp-1", 0, now, []byte("a"))
	assert.Equal(t, 1, store.Len())

	putEnvelope(t, store, "thread-1", "cp-2", 1, now.Add(time.Second), []byte("b"))
	putEnvelope(t, store, "thread-2", "cp-3", 0, now, []byte("c"))
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.DeleteThread(context.Background(), "thread-1"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ConcurrentPuts(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			threadID := fmt.Sprintf("thread-%d", i%5)
			id := fmt.Sprintf("cp-%d", i)
			err := store.Put(ctx, checkpoint.Info{
				ThreadID:  threadID,
				ID:        id,
				Step:      i,
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			}, []byte(id))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())

	for i := range 5 {
		infos, err := store.List(ctx, fmt.Sprintf("thread-%d", i))
		require.NoError(t, err)
		assert.Len(t, infos, 10)
	}
}
