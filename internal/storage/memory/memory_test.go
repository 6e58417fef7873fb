package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wirestream/internal/storage"
)

func TestPushGetListOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Push(ctx, "k", &storage.WindowMetadata{WindowElements: i + 1}, i))
	}
	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3, 4}, list)

	md, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, md.WindowElements)
}

func TestMetadataIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	md := &storage.WindowMetadata{WindowElements: 1}
	require.NoError(t, s.SetMetadata(ctx, "k", md))
	md.WindowElements = 99

	got, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, got.WindowElements)
}

func TestSlices(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, ts := range []int64{10, 20, 30, 40, 50} {
		require.NoError(t, s.Push(ctx, "k", &storage.WindowMetadata{EventTime: storage.Int64(ts)}, ts))
	}

	require.NoError(t, s.SliceTime(ctx, "k", 25))
	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30), int64(40), int64(50)}, list)

	removed, err := s.SliceCountAndGet(ctx, "k", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30)}, removed)

	list, err = s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(40), int64(50)}, list)
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Push(ctx, "k", &storage.WindowMetadata{WindowElements: 1}, "a"))
	require.NoError(t, s.FlushWindow(ctx, "k"))

	md, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, md)

	require.NoError(t, s.Flush(ctx, "k"))
	md, err = s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, md)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAppendAndDrainExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	const writers, maxSize = 40, 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		batches [][]any
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			drained, err := s.AppendAndDrain(ctx, "k", v, maxSize)
			assert.NoError(t, err)
			if drained != nil {
				mu.Lock()
				batches = append(batches, drained)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, batches, writers/maxSize)
	seen := make(map[any]bool)
	for _, b := range batches {
		assert.Len(t, b, maxSize)
		for _, v := range b {
			assert.False(t, seen[v], "value %v drained twice", v)
			seen[v] = true
		}
	}
}

func TestDisconnect(t *testing.T) {
	s := New()
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	err := s.Push(context.Background(), "k", &storage.WindowMetadata{}, 1)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
