package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wirestream/internal/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(&Config{})
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestWindowStorageOnBolt(t *testing.T) {
	ctx := context.Background()
	s, err := New(&Config{Path: filepath.Join(t.TempDir(), "windows.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Disconnect() })

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Push(ctx, "k", &storage.WindowMetadata{WindowElements: i}, i))
	}

	removed, err := s.SliceCountAndGet(ctx, "k", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, removed)

	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, list)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, s.Flush(ctx, "k"))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "windows.db")

	s, err := New(&Config{Path: path, Bucket: "custom"})
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(ctx, "k", &storage.WindowMetadata{WindowElements: 7}))
	require.NoError(t, s.Disconnect())

	s, err = New(&Config{Path: path, Bucket: "custom"})
	require.NoError(t, err)
	defer s.Disconnect()

	md, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, 7, md.WindowElements)
}
