package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapByteStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed int
}

func newMapByteStore() *mapByteStore {
	return &mapByteStore{data: make(map[string][]byte)}
}

func (m *mapByteStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *mapByteStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapByteStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapByteStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *mapByteStore) Close() error {
	m.closed++
	return nil
}

func newTestKV() (*KVStorage, *mapByteStore) {
	bs := newMapByteStore()
	return NewKVStorage("test", bs, zerolog.Nop()), bs
}

func TestKVStoragePushAndGetList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Push(ctx, "k", &WindowMetadata{WindowElements: i}, "v"+string(rune('0'+i))))
	}

	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"v1", "v2", "v3"}, list)

	md, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, 3, md.WindowElements)
}

func TestKVStorageMissingKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	list, err := s.GetList(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, list)

	md, err := s.GetMetadata(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestKVStorageSliceTime(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	for _, ts := range []int64{100, 200, 300, 400} {
		require.NoError(t, s.Push(ctx, "k", &WindowMetadata{EventTime: Int64(ts)}, ts))
	}
	require.NoError(t, s.SliceTime(ctx, "k", 250))

	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(300), int64(400)}, list)
}

func TestKVStorageSliceCountAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Push(ctx, "k", &WindowMetadata{}, v))
	}

	removed, err := s.SliceCountAndGet(ctx, "k", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, removed)

	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "d", "e"}, list)

	removed, err = s.SliceCountAndGet(ctx, "k", 10)
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "d", "e"}, removed)
}

func TestKVStorageFlushVersusFlushWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	require.NoError(t, s.Push(ctx, "k", &WindowMetadata{WindowElements: 1}, "a"))
	require.NoError(t, s.FlushWindow(ctx, "k"))

	list, err := s.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, list)
	md, err := s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, md, "flushWindow keeps the metadata record")

	require.NoError(t, s.Flush(ctx, "k"))
	md, err = s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestKVStorageKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestKV()

	require.NoError(t, s.Push(ctx, "b", &WindowMetadata{}, 1))
	require.NoError(t, s.SetMetadata(ctx, "a", &WindowMetadata{}))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestKVStorageDisconnectIsIdempotent(t *testing.T) {
	s, bs := newTestKV()

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, bs.closed)

	_, err := s.GetList(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMetadataCodec(t *testing.T) {
	md := &WindowMetadata{
		WindowElements: 4,
		StartTimestamp: Int64(1000),
		EndTimestamp:   Int64(2000),
		EventTime:      Int64(1500),
	}
	buf, err := encodeMetadata(md)
	require.NoError(t, err)

	got, err := decodeMetadata(buf)
	require.NoError(t, err)
	assert.Equal(t, md, got)
	assert.True(t, got.Open())
	assert.Nil(t, got.SlideSize)
}
