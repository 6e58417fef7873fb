package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wirestream/internal/storage"
	"github.com/tarungka/wirestream/internal/storage/memory"
)

func newWindow(t *testing.T, kind Kind) (Window, *memory.Storage) {
	t.Helper()
	store := memory.New()
	w, err := New(kind, store)
	require.NoError(t, err)
	return w, store
}

func at(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{TumblingCount, TumblingTime, SlidingCount, SlidingTime, Session} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("hopping")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Kind(42), memory.New())
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Session, nil)
	assert.Error(t, err)
}

func TestTumblingCountWindow(t *testing.T) {
	ctx := context.Background()
	w, store := newWindow(t, TumblingCount)
	hint := CountHint(3, 0)

	var emissions []*Emission
	for i := 1; i <= 7; i++ {
		em, err := w.Push(ctx, "k", i, hint)
		require.NoError(t, err)
		if em != nil {
			emissions = append(emissions, em)
		}
	}

	require.Len(t, emissions, 2)
	assert.Equal(t, []any{1, 2, 3}, emissions[0].Payload)
	assert.Equal(t, []any{4, 5, 6}, emissions[1].Payload)
	assert.Equal(t, 3, emissions[0].Metadata.WindowElements)
	assert.Equal(t, "k", emissions[0].Metadata.WindowKey)
	assert.Nil(t, emissions[0].Metadata.StartTime)

	size, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	list, err := store.GetList(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{7}, list)
}

func TestTumblingCountWindowKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, TumblingCount)
	hint := CountHint(2, 0)

	em, err := w.Push(ctx, "a", 1, hint)
	require.NoError(t, err)
	assert.Nil(t, em)
	em, err = w.Push(ctx, "b", 2, hint)
	require.NoError(t, err)
	assert.Nil(t, em)
	em, err = w.Push(ctx, "a", 3, hint)
	require.NoError(t, err)
	require.NotNil(t, em)
	assert.Equal(t, []any{1, 3}, em.Payload)
}

func TestCountWindowsRejectInvalidHints(t *testing.T) {
	ctx := context.Background()

	tc, _ := newWindow(t, TumblingCount)
	_, err := tc.Push(ctx, "k", 1, CountHint(0, 0))
	assert.ErrorIs(t, err, ErrInvalidHint)

	sc, _ := newWindow(t, SlidingCount)
	_, err = sc.Push(ctx, "k", 1, CountHint(3, 0))
	assert.ErrorIs(t, err, ErrInvalidHint)
}

func TestSlidingCountWindow(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, SlidingCount)
	hint := CountHint(3, 2)

	emitted := map[int][]any{}
	for i := 1; i <= 7; i++ {
		em, err := w.Push(ctx, "k", i, hint)
		require.NoError(t, err)
		if em != nil {
			emitted[i] = em.Payload
		}
	}

	assert.Equal(t, map[int][]any{
		3: {1, 2, 3},
		5: {3, 4, 5},
		7: {5, 6, 7},
	}, emitted)

	size, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestTumblingTimeWindow(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, TumblingTime)
	size := time.Second

	push := func(ms int64, v any) *Emission {
		t.Helper()
		em, err := w.Push(ctx, "k", v, TimeHint(at(ms), size))
		require.NoError(t, err)
		return em
	}

	assert.Nil(t, push(1000, "a"))
	assert.Nil(t, push(1500, "b"))
	// the end bound still belongs to the window
	assert.Nil(t, push(2000, "c"))

	em := push(2001, "d")
	require.NotNil(t, em)
	assert.Equal(t, []any{"a", "b", "c"}, em.Payload)
	require.NotNil(t, em.Metadata.StartTime)
	assert.Equal(t, int64(1000), em.Metadata.StartTime.UnixMilli())
	assert.Equal(t, int64(2000), em.Metadata.EndTime.UnixMilli())
	assert.InDelta(t, 1.0, *em.Metadata.DurationSeconds, 1e-9)

	md := em.MetadataMap()
	assert.Equal(t, 3, md["windowElements"])
	assert.Equal(t, "k", md["windowKey"])

	list, err := w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"d"}, list)
}

func TestTumblingTimeWindowRejectsPushAtClosedEnd(t *testing.T) {
	ctx := context.Background()
	w, store := newWindow(t, TumblingTime)
	size := time.Second

	push := func(ms int64, v any) *Emission {
		t.Helper()
		em, err := w.Push(ctx, "k", v, TimeHint(at(ms), size))
		require.NoError(t, err)
		return em
	}

	assert.Nil(t, push(1000, "a"))
	em := push(2300, "c")
	require.NotNil(t, em)
	assert.Equal(t, []any{"a"}, em.Payload)

	// the new window [2000, 3000] starts at the closed window's end
	assert.Nil(t, push(2000, "atEnd"))
	list, err := w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, list)

	md, err := store.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md.Watermark)
	assert.Equal(t, int64(2000), *md.Watermark)
	assert.Equal(t, 1, md.WindowElements)
}

func TestTumblingTimeWindowDropsLateData(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, TumblingTime)
	size := time.Second

	_, err := w.Push(ctx, "k", "a", TimeHint(at(5000), size))
	require.NoError(t, err)

	em, err := w.Push(ctx, "k", "late", TimeHint(at(4999), size))
	require.NoError(t, err)
	assert.Nil(t, em)

	list, err := w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, list)
}

func TestTumblingTimeWindowInactivity(t *testing.T) {
	ctx := context.Background()
	w, store := newWindow(t, TumblingTime)
	size := time.Second

	for i, ms := range []int64{1000, 1200, 1400} {
		_, err := w.Push(ctx, "k", i, TimeHint(at(ms), size))
		require.NoError(t, err)
	}

	em, err := w.OnInactivityEmit(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2}, em.Payload)
	assert.Equal(t, int64(2000), em.Metadata.EndTime.UnixMilli())

	md, err := store.GetMetadata(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.False(t, md.Open())
	assert.Equal(t, int64(2000), *md.EventTime)

	// at and behind the watermark left by the closed window
	for _, ms := range []int64{1900, 2000} {
		em, err = w.Push(ctx, "k", "old", TimeHint(at(ms), size))
		require.NoError(t, err)
		assert.Nil(t, em)
	}
	list, err := w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = w.Push(ctx, "k", "new", TimeHint(at(2100), size))
	require.NoError(t, err)
	list, err = w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"new"}, list)
}

func TestSlidingTimeWindow(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, SlidingTime)
	size, slide := 2*time.Second, time.Second

	push := func(ms int64, v any) *Emission {
		t.Helper()
		em, err := w.Push(ctx, "k", v, SlidingHint(at(ms), size, slide))
		require.NoError(t, err)
		return em
	}

	// window [1000, 3000]; its end bound is inside
	assert.Nil(t, push(1000, "a"))
	assert.Nil(t, push(2500, "b"))
	assert.Nil(t, push(3000, "b2"))

	// advances one slide to [2000, 4000], keeping b and b2
	em := push(3100, "c")
	require.NotNil(t, em)
	assert.Equal(t, []any{"a", "b", "b2"}, em.Payload)
	assert.Equal(t, int64(1000), em.Metadata.StartTime.UnixMilli())

	list, err := w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "b2", "c"}, list)

	size2, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, size2)

	// jumps far ahead, trimming everything
	em = push(10_500, "d")
	require.NotNil(t, em)
	assert.Equal(t, []any{"b", "b2", "c"}, em.Payload)
	list, err = w.Close(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{"d"}, list)

	assert.Nil(t, push(1000, "late"))
}

func TestSlidingTimeWindowRejectsZeroSlide(t *testing.T) {
	w, _ := newWindow(t, SlidingTime)
	_, err := w.Push(context.Background(), "k", 1, Hint{StartTimestamp: 0, EndTimestamp: 10, EventTime: 1})
	assert.ErrorIs(t, err, ErrInvalidHint)
}

func TestSessionWindow(t *testing.T) {
	ctx := context.Background()
	w, store := newWindow(t, Session)

	for i := 0; i < 4; i++ {
		em, err := w.Push(ctx, "k", i, Hint{})
		require.NoError(t, err)
		assert.Nil(t, em)
	}

	size, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, size)

	em, err := w.OnInactivityEmit(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3}, em.Payload)
	assert.Equal(t, 4, em.Metadata.WindowElements)

	md, err := store.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, md)

	em, err = w.OnInactivityEmit(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, em.Payload)
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	w, _ := newWindow(t, TumblingCount)

	_, err := w.Push(ctx, "k", 1, CountHint(5, 0))
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx, "k"))

	size, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, size)
}

// failingStorage rejects the first fails pushes.
type failingStorage struct {
	*memory.Storage
	fails int
}

var errBackend = errors.New("backend down")

func (f *failingStorage) Push(ctx context.Context, key string, md *storage.WindowMetadata, value any) error {
	if f.fails > 0 {
		f.fails--
		return errBackend
	}
	return f.Storage.Push(ctx, key, md, value)
}

func TestPushPropagatesStorageErrors(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []Kind{TumblingCount, SlidingCount, Session} {
		t.Run(kind.String(), func(t *testing.T) {
			w, err := New(kind, &failingStorage{Storage: memory.New(), fails: 1})
			require.NoError(t, err)

			_, err = w.Push(ctx, "k", "lost", CountHint(2, 1))
			assert.ErrorIs(t, err, errBackend)

			// the failed push is not counted
			em, err := w.Push(ctx, "k", "b", CountHint(2, 1))
			require.NoError(t, err)
			assert.Nil(t, em)

			size, err := w.Size(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, 1, size)
		})
	}

	w, err := New(TumblingTime, &failingStorage{Storage: memory.New(), fails: 2})
	require.NoError(t, err)
	_, err = w.Push(ctx, "k", "a", TimeHint(at(1000), time.Second))
	assert.ErrorIs(t, err, errBackend)
	_, err = w.Push(ctx, "k", "b", TimeHint(at(1100), time.Second))
	assert.ErrorIs(t, err, errBackend)
	_, err = w.Push(ctx, "k", "c", TimeHint(at(1200), time.Second))
	require.NoError(t, err)
	size, err := w.Size(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestFixedWindowDrainsOnce(t *testing.T) {
	ctx := context.Background()
	f, err := NewFixed(memory.New(), 4)
	require.NoError(t, err)

	const pushes = 40
	var (
		mu      sync.Mutex
		batches [][]any
		wg      sync.WaitGroup
	)
	for i := 0; i < pushes; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			em, err := f.Push(ctx, "k", v)
			assert.NoError(t, err)
			if em != nil {
				mu.Lock()
				batches = append(batches, em.Payload)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, batches, pushes/4)
	seen := map[any]bool{}
	for _, b := range batches {
		assert.Len(t, b, 4)
		for _, v := range b {
			assert.False(t, seen[v])
			seen[v] = true
		}
	}
	assert.Len(t, seen, pushes)

	_, err = NewFixed(memory.New(), 0)
	assert.ErrorIs(t, err, ErrInvalidHint)
}

func TestHints(t *testing.T) {
	h := TimeHint(at(2500), time.Second)
	assert.Equal(t, int64(2000), h.StartTimestamp)
	assert.Equal(t, int64(3000), h.EndTimestamp)

	h = TimeHint(at(-1), time.Second)
	assert.Equal(t, int64(-1000), h.StartTimestamp)

	h = SlidingHint(at(2500), 3*time.Second, time.Second)
	assert.Equal(t, int64(2000), h.StartTimestamp)
	assert.Equal(t, int64(5000), h.EndTimestamp)
	assert.Equal(t, int64(1000), h.SlideDuration)
}
