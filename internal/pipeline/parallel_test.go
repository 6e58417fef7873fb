package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestParallelizeDoublesInOrder(t *testing.T) {
	out := &sinkCollector{}
	task := newTask(t).
		FromObject([]any{1, 2, 3, 4, 5}).
		Parallelize(double, WithMaxChunkSize(2)).
		Sink(out.write)

	require.NoError(t, task.Start(context.Background()))
	assert.Equal(t, []any{[]any{2, 4, 6, 8, 10}}, out.payloads())
}

func TestParallelizeKeepsOrderWithStaggeredWorkers(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
	}{
		{"unbounded", 0},
		{"chunks of 3", 3},
		{"chunks of 1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []ParallelOption
			if tt.chunkSize > 0 {
				opts = append(opts, WithMaxChunkSize(tt.chunkSize))
			}
			input := ints(8)
			out := &sinkCollector{}
			// later elements finish first
			task := newTask(t).
				Parallelize(func(_ context.Context, x any) (any, error) {
					time.Sleep(time.Duration(10-x.(int)) * 2 * time.Millisecond)
					return fmt.Sprint(x), nil
				}, opts...).
				Sink(out.write)

			require.NoError(t, task.Inject(context.Background(), input))
			require.Equal(t, 1, out.len())
			assert.Equal(t, []any{"1", "2", "3", "4", "5", "6", "7", "8"}, out.payloads()[0])
		})
	}
}

func TestParallelizeBoundsInFlightWorkers(t *testing.T) {
	const n, k = 10, 3
	var inFlight, peak atomic.Int32
	out := &sinkCollector{}
	task := newTask(t).
		Parallelize(func(_ context.Context, x any) (any, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return x, nil
		}, WithMaxChunkSize(k), WithFlushPerChunk()).
		Sink(out.write)

	require.NoError(t, task.Inject(context.Background(), ints(n)))
	assert.LessOrEqual(t, peak.Load(), int32(k))

	// ceil(10/3)
	got := out.payloads()
	require.Len(t, got, 4)
	var flat []any
	for _, c := range got {
		assert.LessOrEqual(t, len(c.([]any)), k)
		flat = append(flat, c.([]any)...)
	}
	assert.Equal(t, ints(n), flat)
}

func TestParallelizeEmptyInput(t *testing.T) {
	out := &sinkCollector{}
	task := newTask(t).Parallelize(double).Sink(out.write)
	require.NoError(t, task.Inject(context.Background(), []any{}))
	assert.Equal(t, []any{[]any{}}, out.payloads())

	flushed := &sinkCollector{}
	task = newTask(t).Parallelize(double, WithFlushPerChunk()).Sink(flushed.write)
	require.NoError(t, task.Inject(context.Background(), []any{}))
	assert.Zero(t, flushed.len())
}

func TestParallelizeFailures(t *testing.T) {
	t.Run("not an array", func(t *testing.T) {
		err := newTask(t).Parallelize(double).Inject(context.Background(), 5)
		assert.ErrorIs(t, err, ErrNotArray)
	})

	t.Run("invalid chunk size", func(t *testing.T) {
		task := newTask(t).Parallelize(double, WithMaxChunkSize(0))
		assert.ErrorIs(t, task.Err(), ErrInvalidChunkSize)
		assert.ErrorIs(t, task.Inject(context.Background(), ints(2)), ErrInvalidChunkSize)
		assert.ErrorIs(t, task.FromObject(ints(2)).Start(context.Background()), ErrInvalidChunkSize)
	})

	t.Run("worker error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		out := &sinkCollector{}
		task := newTask(t).
			Parallelize(func(_ context.Context, x any) (any, error) {
				if x.(int) == 4 {
					return nil, boom
				}
				return x, nil
			}, WithMaxChunkSize(2), WithFlushPerChunk()).
			Sink(out.write)

		err := task.Inject(context.Background(), ints(6))
		assert.ErrorIs(t, err, boom)
		// the first chunk was already flushed, later chunks never ran
		assert.Equal(t, []any{[]any{1, 2}}, out.payloads())
	})
}

func failOdd(_ context.Context, x any) (any, error) {
	if x.(int)%2 == 1 {
		return nil, errors.New("odd")
	}
	return x, nil
}

func TestParallelizeCatchDropsFailures(t *testing.T) {
	var handled atomic.Int32
	out := &sinkCollector{}
	task := newTask(t).
		ParallelizeCatch(failOdd, func(_ context.Context, err error, item any, index int, chunk []any) (any, error) {
			handled.Add(1)
			assert.EqualError(t, err, "odd")
			assert.Equal(t, item, chunk[index])
			return -1, nil
		}, WithMaxChunkSize(4)).
		Sink(out.write)

	// 10 elements, 5 of them odd
	require.NoError(t, task.Inject(context.Background(), ints(10)))
	assert.Equal(t, int32(5), handled.Load())
	assert.Equal(t, []any{[]any{2, 4, 6, 8, 10}}, out.payloads())
}

func TestParallelizeCatchKeepsRecoveredValues(t *testing.T) {
	out := &sinkCollector{}
	task := newTask(t).
		ParallelizeCatch(failOdd, func(_ context.Context, _ error, item any, _ int, _ []any) (any, error) {
			return item.(int) - 1, nil
		}, WithMaxChunkSize(5), WithFlushPerChunk(), WithKeepErrors()).
		Sink(out.write)

	require.NoError(t, task.Inject(context.Background(), ints(10)))
	assert.Equal(t, []any{
		[]any{0, 2, 2, 4, 4},
		[]any{6, 6, 8, 8, 10},
	}, out.payloads())
}

func TestParallelizeCatchHandlerError(t *testing.T) {
	giveUp := errors.New("give up")
	task := newTask(t).ParallelizeCatch(failOdd, func(context.Context, error, any, int, []any) (any, error) {
		return nil, giveUp
	})
	assert.ErrorIs(t, task.Inject(context.Background(), ints(3)), giveUp)
}

// slowUnlessFirst answers 1 at once and blocks every other element until
// release is closed.
func slowUnlessFirst(release <-chan struct{}, wg *sync.WaitGroup) Worker {
	return func(_ context.Context, x any) (any, error) {
		defer wg.Done()
		if x.(int) != 1 {
			<-release
		}
		return x, nil
	}
}

func TestRaceEmitsFirstSettled(t *testing.T) {
	release := make(chan struct{})
	var workers sync.WaitGroup
	workers.Add(5)
	defer func() {
		close(release)
		workers.Wait()
	}()

	out := &sinkCollector{}
	task := newTask(t).
		Race(slowUnlessFirst(release, &workers)).
		Sink(out.write)

	done := make(chan error, 1)
	go func() {
		done <- task.Inject(context.Background(), []any{2, 3, 1, 4, 5})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("race blocked on slow workers")
	}
	assert.Equal(t, []any{1}, out.payloads())
}

func TestRaceFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, any) (any, error) { return nil, boom }

	t.Run("winner error propagates", func(t *testing.T) {
		assert.ErrorIs(t, newTask(t).Race(failing).Inject(context.Background(), ints(3)), boom)
	})

	t.Run("not an array", func(t *testing.T) {
		assert.ErrorIs(t, newTask(t).Race(failing).Inject(context.Background(), "x"), ErrNotArray)
	})

	t.Run("empty input emits nothing", func(t *testing.T) {
		out := &sinkCollector{}
		task := newTask(t).Race(double).Sink(out.write)
		require.NoError(t, task.Inject(context.Background(), []any{}))
		assert.Zero(t, out.len())
	})
}

func TestRaceCatch(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, any) (any, error) { return nil, boom }
	onErr := func(_ context.Context, err error, items []any) (any, error) {
		assert.ErrorIs(t, err, boom)
		return len(items), nil
	}

	tests := []struct {
		name       string
		worker     Worker
		keepErrors bool
		want       []any
	}{
		{"success", double, false, nil},
		{"recovered and kept", failing, true, []any{3}},
		{"recovered and dropped", failing, false, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &sinkCollector{}
			task := newTask(t).RaceCatch(tt.worker, onErr, tt.keepErrors).Sink(out.write)
			require.NoError(t, task.Inject(context.Background(), []any{1, 1, 1}))

			if tt.want == nil {
				assert.Equal(t, []any{2}, out.payloads())
				return
			}
			assert.Equal(t, tt.want, out.payloads())
		})
	}
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 2))
	assert.Len(t, chunks(ints(5), 0), 1)
	assert.Len(t, chunks(ints(5), 10), 1)
	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunks(ints(5), 2))
}
