package pipeline

import (
	"context"
	"fmt"

	"github.com/tarungka/wirestream/internal/message"
	"golang.org/x/sync/errgroup"
)

// Worker processes one element of an array payload.
type Worker func(ctx context.Context, item any) (any, error)

// ErrorHandler recovers a failed worker invocation of ParallelizeCatch.
// index is the position of item inside chunk.
type ErrorHandler func(ctx context.Context, err error, item any, index int, chunk []any) (any, error)

// RaceErrorHandler recovers a race whose first settled invocation failed.
type RaceErrorHandler func(ctx context.Context, err error, items []any) (any, error)

type parallelConfig struct {
	maxChunkSize  int // 0 is unbounded
	flushPerChunk bool
	keepErrors    bool
	err           error
}

type ParallelOption func(*parallelConfig)

// WithMaxChunkSize bounds the number of concurrent worker invocations.
func WithMaxChunkSize(n int) ParallelOption {
	return func(c *parallelConfig) {
		if n < 1 {
			c.err = fmt.Errorf("%w: got %d", ErrInvalidChunkSize, n)
			return
		}
		c.maxChunkSize = n
	}
}

// WithFlushPerChunk emits the results of every chunk as its own message
// instead of one message for the whole array.
func WithFlushPerChunk() ParallelOption {
	return func(c *parallelConfig) {
		c.flushPerChunk = true
	}
}

// WithKeepErrors keeps recovered values in the output. Without it elements
// whose worker failed are dropped.
func WithKeepErrors() ParallelOption {
	return func(c *parallelConfig) {
		c.keepErrors = true
	}
}

func (t *Task) parallelConfig(op string, opts []ParallelOption) *parallelConfig {
	c := &parallelConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.err != nil {
		t.fail(fmt.Errorf("%s: %w", op, c.err))
	}
	return c
}

// chunks splits items into contiguous runs of at most size elements.
func chunks(items []any, size int) [][]any {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]any{items}
	}
	out := make([][]any, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

func (t *Task) trackWorker() func() {
	g := workersInFlight.WithLabelValues(t.name)
	g.Inc()
	return g.Dec
}

// collector gathers chunk results and emits them either per chunk or once
// at the end.
type collector struct {
	msg     *message.Message
	emit    Emit
	flush   bool
	results []any
}

func (c *collector) add(ctx context.Context, chunk []any) error {
	if c.flush {
		return c.emit(ctx, c.msg.Derive(chunk))
	}
	c.results = append(c.results, chunk...)
	return nil
}

func (c *collector) done(ctx context.Context) error {
	if c.flush {
		return nil
	}
	return c.emit(ctx, c.msg.Derive(c.results))
}

// Parallelize maps worker over an array payload. Chunks run one after the
// other, the elements of a chunk run concurrently. Results keep the input
// order. The first worker error aborts the message.
func (t *Task) Parallelize(worker Worker, opts ...ParallelOption) *Task {
	cfg := t.parallelConfig("parallelize", opts)

	return t.AppendStage("parallelize", func(ctx context.Context, msg *message.Message, emit Emit) error {
		items, err := toSlice(msg.Payload)
		if err != nil {
			return err
		}
		c := &collector{msg: msg, emit: emit, flush: cfg.flushPerChunk, results: make([]any, 0, len(items))}

		for _, chunk := range chunks(items, cfg.maxChunkSize) {
			out := make([]any, len(chunk))
			g, gctx := errgroup.WithContext(ctx)
			for i, item := range chunk {
				i, item := i, item
				g.Go(func() error {
					defer t.trackWorker()()
					r, err := worker(gctx, item)
					if err != nil {
						return err
					}
					out[i] = r
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if err := c.add(ctx, out); err != nil {
				return err
			}
		}
		return c.done(ctx)
	})
}

// ParallelizeCatch is Parallelize where each failed invocation is handed
// to onError instead of aborting its siblings.
func (t *Task) ParallelizeCatch(worker Worker, onError ErrorHandler, opts ...ParallelOption) *Task {
	cfg := t.parallelConfig("parallelizeCatch", opts)
	const name = "parallelizeCatch"

	return t.AppendStage(name, func(ctx context.Context, msg *message.Message, emit Emit) error {
		items, err := toSlice(msg.Payload)
		if err != nil {
			return err
		}
		c := &collector{msg: msg, emit: emit, flush: cfg.flushPerChunk, results: make([]any, 0, len(items))}

		for _, chunk := range chunks(items, cfg.maxChunkSize) {
			out := make([]any, len(chunk))
			errs := make([]error, len(chunk))
			var g errgroup.Group
			for i, item := range chunk {
				i, item := i, item
				g.Go(func() error {
					defer t.trackWorker()()
					out[i], errs[i] = worker(ctx, item)
					return nil
				})
			}
			_ = g.Wait()

			kept := make([]any, 0, len(chunk))
			for i := range chunk {
				if errs[i] == nil {
					kept = append(kept, out[i])
					continue
				}
				recoveredErrors.WithLabelValues(t.name, name).Inc()
				v, err := onError(ctx, errs[i], chunk[i], i, chunk)
				if err != nil {
					return err
				}
				if cfg.keepErrors {
					kept = append(kept, v)
				}
			}
			if err := c.add(ctx, kept); err != nil {
				return err
			}
		}
		return c.done(ctx)
	})
}

type settled struct {
	value any
	err   error
}

// race starts worker on every item and returns the first invocation to
// settle. The others keep running and their results are discarded.
func (t *Task) race(ctx context.Context, worker Worker, items []any) (settled, error) {
	// buffered so losers never block
	results := make(chan settled, len(items))
	for _, item := range items {
		item := item
		go func() {
			defer t.trackWorker()()
			v, err := worker(ctx, item)
			results <- settled{value: v, err: err}
		}()
	}
	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		return settled{}, ctx.Err()
	}
}

// Race emits the value of whichever invocation settles first. If that one
// failed the message fails. An empty array emits nothing.
func (t *Task) Race(worker Worker) *Task {
	return t.AppendStage("race", func(ctx context.Context, msg *message.Message, emit Emit) error {
		items, err := toSlice(msg.Payload)
		if err != nil || len(items) == 0 {
			return err
		}
		first, err := t.race(ctx, worker, items)
		if err != nil {
			return err
		}
		if first.err != nil {
			return first.err
		}
		return emit(ctx, msg.Derive(first.value))
	})
}

// RaceCatch is Race where a failed winner is handed to onError once. The
// recovered value is emitted only when keepErrors is set.
func (t *Task) RaceCatch(worker Worker, onError RaceErrorHandler, keepErrors bool) *Task {
	const name = "raceCatch"
	return t.AppendStage(name, func(ctx context.Context, msg *message.Message, emit Emit) error {
		items, err := toSlice(msg.Payload)
		if err != nil || len(items) == 0 {
			return err
		}
		first, err := t.race(ctx, worker, items)
		if err != nil {
			return err
		}
		if first.err == nil {
			return emit(ctx, msg.Derive(first.value))
		}

		recoveredErrors.WithLabelValues(t.name, name).Inc()
		v, err := onError(ctx, first.err, items)
		if err != nil || !keepErrors {
			return err
		}
		return emit(ctx, msg.Derive(v))
	})
}
