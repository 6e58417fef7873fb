package pipeline

import (
	"context"
	"time"

	"github.com/tarungka/wirestream/internal/message"
)

// Source is an entry point. Produce builds one message per input item and
// passes it to emit, waiting for emit to return before producing the next
// item. It returns when the input is exhausted, ctx is done or emit fails.
type Source interface {
	Produce(ctx context.Context, emit Emit) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit Emit) error

func (f SourceFunc) Produce(ctx context.Context, emit Emit) error {
	return f(ctx, emit)
}

// FromSource sets the entry point Start drives.
func (t *Task) FromSource(src Source) *Task {
	t.source = src
	return t
}

// FromArray produces one message per element.
func (t *Task) FromArray(items []any) *Task {
	return t.FromSource(SourceFunc(func(ctx context.Context, emit Emit) error {
		for _, item := range items {
			if err := emit(ctx, rootMessage(item)); err != nil {
				return err
			}
		}
		return nil
	}))
}

// FromObject produces a single message carrying v, arrays included.
func (t *Task) FromObject(v any) *Task {
	return t.FromSource(SourceFunc(func(ctx context.Context, emit Emit) error {
		return emit(ctx, rootMessage(v))
	}))
}

// FromString produces a single message carrying s.
func (t *Task) FromString(s string) *Task {
	return t.FromObject(s)
}

// FromTimer produces fn(i) every interval, count times. A count below one
// keeps producing until ctx is done.
func (t *Task) FromTimer(interval time.Duration, count int, fn func(i int) any) *Task {
	return t.FromSource(SourceFunc(func(ctx context.Context, emit Emit) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 0; count < 1 || i < count; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := emit(ctx, rootMessage(fn(i))); err != nil {
				return err
			}
		}
		return nil
	}))
}

// rootMessage starts a new lineage with its own global state.
func rootMessage(payload any) *message.Message {
	return message.New(payload, nil, message.GlobalState{})
}
