package pipeline

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/tarungka/wirestream/internal/message"
)

// PayloadFunc maps a payload to a new one.
type PayloadFunc func(ctx context.Context, payload any) (any, error)

// Next emits payload downstream as a message derived from the current one.
type Next func(ctx context.Context, payload any) error

// PayloadHandler is the payload level counterpart of Handler.
type PayloadHandler func(ctx context.Context, payload any, next Next) error

// Lift turns a payload level handler into a stage handler. Emitted
// payloads keep the metadata and global state of the incoming message.
func Lift(h PayloadHandler) Handler {
	return func(ctx context.Context, msg *message.Message, emit Emit) error {
		return h(ctx, msg.Payload, func(ctx context.Context, payload any) error {
			return emit(ctx, msg.Derive(payload))
		})
	}
}

// Fn replaces the payload with the result of f.
func (t *Task) Fn(f PayloadFunc) *Task {
	return t.AppendStage("fn", func(ctx context.Context, msg *message.Message, emit Emit) error {
		out, err := f(ctx, msg.Payload)
		if err != nil {
			return err
		}
		return emit(ctx, msg.Derive(out))
	})
}

// FnRaw replaces the message with the result of f. A nil result forwards
// the incoming message, so f may modify it in place.
func (t *Task) FnRaw(f func(ctx context.Context, msg *message.Message) (*message.Message, error)) *Task {
	return t.AppendStage("fnRaw", func(ctx context.Context, msg *message.Message, emit Emit) error {
		out, err := f(ctx, msg)
		if err != nil {
			return err
		}
		if out == nil {
			out = msg
		}
		return emit(ctx, out)
	})
}

// Tap calls f for its side effect and forwards the message unchanged.
func (t *Task) Tap(f func(ctx context.Context, payload any) error) *Task {
	return t.AppendStage("tap", func(ctx context.Context, msg *message.Message, emit Emit) error {
		if err := f(ctx, msg.Payload); err != nil {
			return err
		}
		return emit(ctx, msg)
	})
}

// Filter forwards the messages whose payload satisfies keep.
func (t *Task) Filter(keep func(ctx context.Context, payload any) (bool, error)) *Task {
	return t.AppendStage("filter", func(ctx context.Context, msg *message.Message, emit Emit) error {
		ok, err := keep(ctx, msg.Payload)
		if err != nil || !ok {
			return err
		}
		return emit(ctx, msg)
	})
}

// Print logs every payload at info level.
func (t *Task) Print() *Task {
	l := t.logger
	return t.AppendStage("print", func(ctx context.Context, msg *message.Message, emit Emit) error {
		l.Info().Str("msg", msg.ID.String()).Interface("payload", msg.Payload).Interface("metadata", msg.Metadata).Msg("print")
		return emit(ctx, msg)
	})
}

// Control hands the payload and the downstream continuation to h, which
// decides what to emit and how often.
func (t *Task) Control(h PayloadHandler) *Task {
	return t.AppendStage("control", Lift(h))
}

// ControlRaw is Control working on whole messages.
func (t *Task) ControlRaw(h Handler) *Task {
	return t.AppendStage("controlRaw", h)
}

// KeyBy sets the partitioning key used by window stages.
func (t *Task) KeyBy(key func(payload any) string) *Task {
	return t.AppendStage("keyBy", func(ctx context.Context, msg *message.Message, emit Emit) error {
		return emit(ctx, msg.With(message.KeyField, key(msg.Payload)))
	})
}

// WithDefaultKey assigns message.DefaultKey to messages without a key.
func (t *Task) WithDefaultKey() *Task {
	return t.AppendStage("withDefaultKey", func(ctx context.Context, msg *message.Message, emit Emit) error {
		if _, ok := msg.Metadata[message.KeyField]; ok {
			return emit(ctx, msg)
		}
		return emit(ctx, msg.With(message.KeyField, message.DefaultKey))
	})
}

// WithEventTime stamps the event time time windows use.
func (t *Task) WithEventTime(eventTime func(payload any) time.Time) *Task {
	return t.AppendStage("withEventTime", func(ctx context.Context, msg *message.Message, emit Emit) error {
		return emit(ctx, msg.With(message.EventTimeField, eventTime(msg.Payload)))
	})
}

// SetGlobalState merges state into the global state of each message,
// creating one when the message carries none.
func (t *Task) SetGlobalState(state message.GlobalState) *Task {
	return t.AppendStage("setGlobalState", func(ctx context.Context, msg *message.Message, emit Emit) error {
		if msg.GlobalState == nil {
			msg.GlobalState = make(message.GlobalState, len(state))
		}
		maps.Copy(msg.GlobalState, state)
		return emit(ctx, msg)
	})
}

// Each emits every element of an array payload as its own message, in
// order, waiting for each to drain before the next.
func (t *Task) Each() *Task {
	return t.AppendStage("each", func(ctx context.Context, msg *message.Message, emit Emit) error {
		items, err := toSlice(msg.Payload)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := emit(ctx, msg.Derive(item)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sink hands each message to write and then forwards it, so stages may
// follow a sink.
func (t *Task) Sink(write func(ctx context.Context, msg *message.Message) error) *Task {
	return t.AppendStage("sink", func(ctx context.Context, msg *message.Message, emit Emit) error {
		if err := write(ctx, msg); err != nil {
			return err
		}
		return emit(ctx, msg)
	})
}

// Branch runs a clone of every message through each branch in turn. What a
// branch emits past its last stage continues after the Branch stage.
func (t *Task) Branch(branches ...func(*Task) *Task) *Task {
	resume := t.emitAt(t.nextIndex() + 1)
	children := make([]*Task, 0, len(branches))
	for i, build := range branches {
		child := &Task{
			name:   fmt.Sprintf("%s/branch-%d", t.name, i),
			logger: t.logger.With().Int("branch", i).Logger(),
			tail:   resume,
			life:   t.life,
		}
		if built := build(child); built != nil {
			child = built
		}
		children = append(children, child)
	}

	return t.AppendStage("branch", func(ctx context.Context, msg *message.Message, _ Emit) error {
		for _, child := range children {
			if err := child.forward(ctx, 0, msg.Clone()); err != nil {
				return err
			}
		}
		return nil
	})
}

// toSlice accepts any slice or array payload.
func toSlice(payload any) ([]any, error) {
	if items, ok := payload.([]any); ok {
		return items, nil
	}
	v := reflect.ValueOf(payload)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: got %T", ErrNotArray, payload)
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}
