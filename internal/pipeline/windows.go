package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/storage"
	"github.com/tarungka/wirestream/internal/window"
	"github.com/tarungka/wirestream/internal/window/inactivity"
)

type windowConfig struct {
	inactivity time.Duration
	now        func() time.Time
}

type WindowOption func(*windowConfig)

// WithInactivity force closes the window of a key that received no push
// for d. The emission continues after the window stage.
func WithInactivity(d time.Duration) WindowOption {
	return func(c *windowConfig) {
		c.inactivity = d
	}
}

// WithClock sets the clock used for messages without an event time.
func WithClock(now func() time.Time) WindowOption {
	return func(c *windowConfig) {
		c.now = now
	}
}

// hintFunc derives the push hint from a message.
type hintFunc func(msg *message.Message) window.Hint

// TumblingWindowCount emits every maxSize messages of a key.
func (t *Task) TumblingWindowCount(store storage.Storage, maxSize int, opts ...WindowOption) *Task {
	if maxSize < 1 {
		return t.fail(fmt.Errorf("tumbling count window: %w: maxSize %d", window.ErrInvalidHint, maxSize))
	}
	hint := window.CountHint(maxSize, 0)
	return t.windowStage(window.TumblingCount, store, newWindowConfig(opts), func(*message.Message) window.Hint { return hint })
}

// SlidingWindowCount emits the last maxSize messages of a key once full and
// then every slideSize messages.
func (t *Task) SlidingWindowCount(store storage.Storage, maxSize, slideSize int, opts ...WindowOption) *Task {
	if maxSize < 1 || slideSize < 1 {
		return t.fail(fmt.Errorf("sliding count window: %w: maxSize %d slideSize %d", window.ErrInvalidHint, maxSize, slideSize))
	}
	hint := window.CountHint(maxSize, slideSize)
	return t.windowStage(window.SlidingCount, store, newWindowConfig(opts), func(*message.Message) window.Hint { return hint })
}

// TumblingWindowTime groups messages by event time into aligned windows of
// length size.
func (t *Task) TumblingWindowTime(store storage.Storage, size time.Duration, opts ...WindowOption) *Task {
	if size.Milliseconds() < 1 {
		return t.fail(fmt.Errorf("tumbling time window: %w: size %s", window.ErrInvalidHint, size))
	}
	cfg := newWindowConfig(opts)
	return t.windowStage(window.TumblingTime, store, cfg, func(msg *message.Message) window.Hint {
		return window.TimeHint(cfg.eventTime(msg), size)
	})
}

// SlidingWindowTime groups messages by event time into windows of length
// size advancing by slide.
func (t *Task) SlidingWindowTime(store storage.Storage, size, slide time.Duration, opts ...WindowOption) *Task {
	if size.Milliseconds() < 1 || slide.Milliseconds() < 1 {
		return t.fail(fmt.Errorf("sliding time window: %w: size %s slide %s", window.ErrInvalidHint, size, slide))
	}
	cfg := newWindowConfig(opts)
	return t.windowStage(window.SlidingTime, store, cfg, func(msg *message.Message) window.Hint {
		return window.SlidingHint(cfg.eventTime(msg), size, slide)
	})
}

// SessionWindow buffers the messages of a key until it stays quiet for
// gap.
func (t *Task) SessionWindow(store storage.Storage, gap time.Duration, opts ...WindowOption) *Task {
	if gap <= 0 {
		return t.fail(fmt.Errorf("session window: %w: gap %s", window.ErrInvalidHint, gap))
	}
	cfg := newWindowConfig(opts)
	cfg.inactivity = gap
	return t.windowStage(window.Session, store, cfg, func(*message.Message) window.Hint { return window.Hint{} })
}

// FixedWindow emits batches of maxSize messages per key. Count and drain
// are one atomic step in the backend, so tasks in several processes may
// share a key.
func (t *Task) FixedWindow(drainer storage.Drainer, maxSize int) *Task {
	f, err := window.NewFixed(drainer, maxSize)
	if err != nil {
		return t.fail(fmt.Errorf("fixed window: %w", err))
	}
	return t.AppendStage("fixedWindow", func(ctx context.Context, msg *message.Message, emit Emit) error {
		em, err := f.Push(ctx, msg.Key(), msg.Payload)
		if err != nil || em == nil {
			return err
		}
		windowEmissions.WithLabelValues(t.name, "fixed", "push").Inc()
		return emit(ctx, emissionMessage(em, msg.GlobalState))
	})
}

func newWindowConfig(opts []WindowOption) *windowConfig {
	c := &windowConfig{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// eventTime falls back to the clock for messages without an event time.
func (c *windowConfig) eventTime(msg *message.Message) time.Time {
	if et, ok := msg.EventTime(); ok {
		return et
	}
	return c.now()
}

func (t *Task) windowStage(kind window.Kind, store storage.Storage, cfg *windowConfig, hint hintFunc) *Task {
	w, err := window.New(kind, store, window.WithLogger(t.logger))
	if err != nil {
		return t.fail(err)
	}

	name := stageName(kind)
	next := t.emitAt(t.nextIndex() + 1)
	l := t.logger.With().Str("window", kind.String()).Logger()

	var timer *inactivity.Timer
	if cfg.inactivity > 0 {
		timer = inactivity.New(l)
		t.OnClose(func() error {
			timer.Stop()
			return nil
		})
	}

	fire := func(key string) {
		ctx := context.Background()
		em, err := w.OnInactivityEmit(ctx, key)
		if err != nil {
			backgroundErrors.WithLabelValues(t.name, kind.String()).Inc()
			l.Error().Err(err).Str("key", key).Msg("error when closing inactive window")
			return
		}
		if em == nil || len(em.Payload) == 0 {
			return
		}
		windowEmissions.WithLabelValues(t.name, kind.String(), "inactivity").Inc()
		if err := next(ctx, emissionMessage(em, nil)); err != nil {
			backgroundErrors.WithLabelValues(t.name, kind.String()).Inc()
			l.Error().Err(err).Str("key", key).Msg("error when forwarding inactivity emission")
		}
	}

	return t.AppendStage(name, func(ctx context.Context, msg *message.Message, emit Emit) error {
		key := msg.Key()
		em, err := w.Push(ctx, key, msg.Payload, hint(msg))
		if err != nil {
			return err
		}

		if timer != nil {
			if em != nil && kind == window.TumblingCount {
				// nothing is left to close
				timer.Disarm(key)
			} else {
				timer.Arm(key, cfg.inactivity, fire)
			}
		}

		if em == nil || len(em.Payload) == 0 {
			return nil
		}
		windowEmissions.WithLabelValues(t.name, kind.String(), "push").Inc()
		return emit(ctx, emissionMessage(em, msg.GlobalState))
	})
}

// stageName renders tumbling_count as tumblingCountWindow.
func stageName(kind window.Kind) string {
	parts := strings.Split(kind.String(), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "") + "Window"
}

// emissionMessage turns an emission into the message sent downstream: the
// window contents as payload and the window description as metadata.
func emissionMessage(em *window.Emission, state message.GlobalState) *message.Message {
	md := em.MetadataMap()
	md[message.KeyField] = em.Metadata.WindowKey
	return message.New(em.Payload, md, state)
}
