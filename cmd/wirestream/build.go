package main

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/config"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/pipeline"
	"github.com/tarungka/wirestream/internal/storage"
	"github.com/tarungka/wirestream/sinks"
)

// buildTask assembles source -> window -> sink as configured. Window
// emissions are split into one message per element and written to the sink
// in parallel chunks; elements the sink rejects are logged and dropped.
func buildTask(c *config.Config, store storage.Storage, src pipeline.Source, sink sinks.Sink, l zerolog.Logger) (*pipeline.Task, error) {
	opts := []pipeline.Option{pipeline.WithName(c.Name), pipeline.WithLogger(l)}
	if c.Parallel.RateLimitPerSec > 0 {
		opts = append(opts, pipeline.WithRateLimit(c.Parallel.RateLimitPerSec))
	}
	task := pipeline.New(opts...).FromSource(src).WithDefaultKey()

	if c.Window.Kind == config.WindowNone {
		task = task.Sink(sink.Write)
		return task, task.Err()
	}

	task, err := applyWindow(task, &c.Window, store)
	if err != nil {
		return nil, err
	}

	var popts []pipeline.ParallelOption
	if c.Parallel.MaxChunkSize > 0 {
		popts = append(popts, pipeline.WithMaxChunkSize(c.Parallel.MaxChunkSize))
	}
	task = task.
		FnRaw(splitEmission).
		ParallelizeCatch(writeElement(sink), dropElement(l), popts...).
		Tap(func(_ context.Context, written any) error {
			l.Debug().Int("written", len(written.([]any))).Msg("window written to sink")
			return nil
		})
	return task, task.Err()
}

func applyWindow(task *pipeline.Task, w *config.WindowConfig, store storage.Storage) (*pipeline.Task, error) {
	var wopts []pipeline.WindowOption
	if w.Inactivity > 0 && w.Kind != config.WindowSession {
		wopts = append(wopts, pipeline.WithInactivity(w.Inactivity))
	}

	switch w.Kind {
	case config.WindowTumblingCount:
		return task.TumblingWindowCount(store, w.MaxSize, wopts...), nil
	case config.WindowSlidingCount:
		return task.SlidingWindowCount(store, w.MaxSize, w.SlideSize, wopts...), nil
	case config.WindowTumblingTime:
		return task.TumblingWindowTime(store, w.Size, wopts...), nil
	case config.WindowSlidingTime:
		return task.SlidingWindowTime(store, w.Size, w.Slide, wopts...), nil
	case config.WindowSession:
		return task.SessionWindow(store, w.Inactivity), nil
	case config.WindowFixed:
		drainer, ok := store.(storage.Drainer)
		if !ok {
			return nil, fmt.Errorf("%w: storage %T cannot back a fixed window", config.ErrInvalid, store)
		}
		return task.FixedWindow(drainer, w.MaxSize), nil
	}
	return nil, fmt.Errorf("%w: unknown window.kind %q", config.ErrInvalid, w.Kind)
}

// splitEmission turns the window contents into messages that keep the
// window's key and description.
func splitEmission(_ context.Context, msg *message.Message) (*message.Message, error) {
	items, ok := msg.Payload.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: window emitted %T", pipeline.ErrNotArray, msg.Payload)
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = message.New(item, maps.Clone(msg.Metadata), msg.GlobalState)
	}
	return msg.Derive(out), nil
}

func writeElement(sink sinks.Sink) pipeline.Worker {
	return func(ctx context.Context, item any) (any, error) {
		msg := item.(*message.Message)
		if err := sink.Write(ctx, msg); err != nil {
			return nil, err
		}
		return msg.Payload, nil
	}
}

func dropElement(l zerolog.Logger) pipeline.ErrorHandler {
	return func(_ context.Context, err error, item any, index int, _ []any) (any, error) {
		l.Error().Err(err).Int("index", index).Str("key", item.(*message.Message).Key()).Msg("sink rejected element, dropping it")
		return nil, nil
	}
}
