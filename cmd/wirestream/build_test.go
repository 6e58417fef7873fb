package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wirestream/internal/config"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/pipeline"
	"github.com/tarungka/wirestream/internal/storage"
	"github.com/tarungka/wirestream/internal/storage/memory"
	"github.com/tarungka/wirestream/sinks"
)

// recordingSink keeps what it was given; payloads listed in reject fail.
type recordingSink struct {
	mu     sync.Mutex
	msgs   []*message.Message
	reject map[any]bool
}

var _ sinks.Sink = (*recordingSink)(nil)

func (s *recordingSink) Init(sinks.SinkConfig) error { return nil }
func (s *recordingSink) Connect(context.Context) error { return nil }
func (s *recordingSink) Disconnect() error { return nil }
func (s *recordingSink) Key() (string, error) { return "test", nil }
func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Info() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, msg *message.Message) error {
	if s.reject[msg.Payload] {
		return errors.New("rejected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) byKey() map[string][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]any{}
	for _, m := range s.msgs {
		out[m.Key()] = append(out[m.Key()], m.Payload)
	}
	return out
}

func keyed(items ...[2]any) pipeline.Source {
	return pipeline.SourceFunc(func(ctx context.Context, emit pipeline.Emit) error {
		for _, it := range items {
			md := map[string]any{}
			if it[0] != "" {
				md[message.KeyField] = it[0]
			}
			if err := emit(ctx, message.New(it[1], md, message.GlobalState{})); err != nil {
				return err
			}
		}
		return nil
	})
}

func testConfig(w config.WindowConfig) *config.Config {
	c := config.Default()
	c.Window = w
	c.Parallel.MaxChunkSize = 2
	return c
}

func TestBuildTaskWithoutWindow(t *testing.T) {
	sink := &recordingSink{}
	task, err := buildTask(testConfig(config.WindowConfig{}), memory.New(), keyed([2]any{"", 1}, [2]any{"a", 2}), sink, zerolog.Nop())
	require.NoError(t, err)
	defer task.Close()

	require.NoError(t, task.Start(context.Background()))
	assert.Equal(t, map[string][]any{message.DefaultKey: {1}, "a": {2}}, sink.byKey())
}

func TestBuildTaskWritesWindowElements(t *testing.T) {
	sink := &recordingSink{reject: map[any]bool{"a3": true}}
	src := keyed([2]any{"a", "a1"}, [2]any{"b", "b1"}, [2]any{"a", "a2"}, [2]any{"a", "a3"}, [2]any{"b", "b2"}, [2]any{"b", "b3"})

	c := testConfig(config.WindowConfig{Kind: config.WindowTumblingCount, MaxSize: 3})
	task, err := buildTask(c, memory.New(), src, sink, zerolog.Nop())
	require.NoError(t, err)
	defer task.Close()

	require.NoError(t, task.Start(context.Background()))
	assert.Equal(t, map[string][]any{
		"a": {"a1", "a2"},
		"b": {"b1", "b2", "b3"},
	}, sink.byKey())

	for _, m := range sink.msgs {
		assert.Equal(t, 3, m.Metadata["windowElements"])
	}
}

func TestBuildTaskSessionWindow(t *testing.T) {
	sink := &recordingSink{}
	c := testConfig(config.WindowConfig{Kind: config.WindowSession, Inactivity: 20 * time.Millisecond})
	task, err := buildTask(c, memory.New(), keyed([2]any{"u", 1}, [2]any{"u", 2}), sink, zerolog.Nop())
	require.NoError(t, err)
	defer task.Close()

	require.NoError(t, task.Start(context.Background()))
	require.Eventually(t, func() bool { return len(sink.byKey()["u"]) == 2 }, time.Second, 5*time.Millisecond)
}

// plainStore hides the Drainer of the memory backend.
type plainStore struct {
	storage.Storage
}

func TestBuildTaskFixedWindow(t *testing.T) {
	c := testConfig(config.WindowConfig{Kind: config.WindowFixed, MaxSize: 2})

	sink := &recordingSink{}
	task, err := buildTask(c, memory.New(), keyed([2]any{"", 1}, [2]any{"", 2}, [2]any{"", 3}), sink, zerolog.Nop())
	require.NoError(t, err)
	defer task.Close()
	require.NoError(t, task.Start(context.Background()))
	assert.ElementsMatch(t, []any{1, 2}, sink.byKey()[message.DefaultKey])

	_, err = buildTask(c, plainStore{memory.New()}, keyed(), sink, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestBuildTaskRejectsBadWindow(t *testing.T) {
	c := testConfig(config.WindowConfig{Kind: config.WindowTumblingCount})
	_, err := buildTask(c, memory.New(), keyed(), &recordingSink{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSplitEmission(t *testing.T) {
	_, err := splitEmission(context.Background(), message.New("x", nil, nil))
	assert.ErrorIs(t, err, pipeline.ErrNotArray)
}
