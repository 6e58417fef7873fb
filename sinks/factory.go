// Package sinks writes pipeline output to external systems.
package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tarungka/wirestream/internal/message"
)

var (
	// ErrMissingConfig is returned by Init when a required setting is empty.
	ErrMissingConfig = errors.New("missing sink config")

	// ErrUnknownSink is returned by New for unregistered sink types.
	ErrUnknownSink = errors.New("unknown sink type")

	// ErrNotConnected is returned by Write before Connect succeeded.
	ErrNotConnected = errors.New("sink not connected")
)

// Sink is the terminal of a task. Write has the shape Task.Sink expects.
type Sink interface {
	Init(args SinkConfig) error
	Connect(ctx context.Context) error
	Write(ctx context.Context, msg *message.Message) error
	Disconnect() error

	Key() (string, error)
	Name() string
	Info() string
}

// SinkCreator returns a zero sink of one type, ready for Init.
type SinkCreator func() Sink

var (
	mu       sync.RWMutex
	creators = map[string]SinkCreator{
		"kafka":         func() Sink { return &KafkaSink{} },
		"file":          func() Sink { return &FileSink{} },
		"elasticsearch": func() Sink { return &ElasticSink{} },
	}
)

// RegisterSink adds or replaces the creator of a sink type.
func RegisterSink(connectionType string, creator SinkCreator) {
	mu.Lock()
	defer mu.Unlock()
	creators[connectionType] = creator
}

func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(creators))
	for t := range creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New creates and initializes the sink selected by args.ConnectionType.
func New(args SinkConfig) (Sink, error) {
	mu.RLock()
	creator, ok := creators[args.ConnectionType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, args.ConnectionType)
	}
	s := creator()
	if err := s.Init(args); err != nil {
		return nil, err
	}
	return s, nil
}

// encode renders a payload as bytes. Byte slices pass through untouched,
// everything else is JSON encoded.
func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
