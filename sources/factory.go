// Package sources adapts external systems into pipeline entry points.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tarungka/wirestream/internal/pipeline"
)

var (
	// ErrMissingConfig is returned by Init when a required setting is empty.
	ErrMissingConfig = errors.New("missing source config")

	// ErrUnknownSource is returned by New for unregistered source types.
	ErrUnknownSource = errors.New("unknown source type")

	// ErrNotConnected is returned by Produce before Connect succeeded.
	ErrNotConnected = errors.New("source not connected")
)

// Source is an external system feeding a task. Produce satisfies
// pipeline.Source, so a connected source is passed to Task.FromSource.
type Source interface {
	pipeline.Source

	Init(args SourceConfig) error
	Connect(ctx context.Context) error
	Disconnect() error

	Key() (string, error)
	Name() string
	Info() string
}

// SourceCreator returns a zero source of one type, ready for Init.
type SourceCreator func() Source

var (
	mu       sync.RWMutex
	creators = map[string]SourceCreator{
		"kafka": func() Source { return &KafkaSource{} },
		"mongo": func() Source { return &MongoSource{} },
	}
)

// RegisterSource adds or replaces the creator of a source type.
func RegisterSource(connectionType string, creator SourceCreator) {
	mu.Lock()
	defer mu.Unlock()
	creators[connectionType] = creator
}

// Types lists the registered source types.
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

// New creates and initializes the source selected by args.ConnectionType.
// The source still has to be connected.
func New(args SourceConfig) (Source, error) {
	mu.RLock()
	creator, ok := creators[args.ConnectionType]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, args.ConnectionType)
	}
	s := creator()
	if err := s.Init(args); err != nil {
		return nil, err
	}
	return s, nil
}
