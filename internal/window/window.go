package window

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

var (
	// ErrInvalidHint is returned when a push carries sizes the window kind
	// cannot work with.
	ErrInvalidHint = errors.New("invalid window hint")

	// ErrUnknownKind is returned for a kind the factory cannot build.
	ErrUnknownKind = errors.New("unknown window kind")
)

// Kind identifies a window state machine.
type Kind int

const (
	TumblingCount Kind = iota
	TumblingTime
	SlidingCount
	SlidingTime
	Session
)

func (k Kind) String() string {
	switch k {
	case TumblingCount:
		return "tumbling_count"
	case TumblingTime:
		return "tumbling_time"
	case SlidingCount:
		return "sliding_count"
	case SlidingTime:
		return "sliding_time"
	case Session:
		return "session"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{TumblingCount, TumblingTime, SlidingCount, SlidingTime, Session} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Hint carries the per push parameters of a window. Count windows read
// MaxSize and SlideSize, time windows read the epoch millisecond fields.
type Hint struct {
	MaxSize   int
	SlideSize int

	StartTimestamp int64
	EndTimestamp   int64
	EventTime      int64
	SlideDuration  int64
}

// Window is a keyed state machine accumulating values until a closing
// condition produces an Emission.
type Window interface {
	Kind() Kind

	// Push adds value to the window of key. The returned emission is nil
	// unless the push closed a window.
	Push(ctx context.Context, key string, value any, hint Hint) (*Emission, error)

	// OnInactivityEmit force closes the window of key.
	OnInactivityEmit(ctx context.Context, key string) (*Emission, error)

	// Close returns the current contents of key without changing them.
	Close(ctx context.Context, key string) ([]any, error)

	// Size is the element count recorded in the metadata of key.
	Size(ctx context.Context, key string) (int, error)

	// Flush drops the contents and metadata of key.
	Flush(ctx context.Context, key string) error
}

type Option func(*options)

type options struct {
	logger zerolog.Logger
}

// WithLogger sets the logger windows report transitions to.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds the window of the given kind over store.
func New(kind Kind, store storage.Storage, opts ...Option) (Window, error) {
	if store == nil {
		return nil, fmt.Errorf("window %s: nil storage", kind)
	}
	o := &options{logger: logger.AdHocLogger}
	for _, opt := range opts {
		opt(o)
	}
	b := newBase(kind, store, o.logger)

	switch kind {
	case TumblingCount:
		return &TumblingCountWindow{base: b}, nil
	case TumblingTime:
		return &TumblingTimeWindow{base: b}, nil
	case SlidingCount:
		return &SlidingCountWindow{base: b}, nil
	case SlidingTime:
		return &SlidingTimeWindow{base: b}, nil
	case Session:
		return &SessionWindow{base: b}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}
