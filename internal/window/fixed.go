package window

import (
	"context"
	"fmt"

	"github.com/tarungka/wirestream/internal/storage"
)

// Fixed is a count window whose count and drain happen atomically in the
// backend, so several writers may share a key. Exactly one push observes
// each full batch.
type Fixed struct {
	drainer storage.Drainer
	maxSize int
}

func NewFixed(drainer storage.Drainer, maxSize int) (*Fixed, error) {
	if drainer == nil {
		return nil, fmt.Errorf("fixed window: nil storage")
	}
	if maxSize < 1 {
		return nil, fmt.Errorf("%w: maxSize must be >= 1", ErrInvalidHint)
	}
	return &Fixed{drainer: drainer, maxSize: maxSize}, nil
}

func (f *Fixed) MaxSize() int {
	return f.maxSize
}

// Push returns an emission when this push completed a batch.
func (f *Fixed) Push(ctx context.Context, key string, value any) (*Emission, error) {
	drained, err := f.drainer.AppendAndDrain(ctx, key, value, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("fixed window push %q: %w", key, err)
	}
	if drained == nil {
		return nil, nil
	}
	return countEmission(key, drained), nil
}
