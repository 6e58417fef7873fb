package window

import (
	"context"
	"fmt"
)

// TumblingCountWindow emits and resets every MaxSize pushes.
type TumblingCountWindow struct {
	*base
}

func (w *TumblingCountWindow) Push(ctx context.Context, key string, value any, hint Hint) (*Emission, error) {
	if hint.MaxSize < 1 {
		return nil, fmt.Errorf("%w: maxSize must be >= 1", ErrInvalidHint)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	md, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	next := md.Clone()
	next.WindowElements++
	if err := w.push(ctx, key, next, value); err != nil {
		return nil, err
	}
	if next.WindowElements < hint.MaxSize {
		return nil, nil
	}

	list, err := w.list(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := w.flush(ctx, key); err != nil {
		return nil, err
	}
	w.logger.Debug().Str("key", key).Int("elements", len(list)).Msg("window full")
	return countEmission(key, list), nil
}

func (w *TumblingCountWindow) OnInactivityEmit(ctx context.Context, key string) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return emitAndFlush(ctx, w.base, key)
}

func emitAndFlush(ctx context.Context, b *base, key string) (*Emission, error) {
	list, err := b.list(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := b.flush(ctx, key); err != nil {
		return nil, err
	}
	return countEmission(key, list), nil
}

// SlidingCountWindow emits the full window once MaxSize values arrived and
// then every SlideSize pushes, each time after dropping the SlideSize
// oldest values.
type SlidingCountWindow struct {
	*base
}

func (w *SlidingCountWindow) Push(ctx context.Context, key string, value any, hint Hint) (*Emission, error) {
	if hint.MaxSize < 1 || hint.SlideSize < 1 {
		return nil, fmt.Errorf("%w: maxSize and slideSize must be >= 1", ErrInvalidHint)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	md, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	next := md.Clone()
	next.WindowElements++
	if err := w.push(ctx, key, next, value); err != nil {
		return nil, err
	}

	switch next.WindowElements {
	case hint.MaxSize:
		list, err := w.list(ctx, key)
		if err != nil {
			return nil, err
		}
		return countEmission(key, list), nil

	case hint.MaxSize + hint.SlideSize:
		w.unload(key)
		if _, err := w.store.SliceCountAndGet(ctx, key, hint.SlideSize); err != nil {
			return nil, fmt.Errorf("slice %q: %w", key, err)
		}
		slid := next.Clone()
		slid.WindowElements = hint.MaxSize
		if err := w.store.SetMetadata(ctx, key, slid); err != nil {
			return nil, fmt.Errorf("set metadata of %q: %w", key, err)
		}

		list, err := w.list(ctx, key)
		if err != nil {
			return nil, err
		}
		w.logger.Debug().Str("key", key).Int("elements", len(list)).Msg("window slid")
		return countEmission(key, list), nil
	}
	return nil, nil
}

func (w *SlidingCountWindow) OnInactivityEmit(ctx context.Context, key string) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return emitAndFlush(ctx, w.base, key)
}

// SessionWindow only ever emits on inactivity.
type SessionWindow struct {
	*base
}

func (w *SessionWindow) Push(ctx context.Context, key string, value any, _ Hint) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	md, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	next := md.Clone()
	next.WindowElements++
	return nil, w.push(ctx, key, next, value)
}

func (w *SessionWindow) OnInactivityEmit(ctx context.Context, key string) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return emitAndFlush(ctx, w.base, key)
}
