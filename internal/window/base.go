package window

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/storage"
)

// base holds what every variant shares: the storage handle and a per key
// metadata cache. The cache assumes this process is the only writer of a
// key. mu serializes pushes with inactivity emissions, which arrive on
// timer goroutines.
type base struct {
	kind   Kind
	store  storage.Storage
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]*storage.WindowMetadata
}

func newBase(kind Kind, store storage.Storage, l zerolog.Logger) *base {
	return &base{
		kind:   kind,
		store:  store,
		logger: l.With().Str("window", kind.String()).Logger(),
		cache:  make(map[string]*storage.WindowMetadata),
	}
}

func (b *base) Kind() Kind {
	return b.kind
}

// load returns the cached metadata of key, reading it from storage on a
// miss. A key without metadata starts with zero elements.
func (b *base) load(ctx context.Context, key string) (*storage.WindowMetadata, error) {
	if md, ok := b.cache[key]; ok {
		return md, nil
	}
	md, err := b.store.GetMetadata(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load metadata of %q: %w", key, err)
	}
	if md == nil {
		md = &storage.WindowMetadata{}
	}
	b.cache[key] = md
	return md, nil
}

// push stores value with md and caches md once the store accepted both.
func (b *base) push(ctx context.Context, key string, md *storage.WindowMetadata, value any) error {
	if err := b.store.Push(ctx, key, md, value); err != nil {
		return fmt.Errorf("push %q: %w", key, err)
	}
	b.cache[key] = md
	return nil
}

func (b *base) unload(key string) {
	delete(b.cache, key)
}

// flush removes list, stored metadata and cache entry of key.
func (b *base) flush(ctx context.Context, key string) error {
	if err := b.store.Flush(ctx, key); err != nil {
		return fmt.Errorf("flush %q: %w", key, err)
	}
	b.unload(key)
	return nil
}

func (b *base) list(ctx context.Context, key string) ([]any, error) {
	list, err := b.store.GetList(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get list of %q: %w", key, err)
	}
	return list, nil
}

func (b *base) Close(ctx context.Context, key string) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list(ctx, key)
}

func (b *base) Size(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	md, err := b.load(ctx, key)
	if err != nil {
		return 0, err
	}
	return md.WindowElements, nil
}

func (b *base) Flush(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush(ctx, key)
}

// closeTimeWindow closes the time window of key outside of a push. The
// end of the closed window stays behind as watermark so that a later push
// at or before it is rejected.
func (b *base) closeTimeWindow(ctx context.Context, key string) (*Emission, error) {
	md, err := b.load(ctx, key)
	if err != nil {
		return nil, err
	}
	list, err := b.list(ctx, key)
	if err != nil {
		return nil, err
	}

	next := &storage.WindowMetadata{WindowElements: 0, Watermark: md.Watermark}
	if md.EndTimestamp != nil {
		next.EventTime = storage.Int64(*md.EndTimestamp)
		next.Watermark = storage.Int64(*md.EndTimestamp)
	} else if md.EventTime != nil {
		next.EventTime = storage.Int64(*md.EventTime)
	}
	if err := b.store.SetMetadata(ctx, key, next); err != nil {
		return nil, fmt.Errorf("set metadata of %q: %w", key, err)
	}
	b.unload(key)
	if err := b.store.FlushWindow(ctx, key); err != nil {
		return nil, fmt.Errorf("flush window %q: %w", key, err)
	}

	if !md.Open() {
		return countEmission(key, list), nil
	}
	b.logger.Debug().Str("key", key).Int("elements", len(list)).Msg("time window closed by inactivity")
	return timeEmission(key, list, *md.StartTimestamp, *md.EndTimestamp), nil
}

// late records a value rejected for arriving behind the window.
func (b *base) late(key string, eventTime int64) {
	lateDrops.WithLabelValues(b.kind.String()).Inc()
	b.logger.Warn().Str("key", key).Int64("event_time", eventTime).Msg("dropping late value")
}
