package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	listPrefix = "list/"
	metaPrefix = "meta/"
)

// ByteStore is the minimal key/value surface the embedded and remote
// key/value backends expose. Get returns nil, nil for a missing key.
type ByteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// KVStorage implements Storage on top of a ByteStore. The element list of
// a key is kept as one msgpack encoded value, the metadata as another.
type KVStorage struct {
	name   string
	store  ByteStore
	logger zerolog.Logger

	closed atomic.Bool
	// read-modify-write of a list must not interleave
	mu sync.Mutex
}

var (
	_ Storage   = (*KVStorage)(nil)
	_ Inspector = (*KVStorage)(nil)
)

func NewKVStorage(name string, store ByteStore, logger zerolog.Logger) *KVStorage {
	return &KVStorage{
		name:   name,
		store:  store,
		logger: logger.With().Str("storage", name).Logger(),
	}
}

// Store exposes the underlying byte store.
func (s *KVStorage) Store() ByteStore {
	return s.store
}

func (s *KVStorage) Push(ctx context.Context, key string, md *WindowMetadata, value any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, err := s.elements(ctx, key)
	if err != nil {
		return err
	}
	elements = append(elements, Element{Timestamp: md.Timestamp(), Value: value})
	if err := s.putElements(ctx, key, elements); err != nil {
		return err
	}
	if md != nil {
		return s.putMetadata(ctx, key, md)
	}
	return nil
}

func (s *KVStorage) GetList(ctx context.Context, key string) ([]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, err := s.elements(ctx, key)
	if err != nil {
		return nil, err
	}
	return Values(elements), nil
}

func (s *KVStorage) GetMetadata(ctx context.Context, key string) (*WindowMetadata, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	buf, err := s.store.Get(ctx, metaPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("%s: get metadata %q: %w", s.name, key, err)
	}
	md, err := decodeMetadata(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: decode metadata %q: %w", s.name, key, err)
	}
	return md, nil
}

func (s *KVStorage) SetMetadata(ctx context.Context, key string, md *WindowMetadata) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.putMetadata(ctx, key, md)
}

func (s *KVStorage) SliceTime(ctx context.Context, key string, boundary int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, err := s.elements(ctx, key)
	if err != nil {
		return err
	}
	kept := elements[:0]
	for _, e := range elements {
		if e.Timestamp >= boundary {
			kept = append(kept, e)
		}
	}
	s.logger.Trace().Str("key", key).Int("dropped", len(elements)-len(kept)).Msg("sliced by time")
	return s.putElements(ctx, key, kept)
}

func (s *KVStorage) SliceCountAndGet(ctx context.Context, key string, n int) ([]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elements, err := s.elements(ctx, key)
	if err != nil {
		return nil, err
	}
	n = min(max(n, 0), len(elements))
	removed := Values(elements[:n])
	if err := s.putElements(ctx, key, elements[n:]); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *KVStorage) Flush(ctx context.Context, key string) error {
	if err := s.FlushWindow(ctx, key); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, metaPrefix+key); err != nil {
		return fmt.Errorf("%s: delete metadata %q: %w", s.name, key, err)
	}
	return nil
}

func (s *KVStorage) FlushWindow(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(ctx, listPrefix+key); err != nil {
		return fmt.Errorf("%s: delete list %q: %w", s.name, key, err)
	}
	return nil
}

// Keys lists every key holding a list or a metadata record.
func (s *KVStorage) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	seen := make(map[string]struct{})
	for _, prefix := range []string{listPrefix, metaPrefix} {
		keys, err := s.store.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("%s: list keys: %w", s.name, err)
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, prefix)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *KVStorage) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug().Msg("disconnecting")
	return s.store.Close()
}

func (s *KVStorage) elements(ctx context.Context, key string) ([]Element, error) {
	buf, err := s.store.Get(ctx, listPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("%s: get list %q: %w", s.name, key, err)
	}
	elements, err := decodeElements(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: decode list %q: %w", s.name, key, err)
	}
	return elements, nil
}

func (s *KVStorage) putElements(ctx context.Context, key string, elements []Element) error {
	if len(elements) == 0 {
		if err := s.store.Delete(ctx, listPrefix+key); err != nil {
			return fmt.Errorf("%s: delete list %q: %w", s.name, key, err)
		}
		return nil
	}
	buf, err := encodeElements(elements)
	if err != nil {
		return fmt.Errorf("%s: encode list %q: %w", s.name, key, err)
	}
	if err := s.store.Put(ctx, listPrefix+key, buf); err != nil {
		return fmt.Errorf("%s: put list %q: %w", s.name, key, err)
	}
	return nil
}

func (s *KVStorage) putMetadata(ctx context.Context, key string, md *WindowMetadata) error {
	buf, err := encodeMetadata(md)
	if err != nil {
		return fmt.Errorf("%s: encode metadata %q: %w", s.name, key, err)
	}
	if err := s.store.Put(ctx, metaPrefix+key, buf); err != nil {
		return fmt.Errorf("%s: put metadata %q: %w", s.name, key, err)
	}
	return nil
}
