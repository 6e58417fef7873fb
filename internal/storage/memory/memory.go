package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tarungka/wirestream/internal/storage"
)

type entry struct {
	elements []storage.Element
	md       *storage.WindowMetadata
}

// Storage is an in-memory implementation of the storage contract.
type Storage struct {
	mu     sync.RWMutex
	closed bool
	state  map[string]*entry

	// values awaiting a fixed window drain
	pending map[string][]any
}

var (
	_ storage.Storage   = (*Storage)(nil)
	_ storage.Inspector = (*Storage)(nil)
	_ storage.Drainer   = (*Storage)(nil)
)

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		state:   make(map[string]*entry),
		pending: make(map[string][]any),
	}
}

func (s *Storage) get(key string) *entry {
	e, ok := s.state[key]
	if !ok {
		e = &entry{}
		s.state[key] = e
	}
	return e
}

// Push appends value to the key's list and stores md.
func (s *Storage) Push(_ context.Context, key string, md *storage.WindowMetadata, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	e := s.get(key)
	e.elements = append(e.elements, storage.Element{Timestamp: md.Timestamp(), Value: value})
	if md != nil {
		e.md = md.Clone()
	}
	return nil
}

func (s *Storage) GetList(_ context.Context, key string) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return storage.Values(e.elements), nil
}

func (s *Storage) GetMetadata(_ context.Context, key string) (*storage.WindowMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return e.md.Clone(), nil
}

func (s *Storage) SetMetadata(_ context.Context, key string, md *storage.WindowMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	s.get(key).md = md.Clone()
	return nil
}

func (s *Storage) SliceTime(_ context.Context, key string, boundary int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	e, ok := s.state[key]
	if !ok {
		return nil
	}
	kept := make([]storage.Element, 0, len(e.elements))
	for _, el := range e.elements {
		if el.Timestamp >= boundary {
			kept = append(kept, el)
		}
	}
	e.elements = kept
	return nil
}

func (s *Storage) SliceCountAndGet(_ context.Context, key string, n int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	n = min(max(n, 0), len(e.elements))
	removed := storage.Values(e.elements[:n])
	e.elements = append([]storage.Element(nil), e.elements[n:]...)
	return removed, nil
}

// Flush deletes the list and the metadata of key.
func (s *Storage) Flush(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	delete(s.state, key)
	return nil
}

// FlushWindow deletes the list of key.
func (s *Storage) FlushWindow(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if e, ok := s.state[key]; ok {
		e.elements = nil
	}
	return nil
}

func (s *Storage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// AppendAndDrain appends value and, once maxSize values are pending,
// removes and returns all of them. The mutex makes count and drain one step.
func (s *Storage) AppendAndDrain(_ context.Context, key string, value any, maxSize int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	s.pending[key] = append(s.pending[key], value)
	if len(s.pending[key]) < maxSize {
		return nil, nil
	}
	drained := s.pending[key]
	delete(s.pending, key)
	return drained, nil
}

func (s *Storage) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
