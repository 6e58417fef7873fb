package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

const defaultPrefix = "wirestream:"

type Config struct {
	Addrs    []string `koanf:"addrs"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
	Prefix   string   `koanf:"prefix"`
}

// Storage keeps every window list in a native redis list and the metadata
// in a plain string value.
type Storage struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger

	closed atomic.Bool
	// SliceTime rewrites whole lists
	mu sync.Mutex
}

var (
	_ storage.Storage   = (*Storage)(nil)
	_ storage.Inspector = (*Storage)(nil)
)

// New creates a redis client from c. Standalone, sentinel and cluster
// deployments are picked from the address list.
func New(c *Config) (*Storage, error) {
	if len(c.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs are required: %w", storage.ErrInvalidConfig)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Password,
		DB:       c.DB,
	})
	return NewWithClient(client, c.Prefix), nil
}

// NewWithClient uses an existing client. The storage owns it afterwards.
func NewWithClient(client redis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{
		client: client,
		prefix: prefix,
		logger: logger.Component(logger.GetLogger("wirestream"), "redis-storage"),
	}
}

func (s *Storage) listKey(key string) string {
	return s.prefix + "list:" + key
}

func (s *Storage) metaKey(key string) string {
	return s.prefix + "meta:" + key
}

func (s *Storage) Push(ctx context.Context, key string, md *storage.WindowMetadata, value any) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	buf, err := storage.EncodeMsgPack(storage.Element{Timestamp: md.Timestamp(), Value: value})
	if err != nil {
		return fmt.Errorf("encode element: %w", err)
	}
	var metaBuf []byte
	if md != nil {
		if metaBuf, err = storage.EncodeMsgPack(md); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.listKey(key), buf)
		if metaBuf != nil {
			pipe.Set(ctx, s.metaKey(key), metaBuf, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push %q: %w", key, err)
	}
	return nil
}

func (s *Storage) elements(ctx context.Context, key string) ([]storage.Element, error) {
	raw, err := s.client.LRange(ctx, s.listKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", key, err)
	}
	return decodeAll(raw)
}

func decodeAll(raw []string) ([]storage.Element, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]storage.Element, len(raw))
	for i, r := range raw {
		if err := storage.DecodeMsgPack([]byte(r), &out[i]); err != nil {
			return nil, fmt.Errorf("decode element: %w", err)
		}
	}
	return out, nil
}

func (s *Storage) GetList(ctx context.Context, key string) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	elements, err := s.elements(ctx, key)
	if err != nil {
		return nil, err
	}
	return storage.Values(elements), nil
}

func (s *Storage) GetMetadata(ctx context.Context, key string) (*storage.WindowMetadata, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	buf, err := s.client.Get(ctx, s.metaKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get metadata %q: %w", key, err)
	}
	md := &storage.WindowMetadata{}
	if err := storage.DecodeMsgPack(buf, md); err != nil {
		return nil, fmt.Errorf("decode metadata %q: %w", key, err)
	}
	return md, nil
}

func (s *Storage) SetMetadata(ctx context.Context, key string, md *storage.WindowMetadata) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	buf, err := storage.EncodeMsgPack(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.client.Set(ctx, s.metaKey(key), buf, 0).Err()
}

func (s *Storage) SliceTime(ctx context.Context, key string, boundary int64) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.client.LRange(ctx, s.listKey(key), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis lrange %q: %w", key, err)
	}
	elements, err := decodeAll(raw)
	if err != nil {
		return err
	}
	kept := make([]any, 0, len(raw))
	for i, e := range elements {
		if e.Timestamp >= boundary {
			kept = append(kept, raw[i])
		}
	}
	if len(kept) == len(raw) {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.listKey(key))
		if len(kept) > 0 {
			pipe.RPush(ctx, s.listKey(key), kept...)
		}
		return nil
	})
	return err
}

// SliceCountAndGet reads and trims the head of the list in one MULTI block.
func (s *Storage) SliceCountAndGet(ctx context.Context, key string, n int) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	var head *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		head = pipe.LRange(ctx, s.listKey(key), 0, int64(n-1))
		pipe.LTrim(ctx, s.listKey(key), int64(n), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis slice %q: %w", key, err)
	}
	elements, err := decodeAll(head.Val())
	if err != nil {
		return nil, err
	}
	return storage.Values(elements), nil
}

func (s *Storage) Flush(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.client.Del(ctx, s.listKey(key), s.metaKey(key)).Err()
}

func (s *Storage) FlushWindow(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.client.Del(ctx, s.listKey(key)).Err()
}

func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), s.prefix)
		k = strings.TrimPrefix(strings.TrimPrefix(k, "list:"), "meta:")
		seen[k] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug().Msg("closing redis client")
	return s.client.Close()
}
