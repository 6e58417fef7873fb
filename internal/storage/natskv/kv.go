// Package natskv keeps window state in a NATS JetStream key/value bucket.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

const defaultBucket = "wirestream"

type Config struct {
	URL    string `koanf:"url"`
	Bucket string `koanf:"bucket"`
}

// Store is a storage.ByteStore over a JetStream KV bucket. Keys are base64
// encoded since window keys may hold characters bucket keys reject.
type Store struct {
	conn   *nats.Conn
	kv     nats.KeyValue
	logger zerolog.Logger
	open   atomic.Bool
}

var _ storage.ByteStore = (*Store)(nil)

func Open(c *Config) (*Store, error) {
	url := c.URL
	if url == "" {
		url = nats.DefaultURL
	}
	bucket := c.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	conn, err := nats.Connect(url, nats.Name("wirestream"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("key value bucket %s: %w", bucket, err)
	}
	return NewWithBucket(conn, kv), nil
}

// NewWithBucket wraps an existing bucket. conn may be nil when the caller
// owns the connection.
func NewWithBucket(conn *nats.Conn, kv nats.KeyValue) *Store {
	s := &Store{
		conn:   conn,
		kv:     kv,
		logger: logger.Component(logger.GetLogger("wirestream"), "natskv"),
	}
	s.open.Store(true)
	return s
}

// New opens the bucket and wraps it into the window storage contract.
func New(c *Config) (*storage.KVStorage, error) {
	s, err := Open(c)
	if err != nil {
		return nil, err
	}
	return storage.NewKVStorage("nats", s, s.logger), nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	return string(b), err
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if !s.open.Load() {
		return nil, storage.ErrNotOpen
	}
	entry, err := s.kv.Get(encodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if !s.open.Load() {
		return storage.ErrNotOpen
	}
	_, err := s.kv.Put(encodeKey(key), value)
	return err
}

func (s *Store) Delete(_ context.Context, key string) error {
	if !s.open.Load() {
		return storage.ErrNotOpen
	}
	err := s.kv.Delete(encodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !s.open.Load() {
		return nil, storage.ErrNotOpen
	}
	raw, err := s.kv.Keys(nats.Context(ctx))
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, r := range raw {
		k, err := decodeKey(r)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", r).Msg("skipping foreign key in bucket")
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
