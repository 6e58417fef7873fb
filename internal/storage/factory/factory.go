// Package factory resolves a configured storage kind to a backend.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tarungka/wirestream/internal/storage"
	"github.com/tarungka/wirestream/internal/storage/badgerdb"
	"github.com/tarungka/wirestream/internal/storage/boltdb"
	"github.com/tarungka/wirestream/internal/storage/elastic"
	"github.com/tarungka/wirestream/internal/storage/etcd"
	"github.com/tarungka/wirestream/internal/storage/memory"
	"github.com/tarungka/wirestream/internal/storage/mongo"
	"github.com/tarungka/wirestream/internal/storage/natskv"
	"github.com/tarungka/wirestream/internal/storage/postgres"
	"github.com/tarungka/wirestream/internal/storage/redis"
)

type Kind string

const (
	Memory        Kind = "memory"
	Badger        Kind = "badger"
	Bolt          Kind = "bolt"
	Redis         Kind = "redis"
	Etcd          Kind = "etcd"
	Nats          Kind = "nats"
	Mongo         Kind = "mongo"
	Elasticsearch Kind = "elasticsearch"
	Postgres      Kind = "postgres"
)

func (k Kind) String() string {
	return string(k)
}

// Config holds the settings of every backend; only the one selected by
// Kind is read.
type Config struct {
	Kind          Kind            `koanf:"kind"`
	Badger        badgerdb.Config `koanf:"badger"`
	Bolt          boltdb.Config   `koanf:"bolt"`
	Redis         redis.Config    `koanf:"redis"`
	Etcd          etcd.Config     `koanf:"etcd"`
	Nats          natskv.Config   `koanf:"nats"`
	Mongo         mongo.Config    `koanf:"mongo"`
	Elasticsearch elastic.Config  `koanf:"elasticsearch"`
	Postgres      postgres.Config `koanf:"postgres"`
}

// Constructor builds a backend from the configuration.
type Constructor func(ctx context.Context, c *Config) (storage.Storage, error)

var (
	mu       sync.RWMutex
	registry = map[Kind]Constructor{
		Memory: func(context.Context, *Config) (storage.Storage, error) {
			return memory.New(), nil
		},
		Badger: func(_ context.Context, c *Config) (storage.Storage, error) {
			return badgerdb.New(&c.Badger)
		},
		Bolt: func(_ context.Context, c *Config) (storage.Storage, error) {
			return boltdb.New(&c.Bolt)
		},
		Redis: func(_ context.Context, c *Config) (storage.Storage, error) {
			return redis.New(&c.Redis)
		},
		Etcd: func(_ context.Context, c *Config) (storage.Storage, error) {
			return etcd.New(&c.Etcd)
		},
		Nats: func(_ context.Context, c *Config) (storage.Storage, error) {
			return natskv.New(&c.Nats)
		},
		Mongo: func(ctx context.Context, c *Config) (storage.Storage, error) {
			return mongo.New(ctx, &c.Mongo)
		},
		Elasticsearch: func(ctx context.Context, c *Config) (storage.Storage, error) {
			return elastic.New(ctx, &c.Elasticsearch)
		},
		Postgres: func(ctx context.Context, c *Config) (storage.Storage, error) {
			return postgres.New(ctx, &c.Postgres)
		},
	}
)

// Register adds or replaces the constructor of kind.
func Register(kind Kind, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = ctor
}

// Kinds lists the registered kinds in name order.
func Kinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Make builds the backend selected by c.Kind, memory when unset.
func Make(ctx context.Context, c *Config) (storage.Storage, error) {
	kind := c.Kind
	if kind == "" {
		kind = Memory
	}
	mu.RLock()
	ctor, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownKind, kind)
	}
	s, err := ctor(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", kind, err)
	}
	return s, nil
}
