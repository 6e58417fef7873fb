package etcd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	uuid "github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
)

const (
	defaultPrefix      = "/wirestream/"
	defaultDialTimeout = 5 * time.Second
	fixedSegment       = "fixed/"
)

type Config struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	Prefix      string        `koanf:"prefix"`
}

// Client is an etcd backed storage.ByteStore and storage.Drainer.
type Client struct {
	cli    *clientv3.Client
	prefix string
	logger zerolog.Logger
	open   atomic.Bool
}

var (
	_ storage.ByteStore = (*Client)(nil)
	_ storage.Drainer   = (*Client)(nil)
)

// Storage pairs the window storage view of the etcd client with its
// transactional drain.
type Storage struct {
	*storage.KVStorage
	*Client
}

// Disconnect resolves the ambiguity between the embedded types.
func (s *Storage) Disconnect() error {
	return s.KVStorage.Disconnect()
}

// Keys lists window keys.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	return s.KVStorage.Keys(ctx)
}

func Open(c *Config) (*Client, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required: %w", storage.ErrInvalidConfig)
	}
	dialTimeout := c.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: dialTimeout,
		Username:    c.Username,
		Password:    c.Password,
		DialOptions: []grpc.DialOption{grpc.WithUserAgent("wirestream")},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd %v: %w", c.Endpoints, err)
	}

	client := &Client{
		cli:    cli,
		prefix: prefix,
		logger: logger.Component(logger.GetLogger("wirestream"), "etcd-storage"),
	}
	client.open.Store(true)
	return client, nil
}

func New(c *Config) (*Storage, error) {
	client, err := Open(c)
	if err != nil {
		return nil, err
	}
	return &Storage{
		KVStorage: storage.NewKVStorage("etcd", client, client.logger),
		Client:    client,
	}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.open.Load() {
		return nil, storage.ErrNotOpen
	}
	resp, err := c.cli.Get(ctx, c.prefix+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if !c.open.Load() {
		return storage.ErrNotOpen
	}
	_, err := c.cli.Put(ctx, c.prefix+key, string(value))
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if !c.open.Load() {
		return storage.ErrNotOpen
	}
	_, err := c.cli.Delete(ctx, c.prefix+key)
	return err
}

func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !c.open.Load() {
		return nil, storage.ErrNotOpen
	}
	resp, err := c.cli.Get(ctx, c.prefix+prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), c.prefix))
	}
	return keys, nil
}

func (c *Client) fixedPrefix(key string) string {
	return c.prefix + fixedSegment + key + "/"
}

// AppendAndDrain writes value under a time ordered id, counts the key's
// pending values and, when the count reached maxSize, deletes them in a
// transaction that only commits if nothing under the prefix changed since
// the count was read. The deleted values are the drained set, so two
// writers racing for the same batch cannot both receive it.
func (c *Client) AppendAndDrain(ctx context.Context, key string, value any, maxSize int) ([]any, error) {
	if !c.open.Load() {
		return nil, storage.ErrNotOpen
	}
	writeID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	buf, err := storage.EncodeMsgPack(value)
	if err != nil {
		return nil, fmt.Errorf("encode fixed window value: %w", err)
	}

	prefix := c.fixedPrefix(key)
	if _, err := c.cli.Put(ctx, prefix+writeID.String(), string(buf)); err != nil {
		return nil, fmt.Errorf("etcd put %q: %w", key, err)
	}

	count, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return nil, fmt.Errorf("etcd count %q: %w", key, err)
	}
	if count.Count < int64(maxSize) {
		return nil, nil
	}

	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(prefix), "<", count.Header.Revision+1).WithPrefix()).
		Then(clientv3.OpDelete(prefix, clientv3.WithPrefix(), clientv3.WithPrevKV())).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("etcd drain %q: %w", key, err)
	}
	if !resp.Succeeded {
		c.logger.Trace().Str("key", key).Msg("drain lost to a concurrent write")
		return nil, nil
	}

	prev := resp.Responses[0].GetResponseDeleteRange().GetPrevKvs()
	if len(prev) == 0 {
		return nil, nil
	}
	sort.Slice(prev, func(i, j int) bool { return string(prev[i].Key) < string(prev[j].Key) })

	drained := make([]any, 0, len(prev))
	for _, kv := range prev {
		var v any
		if err := storage.DecodeMsgPack(kv.Value, &v); err != nil {
			return nil, fmt.Errorf("decode fixed window value: %w", err)
		}
		drained = append(drained, v)
	}
	return drained, nil
}

func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	return c.cli.Close()
}
