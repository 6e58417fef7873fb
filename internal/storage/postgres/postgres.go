package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS window_elements (
	id    BIGSERIAL PRIMARY KEY,
	key   TEXT      NOT NULL,
	ts    BIGINT    NOT NULL,
	value BYTEA     NOT NULL
);
CREATE INDEX IF NOT EXISTS window_elements_key_idx ON window_elements (key, id);
CREATE TABLE IF NOT EXISTS window_metadata (
	key      TEXT  PRIMARY KEY,
	metadata JSONB NOT NULL
);`

const (
	insertElement = `INSERT INTO window_elements (key, ts, value) VALUES ($1, $2, $3)`
	upsertMeta    = `INSERT INTO window_metadata (key, metadata) VALUES ($1, $2::jsonb)
		ON CONFLICT (key) DO UPDATE SET metadata = EXCLUDED.metadata`
	selectList  = `SELECT value FROM window_elements WHERE key = $1 ORDER BY id`
	selectMeta  = `SELECT metadata FROM window_metadata WHERE key = $1`
	deleteOlder = `DELETE FROM window_elements WHERE key = $1 AND ts < $2`
	deleteHead  = `DELETE FROM window_elements WHERE id IN (
		SELECT id FROM window_elements WHERE key = $1 ORDER BY id LIMIT $2
	) RETURNING id, value`
	deleteList = `DELETE FROM window_elements WHERE key = $1`
	deleteMeta = `DELETE FROM window_metadata WHERE key = $1`
	selectKeys = `SELECT key FROM window_elements UNION SELECT key FROM window_metadata ORDER BY key`
)

type Config struct {
	DSN string `koanf:"dsn"`
}

// Storage keeps elements in an append only table ordered by a sequence and
// metadata as JSONB.
type Storage struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	closed atomic.Bool
}

var (
	_ storage.Storage   = (*Storage)(nil)
	_ storage.Inspector = (*Storage)(nil)
)

func New(ctx context.Context, c *Config) (*Storage, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required: %w", storage.ErrInvalidConfig)
	}
	pool, err := pgxpool.New(ctx, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Storage{
		pool:   pool,
		logger: logger.Component(logger.GetLogger("wirestream"), "postgres-storage"),
	}, nil
}

func (s *Storage) Push(ctx context.Context, key string, md *storage.WindowMetadata, value any) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	buf, err := storage.EncodeMsgPack(value)
	if err != nil {
		return fmt.Errorf("encode element: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertElement, key, md.Timestamp(), buf); err != nil {
			return fmt.Errorf("insert element %q: %w", key, err)
		}
		if md == nil {
			return nil
		}
		metaBuf, err := json.Marshal(md)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertMeta, key, metaBuf)
		return err
	})
}

func decodeValues(raw [][]byte) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]any, len(raw))
	for i, b := range raw {
		if err := storage.DecodeMsgPack(b, &out[i]); err != nil {
			return nil, fmt.Errorf("decode element: %w", err)
		}
	}
	return out, nil
}

func (s *Storage) GetList(ctx context.Context, key string) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := s.pool.Query(ctx, selectList, key)
	if err != nil {
		return nil, fmt.Errorf("select list %q: %w", key, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan list %q: %w", key, err)
	}
	return decodeValues(raw)
}

func (s *Storage) GetMetadata(ctx context.Context, key string) (*storage.WindowMetadata, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	var buf []byte
	err := s.pool.QueryRow(ctx, selectMeta, key).Scan(&buf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select metadata %q: %w", key, err)
	}
	md := &storage.WindowMetadata{}
	if err := json.Unmarshal(buf, md); err != nil {
		return nil, fmt.Errorf("decode metadata %q: %w", key, err)
	}
	return md, nil
}

func (s *Storage) SetMetadata(ctx context.Context, key string, md *storage.WindowMetadata) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	buf, err := json.Marshal(md)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertMeta, key, buf)
	return err
}

func (s *Storage) SliceTime(ctx context.Context, key string, boundary int64) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	_, err := s.pool.Exec(ctx, deleteOlder, key, boundary)
	return err
}

func (s *Storage) SliceCountAndGet(ctx context.Context, key string, n int) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, deleteHead, key, n)
	if err != nil {
		return nil, fmt.Errorf("delete head %q: %w", key, err)
	}
	type row struct {
		ID    int64
		Value []byte
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("scan head %q: %w", key, err)
	}
	// RETURNING gives no ordering guarantee
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	raw := make([][]byte, len(deleted))
	for i, r := range deleted {
		raw[i] = r.Value
	}
	return decodeValues(raw)
}

func (s *Storage) Flush(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteList, key); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, deleteMeta, key)
		return err
	})
}

func (s *Storage) FlushWindow(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	_, err := s.pool.Exec(ctx, deleteList, key)
	return err
}

func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := s.pool.Query(ctx, selectKeys)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Storage) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.pool.Close()
	return nil
}
