package boltdb

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "windows"

type Config struct {
	Path   string `koanf:"path"`
	Bucket string `koanf:"bucket"`
}

// DB stores window state in a single bbolt bucket.
type DB struct {
	open   atomic.Bool
	bucket []byte
	logger zerolog.Logger

	db *bolt.DB
}

var _ storage.ByteStore = (*DB)(nil)

func Open(c *Config) (*DB, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("bolt path is required: %w", storage.ErrInvalidConfig)
	}
	bucket := c.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	boltDB, err := bolt.Open(c.Path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", c.Path, err)
	}
	err = boltDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	db := &DB{
		bucket: []byte(bucket),
		logger: logger.Component(logger.GetLogger("wirestream"), "boltdb"),
		db:     boltDB,
	}
	db.open.Store(true)
	db.logger.Debug().Str("path", c.Path).Str("bucket", bucket).Msg("opened bolt database")
	return db, nil
}

// New opens the database and wraps it into the window storage contract.
func New(c *Config) (*storage.KVStorage, error) {
	db, err := Open(c)
	if err != nil {
		return nil, err
	}
	return storage.NewKVStorage("bolt", db, db.logger), nil
}

func (db *DB) Get(_ context.Context, key string) ([]byte, error) {
	if !db.open.Load() {
		return nil, storage.ErrNotOpen
	}
	var val []byte
	err := db.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(db.bucket).Get([]byte(key))
		if v != nil {
			// only valid for the life of the transaction
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

func (db *DB) Put(_ context.Context, key string, value []byte) error {
	if !db.open.Load() {
		return storage.ErrNotOpen
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Put([]byte(key), value)
	})
}

func (db *DB) Delete(_ context.Context, key string) error {
	if !db.open.Load() {
		return storage.ErrNotOpen
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Delete([]byte(key))
	})
}

func (db *DB) Keys(_ context.Context, prefix string) ([]string, error) {
	if !db.open.Load() {
		return nil, storage.ErrNotOpen
	}
	var keys []string
	err := db.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(db.bucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (db *DB) Close() error {
	if !db.open.CompareAndSwap(true, false) {
		return nil
	}
	return db.db.Close()
}
