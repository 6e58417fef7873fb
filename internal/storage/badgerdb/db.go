package badgerdb

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

type Config struct {
	// Dir is the data directory, empty for an in-memory database
	Dir string `koanf:"dir"`
}

// DB is a badger backed storage.ByteStore
type DB struct {
	open atomic.Bool

	dbPath string
	logger zerolog.Logger

	db *badger.DB
}

var _ storage.ByteStore = (*DB)(nil)

// Open opens a file based database at c.Dir or an in memory one when
// c.Dir is empty.
func Open(c *Config) (*DB, error) {
	newLogger := logger.Component(logger.GetLogger("wirestream"), "badgerdb")

	opts := badger.DefaultOptions(c.Dir).WithLogger(nil)
	if c.Dir == "" {
		opts = opts.WithInMemory(true)
	}
	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if c.Dir == "" {
		newLogger.Debug().Msg("opened a in-memory database")
	} else {
		newLogger.Debug().Msgf("opened a file-based database at %s", c.Dir)
	}

	db := &DB{
		dbPath: c.Dir,
		logger: newLogger,
		db:     badgerDB,
	}
	db.open.Store(true)
	return db, nil
}

// New opens the database and wraps it into the window storage contract.
func New(c *Config) (*storage.KVStorage, error) {
	db, err := Open(c)
	if err != nil {
		return nil, err
	}
	return storage.NewKVStorage("badger", db, db.logger), nil
}

func (db *DB) Put(_ context.Context, key string, val []byte) error {
	if !db.open.Load() {
		return storage.ErrNotOpen
	}

	db.logger.Trace().Msgf("setting value of key %v", key)
	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		db.logger.Err(err).Msgf("err setting value of key %v", key)
		return err
	}
	return nil
}

// Get returns the value for key, or nil if key was not found.
func (db *DB) Get(_ context.Context, key string) ([]byte, error) {
	if !db.open.Load() {
		return nil, storage.ErrNotOpen
	}

	var val []byte
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		db.logger.Err(err).Msgf("err getting value of key %v", key)
		return nil, err
	}
	return val, nil
}

func (db *DB) Delete(_ context.Context, key string) error {
	if !db.open.Load() {
		return storage.ErrNotOpen
	}
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (db *DB) Keys(_ context.Context, prefix string) ([]string, error) {
	if !db.open.Load() {
		return nil, storage.ErrNotOpen
	}

	var keys []string
	err := db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
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
