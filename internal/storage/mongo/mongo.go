package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultDatabase    = "wirestream"
	elementsCollection = "window_elements"
	metadataCollection = "window_metadata"
)

type Config struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

// elementDoc is one pushed value. ObjectIDs grow monotonically per process
// which gives the insertion order.
type elementDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Key   string             `bson:"key"`
	TS    int64              `bson:"ts"`
	Value any                `bson:"value"`
}

type metadataDoc struct {
	Key                    string `bson:"_id"`
	storage.WindowMetadata `bson:",inline"`
}

// Storage keeps one document per element and one metadata document per key.
type Storage struct {
	client   *mongo.Client
	elements *mongo.Collection
	metadata *mongo.Collection
	logger   zerolog.Logger
	closed   atomic.Bool
}

var (
	_ storage.Storage   = (*Storage)(nil)
	_ storage.Inspector = (*Storage)(nil)
)

func New(ctx context.Context, c *Config) (*Storage, error) {
	if c.URI == "" {
		return nil, fmt.Errorf("mongo uri is required: %w", storage.ErrInvalidConfig)
	}
	l := logger.Component(logger.GetLogger("wirestream"), "mongo-storage")

	l.Trace().Msg("Connecting to mongodb...")
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		l.Err(err).Msg("Error when connecting to mongodb database!")
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	database := c.Database
	if database == "" {
		database = defaultDatabase
	}
	db := client.Database(database)
	s := &Storage{
		client:   client,
		elements: db.Collection(elementsCollection),
		metadata: db.Collection(metadataCollection),
		logger:   l,
	}

	_, err = s.elements.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "key", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create element index: %w", err)
	}
	return s, nil
}

func (s *Storage) Push(ctx context.Context, key string, md *storage.WindowMetadata, value any) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	doc := elementDoc{ID: primitive.NewObjectID(), Key: key, TS: md.Timestamp(), Value: value}
	if _, err := s.elements.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert element %q: %w", key, err)
	}
	if md == nil {
		return nil
	}
	return s.SetMetadata(ctx, key, md)
}

func (s *Storage) find(ctx context.Context, key string, limit int64) ([]elementDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.elements.Find(ctx, bson.D{{Key: "key", Value: key}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find elements %q: %w", key, err)
	}
	var docs []elementDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode elements %q: %w", key, err)
	}
	return docs, nil
}

func values(docs []elementDoc) []any {
	if len(docs) == 0 {
		return nil
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d.Value
	}
	return out
}

func (s *Storage) GetList(ctx context.Context, key string) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	docs, err := s.find(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	return values(docs), nil
}

func (s *Storage) GetMetadata(ctx context.Context, key string) (*storage.WindowMetadata, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	var doc metadataDoc
	err := s.metadata.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find metadata %q: %w", key, err)
	}
	return &doc.WindowMetadata, nil
}

func (s *Storage) SetMetadata(ctx context.Context, key string, md *storage.WindowMetadata) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	doc := metadataDoc{Key: key, WindowMetadata: *md}
	_, err := s.metadata.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace metadata %q: %w", key, err)
	}
	return nil
}

func (s *Storage) SliceTime(ctx context.Context, key string, boundary int64) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	_, err := s.elements.DeleteMany(ctx, bson.D{
		{Key: "key", Value: key},
		{Key: "ts", Value: bson.D{{Key: "$lt", Value: boundary}}},
	})
	return err
}

func (s *Storage) SliceCountAndGet(ctx context.Context, key string, n int) ([]any, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	docs, err := s.find(ctx, key, int64(n))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	ids := make([]primitive.ObjectID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := s.elements.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); err != nil {
		return nil, fmt.Errorf("delete elements %q: %w", key, err)
	}
	return values(docs), nil
}

func (s *Storage) Flush(ctx context.Context, key string) error {
	if err := s.FlushWindow(ctx, key); err != nil {
		return err
	}
	_, err := s.metadata.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return err
}

func (s *Storage) FlushWindow(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	_, err := s.elements.DeleteMany(ctx, bson.D{{Key: "key", Value: key}})
	return err
}

func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	seen := make(map[string]struct{})
	elementKeys, err := s.elements.Distinct(ctx, "key", bson.D{})
	if err != nil {
		return nil, err
	}
	metaKeys, err := s.metadata.Distinct(ctx, "_id", bson.D{})
	if err != nil {
		return nil, err
	}
	for _, k := range append(elementKeys, metaKeys...) {
		if str, ok := k.(string); ok {
			seen[str] = struct{}{}
		}
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Err(err).Msg("Error when dis-connecting from mongodb database!")
		return err
	}
	return nil
}
