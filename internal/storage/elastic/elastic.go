package elastic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage"
)

const (
	defaultIndex = "wirestream-windows"
	// a single search page is enough for the key listing endpoint
	maxKeys = 10000
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "key":   {"type": "keyword"},
      "value": {"type": "binary"}
    }
  }
}`

type Config struct {
	Addresses []string `koanf:"addresses"`
	CloudID   string   `koanf:"cloud_id"`
	APIKey    string   `koanf:"api_key"`
	Index     string   `koanf:"index"`
}

type document struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Store is a storage.ByteStore keeping one document per stored key.
type Store struct {
	es     *elasticsearch.Client
	index  string
	logger zerolog.Logger
	open   atomic.Bool
}

var _ storage.ByteStore = (*Store)(nil)

func Open(ctx context.Context, c *Config) (*Store, error) {
	if len(c.Addresses) == 0 && c.CloudID == "" {
		return nil, fmt.Errorf("elasticsearch addresses or cloud id required: %w", storage.ErrInvalidConfig)
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: c.Addresses,
		CloudID:   c.CloudID,
		APIKey:    c.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	index := c.Index
	if index == "" {
		index = defaultIndex
	}

	s := &Store{
		es:     es,
		index:  index,
		logger: logger.Component(logger.GetLogger("wirestream"), "elastic-storage"),
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	s.open.Store(true)
	return s, nil
}

// New opens the index and wraps it into the window storage contract.
func New(ctx context.Context, c *Config) (*storage.KVStorage, error) {
	s, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	return storage.NewKVStorage("elasticsearch", s, s.logger), nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(indexMapping),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	// 400 resource_already_exists_exception
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("create index %s: %s", s.index, res.Status())
	}
	return nil
}

func documentID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.open.Load() {
		return nil, storage.ErrNotOpen
	}
	req := esapi.GetRequest{
		Index:      s.index,
		DocumentID: documentID(key),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get document %q: %s", key, res.Status())
	}
	var r struct {
		Source document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", key, err)
	}
	return r.Source.Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if !s.open.Load() {
		return storage.ErrNotOpen
	}
	body, err := json.Marshal(document{Key: key, Value: value})
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index: s.index,
		// IMP: the document id is derived from the key
		DocumentID: documentID(key),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		s.logger.Error().Str("status", res.Status()).Str("key", key).Msg("error indexing document")
		return fmt.Errorf("index document %q: %s", key, res.Status())
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.open.Load() {
		return storage.ErrNotOpen
	}
	req := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: documentID(key),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document %q: %s", key, res.Status())
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !s.open.Load() {
		return nil, storage.ErrNotOpen
	}
	query, err := json.Marshal(map[string]any{
		"_source": []string{"key"},
		"query": map[string]any{
			"prefix": map[string]any{"key": prefix},
		},
	})
	if err != nil {
		return nil, err
	}
	size := maxKeys
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(query),
		Size:  &size,
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search keys: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	keys := make([]string, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		keys = append(keys, h.Source.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	s.open.Store(false)
	return nil
}
