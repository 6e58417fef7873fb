package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
)

// ElasticSink indexes one document per message. The message ID is the
// document ID, so a replayed message overwrites instead of duplicating.
type ElasticSink struct {
	pipelineKey            string
	pipelineName           string
	pipelineConnectionType string

	// Elasticsearch connection details
	elasticCloudId string
	elasticUrls    []string
	elasticApiKey  string
	elasticIndex   string

	logger zerolog.Logger
	es     *elasticsearch.Client
}

var _ Sink = (*ElasticSink)(nil)

type elasticDocument struct {
	Key      string         `json:"key"`
	Payload  any            `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e *ElasticSink) Init(args SinkConfig) error {
	e.pipelineKey = args.Key
	e.pipelineName = args.Name
	e.pipelineConnectionType = args.ConnectionType
	e.logger = logger.Component(logger.GetLogger("wirestream"), "elastic-sink")

	e.elasticCloudId = args.Config["cloud_id"]
	if args.Config["url"] != "" {
		e.elasticUrls = strings.Split(args.Config["url"], ",")
	}
	e.elasticApiKey = args.Config["api_key"]
	e.elasticIndex = args.Config["index_name"]

	if (e.elasticCloudId == "" && len(e.elasticUrls) == 0) || e.elasticIndex == "" {
		e.logger.Error().Msg("Error missing config values")
		return fmt.Errorf("%w: elasticsearch sink needs url or cloud_id and index_name", ErrMissingConfig)
	}
	return nil
}

func (e *ElasticSink) Connect(ctx context.Context) error {
	e.logger.Trace().Msg("Connecting to elasticsearch...")
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: e.elasticUrls,
		CloudID:   e.elasticCloudId,
		APIKey:    e.elasticApiKey,
	})
	if err != nil {
		return fmt.Errorf("create elasticsearch client: %w", err)
	}
	e.es = es
	return nil
}

func (e *ElasticSink) Write(ctx context.Context, msg *message.Message) error {
	if e.es == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(elasticDocument{
		Key:      msg.Key(),
		Payload:  msg.Payload,
		Metadata: msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      e.elasticIndex,
		DocumentID: msg.ID.String(),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.es)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		e.logger.Error().Str("status", res.Status()).Str("index", e.elasticIndex).Msg("error indexing document")
		return fmt.Errorf("index document %s: %s", msg.ID, res.Status())
	}
	e.logger.Trace().Str("index", e.elasticIndex).Msg("Writing to Elasticsearch")
	return nil
}

func (e *ElasticSink) Key() (string, error) {
	if e.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return e.pipelineKey, nil
}

func (e *ElasticSink) Name() string {
	return e.pipelineName
}

func (e *ElasticSink) Info() string {
	return fmt.Sprintf("Key:%s|Name:%s|Type:%s", e.pipelineKey, e.pipelineName, e.pipelineConnectionType)
}

// Disconnect drops the client; the transport holds no open streams.
func (e *ElasticSink) Disconnect() error {
	e.logger.Info().Msg("Closing Elasticsearch connection")
	e.es = nil
	return nil
}
