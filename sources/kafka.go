package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/pipeline"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Metadata fields set on every message read from Kafka.
const (
	TopicField     = "topic"
	PartitionField = "partition"
	OffsetField    = "offset"
)

// KafkaSource consumes a topic as a member of a consumer group. Records are
// marked for commit once the pipeline finished with them, so a crash
// replays at most the records still in flight.
type KafkaSource struct {
	pipelineKey            string
	pipelineName           string
	pipelineConnectionType string

	bootstrapServers []string
	consumerGroup    string
	topic            string
	startAtEnd       bool
	rawPayload       bool

	logger              zerolog.Logger
	kafkaConsumerClient *kgo.Client
}

var _ Source = (*KafkaSource)(nil)

// Init reads bootstrap_servers (comma separated), group and topic. The
// optional start_offset (earliest|latest) applies when the group has no
// committed offset; format=raw skips JSON decoding of record values.
func (k *KafkaSource) Init(args SourceConfig) error {
	k.pipelineKey = args.Key
	k.pipelineName = args.Name
	k.pipelineConnectionType = args.ConnectionType
	k.logger = logger.Component(logger.GetLogger("wirestream"), "kafka-source")

	if args.Config["bootstrap_servers"] == "" || args.Config["group"] == "" || args.Config["topic"] == "" {
		k.logger.Error().Msg("Error missing config values")
		return fmt.Errorf("%w: kafka source needs bootstrap_servers, group and topic", ErrMissingConfig)
	}
	k.logger.Debug().Str("bootstrap_servers", args.Config["bootstrap_servers"]).Str("topic", args.Config["topic"]).Str("group", args.Config["group"]).Send()

	k.bootstrapServers = strings.Split(args.Config["bootstrap_servers"], ",")
	k.consumerGroup = args.Config["group"]
	k.topic = args.Config["topic"]

	switch args.Config["start_offset"] {
	case "", "earliest":
	case "latest":
		k.startAtEnd = true
	default:
		return fmt.Errorf("%w: start_offset %q", ErrMissingConfig, args.Config["start_offset"])
	}
	k.rawPayload = args.Config["format"] == "raw"
	return nil
}

func (k *KafkaSource) Connect(ctx context.Context) error {
	k.logger.Trace().Msg("Connecting to kafka cluster as a source...")

	offset := kgo.NewOffset().AtStart()
	if k.startAtEnd {
		offset = kgo.NewOffset().AtEnd()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(k.bootstrapServers...),
		kgo.ConsumerGroup(k.consumerGroup),
		kgo.ConsumeTopics(k.topic),
		kgo.ConsumeResetOffset(offset),
		kgo.AllowAutoTopicCreation(),
		kgo.AutoCommitMarks(),
		kgo.WithLogger(logger.KafkaLogger(k.logger)),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		k.logger.Err(err).Msg("Error when creating a kafka consumer!")
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	k.kafkaConsumerClient = client
	return nil
}

// Produce polls until ctx is done or the client is closed. Each record is
// pushed through emit before the next one; an emit error stops consumption
// without marking the failed record.
func (k *KafkaSource) Produce(ctx context.Context, emit pipeline.Emit) error {
	if k.kafkaConsumerClient == nil {
		return ErrNotConnected
	}
	defer k.logger.Trace().Msg("Done Reading from the kafka source")

	var seen int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := k.kafkaConsumerClient.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(t string, p int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// retriable errors are retried by the client, these need attention
			k.logger.Err(err).Str("topic", t).Int32("partition", p).Msg("fetch error")
		})

		for iter := fetches.RecordIter(); !iter.Done(); {
			record := iter.Next()
			seen++

			msg, err := k.recordMessage(record)
			if err != nil {
				k.logger.Err(err).Str("topic", record.Topic).Int64("offset", record.Offset).Msg("Error un-marshalling kafka record, skipping it")
				k.kafkaConsumerClient.MarkCommitRecords(record)
				continue
			}
			if err := emit(ctx, msg); err != nil {
				return err
			}
			k.kafkaConsumerClient.MarkCommitRecords(record)
		}
		k.logger.Trace().Int("seen", seen).Msg("processed records")
	}
}

// recordMessage converts a record into a message. The record key becomes
// the partitioning key and the record timestamp the event time.
func (k *KafkaSource) recordMessage(record *kgo.Record) (*message.Message, error) {
	var payload any
	if k.rawPayload {
		payload = record.Value
	} else if err := json.Unmarshal(record.Value, &payload); err != nil {
		return nil, err
	}
	md := map[string]any{
		TopicField:     record.Topic,
		PartitionField: record.Partition,
		OffsetField:    record.Offset,
	}
	if len(record.Key) > 0 {
		md[message.KeyField] = string(record.Key)
	}
	if !record.Timestamp.IsZero() {
		md[message.EventTimeField] = record.Timestamp.UnixMilli()
	}
	return message.New(payload, md, message.GlobalState{}), nil
}

func (k *KafkaSource) Key() (string, error) {
	if k.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return k.pipelineKey, nil
}

func (k *KafkaSource) Name() string {
	return k.pipelineName
}

// Disconnect closes the client, leaving the group.
func (k *KafkaSource) Disconnect() error {
	k.logger.Trace().Msg("Disconnecting kafka source")
	if k.kafkaConsumerClient == nil {
		return nil
	}
	k.kafkaConsumerClient.Close()
	k.kafkaConsumerClient = nil
	return nil
}

func (k *KafkaSource) Info() string {
	return fmt.Sprintf("Key:%s|Name:%s|Type:%s", k.pipelineKey, k.pipelineName, k.pipelineConnectionType)
}
