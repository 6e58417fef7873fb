package sinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces every message to one topic, keyed by the message key.
type KafkaSink struct {
	pipelineKey            string
	pipelineName           string
	pipelineConnectionType string

	// Kafka Producer details
	bootstrapServers []string
	topic            string

	logger              zerolog.Logger
	kafkaProducerClient *kgo.Client
}

var _ Sink = (*KafkaSink)(nil)

func (k *KafkaSink) Init(args SinkConfig) error {
	k.pipelineKey = args.Key
	k.pipelineName = args.Name
	k.pipelineConnectionType = args.ConnectionType
	k.logger = logger.Component(logger.GetLogger("wirestream"), "kafka-sink")

	if args.Config["bootstrap_servers"] == "" || args.Config["topic"] == "" {
		k.logger.Error().Msg("Error missing config values")
		return fmt.Errorf("%w: kafka sink needs bootstrap_servers and topic", ErrMissingConfig)
	}
	k.logger.Debug().Str("bootstrap_servers", args.Config["bootstrap_servers"]).Str("topic", args.Config["topic"]).Send()

	k.bootstrapServers = strings.Split(args.Config["bootstrap_servers"], ",")
	k.topic = args.Config["topic"]
	return nil
}

func (k *KafkaSink) Connect(ctx context.Context) error {
	k.logger.Trace().Msg("Connecting to kafka cluster as a sink...")
	opts := []kgo.Opt{
		kgo.SeedBrokers(k.bootstrapServers...),
		kgo.DefaultProduceTopic(k.topic),
		kgo.AllowAutoTopicCreation(),
		kgo.WithLogger(logger.KafkaLogger(k.logger)),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		k.logger.Err(err).Msg("Error when creating a kafka producer!")
		return fmt.Errorf("create kafka producer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	k.kafkaProducerClient = client
	return nil
}

// Write blocks until the broker acknowledged the record, so a failed
// produce fails the stage that emitted msg.
func (k *KafkaSink) Write(ctx context.Context, msg *message.Message) error {
	if k.kafkaProducerClient == nil {
		return ErrNotConnected
	}
	record, err := k.record(msg)
	if err != nil {
		return err
	}
	if err := k.kafkaProducerClient.ProduceSync(ctx, record).FirstErr(); err != nil {
		k.logger.Err(err).Str("topic", k.topic).Msg("record had a produce error")
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	k.logger.Trace().Str("topic", k.topic).Msg("Successfully produced message")
	return nil
}

// record builds the Kafka record of msg. A message that never got a key is
// produced without one so the partitioner spreads it.
func (k *KafkaSink) record(msg *message.Message) (*kgo.Record, error) {
	value, err := encode(msg.Payload)
	if err != nil {
		return nil, err
	}
	record := &kgo.Record{
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "message-id", Value: []byte(msg.ID.String())}},
	}
	if key := msg.Key(); key != message.DefaultKey {
		record.Key = []byte(key)
	}
	if et, ok := msg.EventTime(); ok {
		record.Timestamp = et
	}
	return record, nil
}

func (k *KafkaSink) Disconnect() error {
	k.logger.Info().Msg("Disconnecting kafka sink")
	if k.kafkaProducerClient == nil {
		return nil
	}
	k.kafkaProducerClient.Close()
	k.kafkaProducerClient = nil
	return nil
}

func (k *KafkaSink) Key() (string, error) {
	if k.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return k.pipelineKey, nil
}

func (k *KafkaSink) Name() string { return k.pipelineName }

func (k *KafkaSink) Info() string {
	return fmt.Sprintf("Key:%s|Name:%s|Type:%s", k.pipelineKey, k.pipelineName, k.pipelineConnectionType)
}
