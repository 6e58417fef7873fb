package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
	"github.com/tarungka/wirestream/internal/pipeline"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OperationField carries the change stream operation type (insert,
// update, replace, delete).
const OperationField = "operation"

// MongoSource watches a collection's change stream. The change stream needs
// a replica set or sharded cluster.
type MongoSource struct {
	pipelineKey            string
	pipelineName           string
	pipelineConnectionType string

	// MongoDB connection details
	mongoDbUri string
	mongoDbDb  string
	mongoDbCol string

	logger zerolog.Logger
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Source = (*MongoSource)(nil)

// changeEvent is the subset of a change stream document the source reads.
type changeEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	DocumentKey   bson.M              `bson:"documentKey"`
	FullDocument  bson.M              `bson:"fullDocument"`
}

func (m *MongoSource) Init(args SourceConfig) error {
	m.pipelineKey = args.Key
	m.pipelineName = args.Name
	m.pipelineConnectionType = args.ConnectionType
	m.logger = logger.Component(logger.GetLogger("wirestream"), "mongo-source")

	if args.Config["mongo_uri"] == "" || args.Config["database"] == "" || args.Config["collection"] == "" {
		m.logger.Error().Msg("Error missing config values")
		return fmt.Errorf("%w: mongo source needs mongo_uri, database and collection", ErrMissingConfig)
	}
	m.mongoDbUri = args.Config["mongo_uri"]
	m.mongoDbDb = args.Config["database"]
	m.mongoDbCol = args.Config["collection"]
	return nil
}

func (m *MongoSource) Connect(ctx context.Context) error {
	m.logger.Trace().Msg("Connecting to mongodb...")
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.mongoDbUri))
	if err != nil {
		m.logger.Err(err).Msg("Error when connecting to mongodb database!")
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	m.client = client
	m.coll = client.Database(m.mongoDbDb).Collection(m.mongoDbCol)
	return nil
}

// Produce emits one message per change until ctx is done. Updates carry the
// current full document.
func (m *MongoSource) Produce(ctx context.Context, emit pipeline.Emit) error {
	if m.coll == nil {
		return ErrNotConnected
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := m.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return fmt.Errorf("watch %s.%s: %w", m.mongoDbDb, m.mongoDbCol, err)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			m.logger.Err(err).Msg("Error un-marshalling MongoDB change document")
			continue
		}
		if err := emit(ctx, changeMessage(&ev)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.Err()
}

// changeMessage keys the message by the document id and stamps it with the
// cluster time of the change. Deletes carry the document key as payload.
func changeMessage(ev *changeEvent) *message.Message {
	md := map[string]any{OperationField: ev.OperationType}
	if id, ok := ev.DocumentKey["_id"]; ok {
		if oid, isOID := id.(primitive.ObjectID); isOID {
			md[message.KeyField] = oid.Hex()
		} else {
			md[message.KeyField] = fmt.Sprint(id)
		}
	}
	if ev.ClusterTime.T != 0 {
		md[message.EventTimeField] = time.Unix(int64(ev.ClusterTime.T), 0).UnixMilli()
	}

	var payload any = map[string]any(ev.FullDocument)
	if ev.FullDocument == nil {
		payload = map[string]any(ev.DocumentKey)
	}
	return message.New(payload, md, message.GlobalState{})
}

func (m *MongoSource) Key() (string, error) {
	if m.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return m.pipelineKey, nil
}

func (m *MongoSource) Name() string {
	return m.pipelineName
}

func (m *MongoSource) Disconnect() error {
	m.logger.Info().Msg("Closing MongoDB connection")
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client, m.coll = nil, nil
	return err
}

func (m *MongoSource) Info() string {
	return fmt.Sprintf("Key:%s|Name:%s|Type:%s", m.pipelineKey, m.pipelineName, m.pipelineConnectionType)
}
