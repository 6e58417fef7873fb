package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wirestream/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewRequiresURI(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	assert.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestMetadataDocumentIsFlat(t *testing.T) {
	doc := metadataDoc{
		Key: "k",
		WindowMetadata: storage.WindowMetadata{
			WindowElements: 2,
			StartTimestamp: storage.Int64(1000),
		},
	}
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "k", m["_id"])
	assert.EqualValues(t, 2, m["windowElements"])
	assert.EqualValues(t, 1000, m["startTimestamp"])
	assert.NotContains(t, m, "endTimestamp")

	var back metadataDoc
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.Equal(t, doc, back)
}

func TestValuesKeepsOrder(t *testing.T) {
	docs := []elementDoc{
		{ID: primitive.NewObjectID(), Key: "k", Value: "a"},
		{ID: primitive.NewObjectID(), Key: "k", Value: "b"},
	}
	assert.Equal(t, []any{"a", "b"}, values(docs))
	assert.Nil(t, values(nil))
}
