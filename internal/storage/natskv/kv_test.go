package natskv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodingRoundTrip(t *testing.T) {
	for _, key := range []string{"list/user 1", "meta/ünïcode", "list/a.b>c*"} {
		encoded := encodeKey(key)
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, encoded)

		decoded, err := decodeKey(encoded)
		require.NoError(t, err)
		assert.Equal(t, key, decoded)
	}
}

func TestClosedStore(t *testing.T) {
	s := NewWithBucket(nil, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}
