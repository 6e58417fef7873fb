package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsMetadata(t *testing.T) {
	m := New(1, nil, nil)
	require.NotNil(t, m.Metadata)
	assert.Equal(t, 1, m.Payload)
	assert.Equal(t, uuid.Version(7), m.ID.Version())
}

func TestDeriveSharesMetadataAndState(t *testing.T) {
	state := GlobalState{"count": 1}
	m := New("a", map[string]any{KeyField: "k"}, state)
	d := m.Derive("b")

	assert.Equal(t, "b", d.Payload)
	assert.Equal(t, "k", d.Key())

	d.GlobalState["count"] = 2
	assert.Equal(t, 2, m.GlobalState["count"])
}

func TestCloneCopiesMetadata(t *testing.T) {
	m := New("a", map[string]any{KeyField: "k"}, GlobalState{})
	c := m.Clone()
	c.Metadata[KeyField] = "other"

	assert.Equal(t, "k", m.Key())
	assert.Equal(t, "other", c.Key())
	assert.NotEqual(t, m.ID, c.ID)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		md   map[string]any
		want string
	}{
		{"missing", map[string]any{}, DefaultKey},
		{"empty", map[string]any{KeyField: ""}, DefaultKey},
		{"string", map[string]any{KeyField: "user-1"}, "user-1"},
		{"bytes", map[string]any{KeyField: []byte("user-2")}, "user-2"},
		{"number", map[string]any{KeyField: 42}, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(nil, tt.md, nil).Key())
		})
	}
}

func TestEventTime(t *testing.T) {
	ref := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  any
		want   time.Time
		wantOk bool
	}{
		{"time", ref, ref, true},
		{"millis", ref.UnixMilli(), ref, true},
		{"rfc3339", ref.Format(time.RFC3339), ref, true},
		{"garbage", "yesterday", time.Time{}, false},
		{"missing", nil, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, map[string]any{EventTimeField: tt.value}, nil)
			got, ok := m.EventTime()
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.True(t, tt.want.Equal(got))
			}
		})
	}
}

func TestWithCopiesMetadata(t *testing.T) {
	m := New("p", map[string]any{KeyField: "a"}, nil)
	out := m.With(KeyField, "b")

	assert.Equal(t, m.ID, out.ID)
	assert.Equal(t, "a", m.Key())
	assert.Equal(t, "b", out.Key())
	assert.Equal(t, "p", out.Payload)
}
