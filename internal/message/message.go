package message

import (
	"fmt"
	"maps"
	"time"

	uuid "github.com/google/uuid"
	"github.com/tarungka/wirestream/internal/logger"
)

const (
	// KeyField is the metadata field windows partition on.
	KeyField = "key"
	// EventTimeField carries the event time of a message.
	EventTimeField = "eventTime"

	DefaultKey = "default"
)

// GlobalState is a mutable map shared by every message derived from the
// same injection. It is not synchronized; stages that touch it from
// concurrent workers must coordinate themselves.
type GlobalState map[string]any

// Message is the envelope that flows between stages
type Message struct {
	ID          uuid.UUID // a UUID v7, sortable by creation time
	Payload     any
	Metadata    map[string]any
	GlobalState GlobalState
}

// New creates a message. A nil metadata map is replaced with an empty one.
func New(payload any, metadata map[string]any, state GlobalState) *Message {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Message{
		ID:          newID(),
		Payload:     payload,
		Metadata:    metadata,
		GlobalState: state,
	}
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		logger.AdHocLogger.Err(err).Msg("error when creating a message id")
		return uuid.New()
	}
	return id
}

// Derive returns a message carrying payload with the receiver's metadata
// and global state.
func (m *Message) Derive(payload any) *Message {
	return &Message{
		ID:          m.ID,
		Payload:     payload,
		Metadata:    m.Metadata,
		GlobalState: m.GlobalState,
	}
}

// With returns a derived message whose metadata has field set to value.
// The receiver's metadata is left untouched.
func (m *Message) With(field string, value any) *Message {
	md := make(map[string]any, len(m.Metadata)+1)
	maps.Copy(md, m.Metadata)
	md[field] = value
	out := m.Derive(m.Payload)
	out.Metadata = md
	return out
}

// Clone copies the metadata map so the clone can be modified independently.
// Payload and global state are shared.
func (m *Message) Clone() *Message {
	md := make(map[string]any, len(m.Metadata))
	maps.Copy(md, m.Metadata)
	return &Message{
		ID:          newID(),
		Payload:     m.Payload,
		Metadata:    md,
		GlobalState: m.GlobalState,
	}
}

// Key returns the partitioning key, DefaultKey when none was assigned.
func (m *Message) Key() string {
	switch k := m.Metadata[KeyField].(type) {
	case string:
		if k != "" {
			return k
		}
	case []byte:
		if len(k) > 0 {
			return string(k)
		}
	case nil:
	default:
		return fmt.Sprint(k)
	}
	return DefaultKey
}

// EventTime reads the event time from the metadata. Accepted forms are
// time.Time, epoch milliseconds and RFC3339 strings.
func (m *Message) EventTime() (time.Time, bool) {
	return ParseTime(m.Metadata[EventTimeField])
}

// ParseTime converts the supported time representations into a time.Time.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case float64:
		return time.UnixMilli(int64(t)), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			logger.AdHocLogger.Err(err).Str("value", t).Msg("error when parsing eventTime")
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
