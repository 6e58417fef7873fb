package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotOpen is returned when a backend was used before it connected.
	ErrNotOpen = errors.New("storage not open")

	// ErrClosed is returned when a backend is used after Disconnect.
	ErrClosed = errors.New("storage closed")

	// ErrInvalidConfig is returned by constructors given unusable settings.
	ErrInvalidConfig = errors.New("invalid storage config")

	// ErrUnknownKind is returned by the factory for unregistered kinds.
	ErrUnknownKind = errors.New("unknown storage kind")
)

// WindowMetadata is the per-key record a window persists next to its
// element list. Timestamps are epoch milliseconds; nil means unset.
type WindowMetadata struct {
	WindowElements int    `codec:"windowElements" json:"windowElements" bson:"windowElements"`
	StartTimestamp *int64 `codec:"startTimestamp,omitempty" json:"startTimestamp,omitempty" bson:"startTimestamp,omitempty"`
	EndTimestamp   *int64 `codec:"endTimestamp,omitempty" json:"endTimestamp,omitempty" bson:"endTimestamp,omitempty"`
	EventTime      *int64 `codec:"eventTime,omitempty" json:"eventTime,omitempty" bson:"eventTime,omitempty"`
	SlideSize      *int64 `codec:"slideSize,omitempty" json:"slideSize,omitempty" bson:"slideSize,omitempty"`
	// Watermark is the end of the last closed time window of the key.
	Watermark      *int64 `codec:"watermark,omitempty" json:"watermark,omitempty" bson:"watermark,omitempty"`
}

// Open reports whether the metadata describes an open time window.
func (m *WindowMetadata) Open() bool {
	return m != nil && m.StartTimestamp != nil && m.EndTimestamp != nil
}

// Late reports whether eventTime is at or behind the watermark.
func (m *WindowMetadata) Late(eventTime int64) bool {
	return m != nil && m.Watermark != nil && eventTime <= *m.Watermark
}

// Timestamp is the element timestamp a push associates with its value.
func (m *WindowMetadata) Timestamp() int64 {
	if m == nil || m.EventTime == nil {
		return 0
	}
	return *m.EventTime
}

// Clone deep copies the record.
func (m *WindowMetadata) Clone() *WindowMetadata {
	if m == nil {
		return nil
	}
	return &WindowMetadata{
		WindowElements: m.WindowElements,
		StartTimestamp: copyInt64(m.StartTimestamp),
		EndTimestamp:   copyInt64(m.EndTimestamp),
		EventTime:      copyInt64(m.EventTime),
		SlideSize:      copyInt64(m.SlideSize),
		Watermark:      copyInt64(m.Watermark),
	}
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// Element is a stored value together with the timestamp it was pushed with.
type Element struct {
	Timestamp int64 `codec:"ts" json:"ts" bson:"ts"`
	Value     any   `codec:"v" json:"v" bson:"v"`
}

// Values strips the timestamps from a list of elements.
func Values(elements []Element) []any {
	if len(elements) == 0 {
		return nil
	}
	out := make([]any, len(elements))
	for i, e := range elements {
		out[i] = e.Value
	}
	return out
}

// Storage is the contract every window backend satisfies. Implementations
// hold no window logic; they store an ordered element list and a metadata
// record per key.
type Storage interface {
	// Push appends value to the key's list, stamped with md's event time.
	// md is persisted alongside.
	Push(ctx context.Context, key string, md *WindowMetadata, value any) error

	// GetList returns the key's values in insertion order, nil if absent.
	GetList(ctx context.Context, key string) ([]any, error)

	// GetMetadata returns nil, nil when no record exists.
	GetMetadata(ctx context.Context, key string) (*WindowMetadata, error)

	SetMetadata(ctx context.Context, key string, md *WindowMetadata) error

	// SliceTime removes elements whose timestamp is before boundary.
	SliceTime(ctx context.Context, key string, boundary int64) error

	// SliceCountAndGet removes and returns the n oldest values.
	SliceCountAndGet(ctx context.Context, key string, n int) ([]any, error)

	// Flush removes the list and the metadata record.
	Flush(ctx context.Context, key string) error

	// FlushWindow removes the list and keeps the metadata record.
	FlushWindow(ctx context.Context, key string) error

	// Disconnect releases the backend. Calling it twice is not an error.
	Disconnect() error
}

// Inspector is implemented by backends that can enumerate their keys.
type Inspector interface {
	Keys(ctx context.Context) ([]string, error)
}

// Drainer is implemented by backends that can atomically append a value
// and, once the key holds at least maxSize values, remove and return all
// of them. Exactly one caller receives a given drained set.
type Drainer interface {
	AppendAndDrain(ctx context.Context, key string, value any, maxSize int) ([]any, error)
}
