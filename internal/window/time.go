package window

import (
	"context"
	"fmt"

	"github.com/tarungka/wirestream/internal/storage"
)

// TumblingTimeWindow groups values into the event time interval
// [start, end] given by the hint of the push that opened it. A push past end
// closes the window, and end stays behind as the watermark of the key.
type TumblingTimeWindow struct {
	*base
}

func (w *TumblingTimeWindow) Push(ctx context.Context, key string, value any, hint Hint) (*Emission, error) {
	if hint.EndTimestamp <= hint.StartTimestamp {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidHint)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	md, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	et := hint.EventTime
	if md.Late(et) {
		w.late(key, et)
		return nil, nil
	}

	if !md.Open() {
		return nil, w.open(ctx, key, hint, value, md.Watermark)
	}

	start, end := *md.StartTimestamp, *md.EndTimestamp
	switch {
	case et >= start && et <= end:
		next := md.Clone()
		next.WindowElements++
		next.EventTime = storage.Int64(et)
		return nil, w.push(ctx, key, next, value)

	case et > end:
		list, err := w.list(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := w.store.FlushWindow(ctx, key); err != nil {
			return nil, fmt.Errorf("flush window %q: %w", key, err)
		}
		w.unload(key)
		if err := w.open(ctx, key, hint, value, storage.Int64(end)); err != nil {
			return nil, err
		}
		w.logger.Debug().Str("key", key).Int("elements", len(list)).Msg("window closed by newer event")
		return timeEmission(key, list, start, end), nil
	}

	w.late(key, et)
	return nil, nil
}

// open starts the window described by hint with value as its first
// element.
func (w *TumblingTimeWindow) open(ctx context.Context, key string, hint Hint, value any, watermark *int64) error {
	md := &storage.WindowMetadata{
		WindowElements: 1,
		StartTimestamp: storage.Int64(hint.StartTimestamp),
		EndTimestamp:   storage.Int64(hint.EndTimestamp),
		EventTime:      storage.Int64(hint.EventTime),
		Watermark:      watermark,
	}
	return w.push(ctx, key, md, value)
}

func (w *TumblingTimeWindow) OnInactivityEmit(ctx context.Context, key string) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeTimeWindow(ctx, key)
}

// SlidingTimeWindow is a time window [start, end] of fixed length whose
// bounds advance by the slide duration when an event past end arrives. Values older than the
// new start are trimmed, the rest stay in the window.
type SlidingTimeWindow struct {
	*base
}

func (w *SlidingTimeWindow) Push(ctx context.Context, key string, value any, hint Hint) (*Emission, error) {
	if hint.EndTimestamp <= hint.StartTimestamp || hint.SlideDuration <= 0 {
		return nil, fmt.Errorf("%w: need end after start and a positive slide", ErrInvalidHint)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	md, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	et := hint.EventTime
	if md.Late(et) {
		w.late(key, et)
		return nil, nil
	}

	if !md.Open() {
		next := &storage.WindowMetadata{
			WindowElements: 1,
			StartTimestamp: storage.Int64(hint.StartTimestamp),
			EndTimestamp:   storage.Int64(hint.EndTimestamp),
			EventTime:      storage.Int64(et),
			SlideSize:      storage.Int64(hint.SlideDuration),
			Watermark:      md.Watermark,
		}
		return nil, w.push(ctx, key, next, value)
	}

	start, end := *md.StartTimestamp, *md.EndTimestamp
	switch {
	case et >= start && et <= end:
		next := md.Clone()
		next.WindowElements++
		next.EventTime = storage.Int64(et)
		return nil, w.push(ctx, key, next, value)

	case et > end:
		slide := hint.SlideDuration
		if md.SlideSize != nil && *md.SlideSize > 0 {
			slide = *md.SlideSize
		}
		// smallest number of slides that brings et inside the window
		steps := (et-end-1)/slide + 1
		newStart, newEnd := start+steps*slide, end+steps*slide

		list, err := w.list(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := w.store.SliceTime(ctx, key, newStart); err != nil {
			return nil, fmt.Errorf("slice %q: %w", key, err)
		}
		remaining, err := w.list(ctx, key)
		if err != nil {
			return nil, err
		}

		next := &storage.WindowMetadata{
			WindowElements: len(remaining) + 1,
			StartTimestamp: storage.Int64(newStart),
			EndTimestamp:   storage.Int64(newEnd),
			EventTime:      storage.Int64(et),
			SlideSize:      storage.Int64(slide),
		}
		w.unload(key)
		if err := w.push(ctx, key, next, value); err != nil {
			return nil, err
		}
		w.logger.Debug().Str("key", key).Int64("start", newStart).Int64("end", newEnd).Msg("window slid")
		return timeEmission(key, list, start, end), nil
	}

	w.late(key, et)
	return nil, nil
}

func (w *SlidingTimeWindow) OnInactivityEmit(ctx context.Context, key string) (*Emission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeTimeWindow(ctx, key)
}
