package window

import "time"

// CountHint is the hint of the count windows.
func CountHint(maxSize, slideSize int) Hint {
	return Hint{MaxSize: maxSize, SlideSize: slideSize}
}

// TimeHint aligns eventTime to the tumbling window of length size that
// contains it.
func TimeHint(eventTime time.Time, size time.Duration) Hint {
	et := eventTime.UnixMilli()
	ms := size.Milliseconds()
	start := et - mod(et, ms)
	return Hint{
		StartTimestamp: start,
		EndTimestamp:   start + ms,
		EventTime:      et,
	}
}

// SlidingHint is the hint of a sliding time window of length size
// advancing by slide. A freshly opened window starts at the slide
// boundary preceding eventTime.
func SlidingHint(eventTime time.Time, size, slide time.Duration) Hint {
	et := eventTime.UnixMilli()
	step := slide.Milliseconds()
	start := et - mod(et, step)
	return Hint{
		StartTimestamp: start,
		EndTimestamp:   start + size.Milliseconds(),
		EventTime:      et,
		SlideDuration:  step,
	}
}

// mod is the non negative remainder, so times before the epoch align down.
func mod(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
