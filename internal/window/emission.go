package window

import (
	"time"
)

// Emission is the aggregated output of a closed window.
type Emission struct {
	Payload  []any
	Metadata EmissionMetadata
}

// EmissionMetadata describes the closed window. Time fields are nil for
// count and session windows.
type EmissionMetadata struct {
	WindowKey       string
	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds *float64
	DurationMinutes *float64
	DurationHours   *float64
	WindowElements  int
}

// MetadataMap flattens the metadata into the keys messages carry.
func (e *Emission) MetadataMap() map[string]any {
	m := e.Metadata
	md := map[string]any{
		"windowKey":           m.WindowKey,
		"windowElements":      m.WindowElements,
		"startTime":           nil,
		"endTime":             nil,
		"windowTimeInSeconds": nil,
		"windowTimeInMinutes": nil,
		"windowTimeInHours":   nil,
	}
	if m.StartTime != nil {
		md["startTime"] = *m.StartTime
	}
	if m.EndTime != nil {
		md["endTime"] = *m.EndTime
	}
	if m.DurationSeconds != nil {
		md["windowTimeInSeconds"] = *m.DurationSeconds
		md["windowTimeInMinutes"] = *m.DurationMinutes
		md["windowTimeInHours"] = *m.DurationHours
	}
	return md
}

func countEmission(key string, payload []any) *Emission {
	return &Emission{
		Payload: payload,
		Metadata: EmissionMetadata{
			WindowKey:      key,
			WindowElements: len(payload),
		},
	}
}

func timeEmission(key string, payload []any, start, end int64) *Emission {
	e := countEmission(key, payload)
	s, en := time.UnixMilli(start), time.UnixMilli(end)
	d := en.Sub(s)
	seconds, minutes, hours := d.Seconds(), d.Minutes(), d.Hours()

	e.Metadata.StartTime = &s
	e.Metadata.EndTime = &en
	e.Metadata.DurationSeconds = &seconds
	e.Metadata.DurationMinutes = &minutes
	e.Metadata.DurationHours = &hours
	return e
}
