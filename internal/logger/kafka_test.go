package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKafkaLoggerLevels(t *testing.T) {
	tests := []struct {
		level zerolog.Level
		want  kgo.LogLevel
	}{
		{zerolog.TraceLevel, kgo.LogLevelDebug},
		{zerolog.DebugLevel, kgo.LogLevelDebug},
		{zerolog.InfoLevel, kgo.LogLevelInfo},
		{zerolog.WarnLevel, kgo.LogLevelWarn},
		{zerolog.ErrorLevel, kgo.LogLevelError},
		{zerolog.Disabled, kgo.LogLevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KafkaLogger(zerolog.Nop().Level(tt.level)).Level())
		})
	}
}

func TestKafkaLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := KafkaLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Log(kgo.LogLevelInfo, "assigned partitions", "group", "g1", "topic", "events")
	l.Log(kgo.LogLevelDebug, "hidden")

	out := buf.String()
	assert.Contains(t, out, `"message":"assigned partitions"`)
	assert.Contains(t, out, `"group":"g1"`)
	assert.NotContains(t, out, "hidden")
}
