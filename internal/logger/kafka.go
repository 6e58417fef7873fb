package logger

import (
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaLogger forwards franz-go client logs to zerolog.
type kafkaLogger struct {
	l zerolog.Logger
}

// KafkaLogger adapts l for kgo.WithLogger. The client only logs at the
// levels l has enabled.
func KafkaLogger(l zerolog.Logger) kgo.Logger {
	return &kafkaLogger{l: l}
}

func (k *kafkaLogger) Level() kgo.LogLevel {
	switch lvl := k.l.GetLevel(); {
	case lvl <= zerolog.DebugLevel:
		return kgo.LogLevelDebug
	case lvl == zerolog.InfoLevel:
		return kgo.LogLevelInfo
	case lvl == zerolog.WarnLevel:
		return kgo.LogLevelWarn
	case lvl == zerolog.ErrorLevel:
		return kgo.LogLevelError
	default:
		return kgo.LogLevelNone
	}
}

func (k *kafkaLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var ev *zerolog.Event
	switch level {
	case kgo.LogLevelError:
		ev = k.l.Error()
	case kgo.LogLevelWarn:
		ev = k.l.Warn()
	case kgo.LogLevelInfo:
		ev = k.l.Info()
	case kgo.LogLevelDebug:
		ev = k.l.Debug()
	default:
		return
	}
	ev.Fields(keyvals).Msg(msg)
}
