package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // human readable console output

	logFile *os.File = nil

	AdHocLogger zerolog.Logger

	once sync.Once

	globalLogger zerolog.Logger
)

func init() {
	// A general logger for code paths that were not handed a logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	AdHocLogger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "ad-hoc-logger").Caller().Logger()
}

// GetLogger returns the process wide logger, creating it on first use.
func GetLogger(serviceName string) zerolog.Logger {

	once.Do(func() {

		if !isDevelopment {
			var out io.Writer = os.Stderr
			if logFile != nil {
				out = zerolog.MultiLevelWriter(os.Stderr, logFile)
			}
			globalLogger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
			return
		}

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}
		writers := []io.Writer{consoleWriter}
		if logFile != nil {
			writers = append(writers, logFile)
		}
		multiDev := zerolog.MultiLevelWriter(writers...)
		globalLogger = zerolog.New(multiDev).Level(zerolog.TraceLevel).With().Timestamp().Str("service", serviceName).Caller().Logger()
	})

	return globalLogger
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func SetDevelopment(value bool) {
	isDevelopment = value
}

func SetLogFile(file *os.File) {
	logFile = file
}
