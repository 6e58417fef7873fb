package sinks

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/message"
)

// FileSink appends one line per message to a file. Writes are serialized,
// the sink can be shared by concurrent stages.
type FileSink struct {
	pipelineKey            string
	pipelineName           string
	pipelineConnectionType string

	// File details
	filePath string

	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
}

var _ Sink = (*FileSink)(nil)

func (f *FileSink) Init(args SinkConfig) error {
	f.pipelineKey = args.Key
	f.pipelineName = args.Name
	f.pipelineConnectionType = args.ConnectionType
	f.logger = logger.Component(logger.GetLogger("wirestream"), "file-sink")

	if args.Config["file_path"] == "" {
		f.logger.Error().Msg("Missing file_path in config")
		return fmt.Errorf("%w: file sink needs file_path", ErrMissingConfig)
	}
	f.filePath = args.Config["file_path"]
	return nil
}

func (f *FileSink) Connect(ctx context.Context) error {
	f.logger.Trace().Str("file_path", f.filePath).Msg("Preparing to open file for writing")

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.logger.Err(err).Str("directory", dir).Msg("Failed to create parent directories")
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	if _, err := os.Stat(f.filePath); err == nil {
		f.logger.Warn().Str("file_path", f.filePath).Msg("File already exists; appending to it")
	}

	file, err := os.OpenFile(f.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		f.logger.Err(err).Str("file_path", f.filePath).Msg("Failed to open file")
		return fmt.Errorf("failed to open file: %w", err)
	}

	f.mu.Lock()
	f.file = file
	f.w = bufio.NewWriter(file)
	f.mu.Unlock()
	return nil
}

// Write appends the encoded payload and a newline. Lines are buffered
// until Flush or Disconnect.
func (f *FileSink) Write(ctx context.Context, msg *message.Message) error {
	data, err := encode(msg.Payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return ErrNotConnected
	}
	if _, err := f.w.Write(data); err != nil {
		f.logger.Err(err).Msg("Failed to write to file")
		return fmt.Errorf("write %s: %w", f.filePath, err)
	}
	if err := f.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s: %w", f.filePath, err)
	}
	f.logger.Trace().Str("file_path", f.filePath).Msg("Message written to file")
	return nil
}

// Flush pushes buffered lines to the file.
func (f *FileSink) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return ErrNotConnected
	}
	return f.w.Flush()
}

func (f *FileSink) Disconnect() error {
	f.logger.Info().Msg("Closing file sink")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	flushErr := f.w.Flush()
	closeErr := f.file.Close()
	f.file, f.w = nil, nil
	if flushErr != nil {
		f.logger.Err(flushErr).Msg("Failed to flush file")
		return flushErr
	}
	if closeErr != nil {
		f.logger.Err(closeErr).Msg("Failed to close file")
	}
	return closeErr
}

func (f *FileSink) Key() (string, error) {
	if f.pipelineKey == "" {
		return "", fmt.Errorf("no pipeline key is set")
	}
	return f.pipelineKey, nil
}

func (f *FileSink) Name() string { return f.pipelineName }

func (f *FileSink) Info() string {
	return fmt.Sprintf("Key:%s|Name:%s|Type:%s", f.pipelineKey, f.pipelineName, f.pipelineConnectionType)
}
