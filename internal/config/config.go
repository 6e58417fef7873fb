// Package config loads the wirestream configuration from yaml/json files
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
	"github.com/tarungka/wirestream/internal/storage/factory"
	"github.com/tarungka/wirestream/server"
	"github.com/tarungka/wirestream/sinks"
	"github.com/tarungka/wirestream/sources"
)

var (
	// ErrUnsupportedFormat is returned for config files that are neither
	// yaml nor json.
	ErrUnsupportedFormat = errors.New("unsupported config file extension")

	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("invalid config")
)

// Window kinds accepted in window.kind. Besides the window package kinds
// the config knows the fixed window, which needs a draining backend.
const (
	WindowNone          = ""
	WindowTumblingCount = "tumbling_count"
	WindowTumblingTime  = "tumbling_time"
	WindowSlidingCount  = "sliding_count"
	WindowSlidingTime   = "sliding_time"
	WindowSession       = "session"
	WindowFixed         = "fixed"
)

type WindowConfig struct {
	Kind       string        `koanf:"kind"`
	MaxSize    int           `koanf:"max_size"`
	SlideSize  int           `koanf:"slide_size"`
	Size       time.Duration `koanf:"size"`
	Slide      time.Duration `koanf:"slide"`
	Inactivity time.Duration `koanf:"inactivity"`
}

type ParallelConfig struct {
	MaxChunkSize    int `koanf:"max_chunk_size"`
	RateLimitPerSec int `koanf:"rate_limit_per_sec"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

type Config struct {
	Name     string               `koanf:"name"`
	Dev      bool                 `koanf:"dev"`
	Log      LogConfig            `koanf:"log"`
	Server   server.Config        `koanf:"server"`
	Storage  factory.Config       `koanf:"storage"`
	Source   sources.SourceConfig `koanf:"source"`
	Sink     sinks.SinkConfig     `koanf:"sink"`
	Window   WindowConfig         `koanf:"window"`
	Parallel ParallelConfig       `koanf:"parallel"`
}

// Default is the configuration before any file or flag was applied.
func Default() *Config {
	return &Config{
		Name:    "wirestream",
		Log:     LogConfig{Level: "info"},
		Server:  server.Config{Port: "8080"},
		Storage: factory.Config{Kind: factory.Memory},
	}
}

// parserFor picks the koanf parser from the file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load merges the files in order, then the flags that were set on the
// command line, and unmarshals the result over Default. flags may be nil.
func Load(paths []string, flags *flag.FlagSet) (*Config, error) {
	ko := koanf.New(".")
	for _, path := range paths {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}
	if flags != nil {
		// unchanged flags only fill keys the files left out
		if err := ko.Load(posflag.ProviderWithFlag(flags, ".", ko, flagKey(flags)), nil); err != nil {
			return nil, fmt.Errorf("error reading flag config: %w", err)
		}
	}

	c := Default()
	if err := ko.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// flagKey maps command line flags onto config keys; --port sets
// server.port. Flags that are not configuration are skipped.
func flagKey(fs *flag.FlagSet) func(f *flag.Flag) (string, any) {
	keys := map[string]string{
		"port":      "server.port",
		"dev":       "dev",
		"name":      "name",
		"log-level": "log.level",
		"storage":   "storage.kind",
	}
	return func(f *flag.Flag) (string, any) {
		key, ok := keys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// Validate checks the settings the pipeline cannot start without.
func (c *Config) Validate() error {
	w := c.Window
	switch w.Kind {
	case WindowNone:
	case WindowTumblingCount, WindowFixed:
		if w.MaxSize < 1 {
			return fmt.Errorf("%w: window.max_size must be at least 1", ErrInvalid)
		}
	case WindowSlidingCount:
		if w.MaxSize < 1 || w.SlideSize < 1 {
			return fmt.Errorf("%w: window.max_size and window.slide_size must be at least 1", ErrInvalid)
		}
	case WindowTumblingTime:
		if w.Size <= 0 {
			return fmt.Errorf("%w: window.size must be positive", ErrInvalid)
		}
	case WindowSlidingTime:
		if w.Size <= 0 || w.Slide <= 0 {
			return fmt.Errorf("%w: window.size and window.slide must be positive", ErrInvalid)
		}
	case WindowSession:
		if w.Inactivity <= 0 {
			return fmt.Errorf("%w: session windows need window.inactivity", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown window.kind %q", ErrInvalid, w.Kind)
	}
	if w.Inactivity < 0 {
		return fmt.Errorf("%w: window.inactivity must not be negative", ErrInvalid)
	}
	if c.Parallel.MaxChunkSize < 0 || c.Parallel.RateLimitPerSec < 0 {
		return fmt.Errorf("%w: parallel settings must not be negative", ErrInvalid)
	}
	return nil
}
