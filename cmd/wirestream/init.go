package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/tarungka/wirestream/internal/config"
)

const defaultConfig = ".config/config.json"

func initFlags(args []string) (*flag.FlagSet, error) {
	f := flag.NewFlagSet("wirestream", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
	}

	f.StringSlice("config", []string{defaultConfig}, "path to one or more config files (will be merged in order)")
	f.String("port", "8080", "port to host the web server on")
	f.String("name", "wirestream", "name of the pipeline, used in logs and metrics")
	f.String("storage", "memory", "window storage backend")
	f.String("log-level", "info", "trace|debug|info|warn|error")
	f.Bool("dev", false, "human readable console logs")
	f.Bool("version", false, "show current version of the build")

	if err := f.Parse(args); err != nil {
		return nil, fmt.Errorf("error loading flags: %w", err)
	}
	return f, nil
}

// initConfig loads the config files named by --config. The default file is
// optional, files given explicitly must exist.
func initConfig(f *flag.FlagSet) (*config.Config, error) {
	paths, _ := f.GetStringSlice("config")
	if !f.Changed("config") {
		paths = existing(paths)
	}
	return config.Load(paths, f)
}

func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		out = append(out, p)
	}
	return out
}
