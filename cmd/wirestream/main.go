package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/tarungka/wirestream/internal/config"
	"github.com/tarungka/wirestream/internal/logger"
	"github.com/tarungka/wirestream/internal/storage/factory"
	"github.com/tarungka/wirestream/server"
	"github.com/tarungka/wirestream/sinks"
	"github.com/tarungka/wirestream/sources"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var buildString = "unknown"

func main() {
	f, err := initFlags(os.Args[1:])
	if err != nil {
		logger.AdHocLogger.Fatal().Err(err).Send()
	}
	if v, _ := f.GetBool("version"); v {
		fmt.Println(buildString)
		os.Exit(0)
	}

	cfg, err := initConfig(f)
	if err != nil {
		logger.AdHocLogger.Fatal().Err(err).Msg("Error when initializing the config!")
	}

	l, closeLog := initLogger(cfg)
	defer closeLog()
	l.Info().Str("build", buildString).Str("storage", cfg.Storage.Kind.String()).Msg("Starting the application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Error().Err(err).Msg("pipeline stopped with an error")
		closeLog()
		os.Exit(1)
	}
	l.Info().Msg("received interrupt signal; shut down cleanly")
}

// initLogger configures the process logger. The returned func closes the
// log file, if any.
func initLogger(cfg *config.Config) (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.AdHocLogger.Warn().Err(err).Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger.SetDevelopment(cfg.Dev)

	closeLog := func() {}
	if cfg.Log.File != "" {
		file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.AdHocLogger.Error().Err(err).Msg("Failed to open log file")
		} else {
			logger.SetLogFile(file)
			closeLog = func() { file.Close() }
		}
	}
	return logger.GetLogger(cfg.Name), closeLog
}

// run connects storage, source and sink, then drives the task and the web
// server until ctx is done or either of them fails.
func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) (err error) {
	store, err := factory.Make(ctx, &cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Disconnect()) }()

	src, err := sources.New(cfg.Source)
	if err != nil {
		return err
	}
	if err := src.Connect(ctx); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Disconnect()) }()

	sink, err := sinks.New(cfg.Sink)
	if err != nil {
		return err
	}
	if err := sink.Connect(ctx); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sink.Disconnect()) }()

	task, err := buildTask(cfg, store, src, sink, l)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, task.Close()) }()
	l.Info().Str("source", src.Info()).Str("sink", sink.Info()).Int("stages", len(task.Stages())).Msg("Creating and running pipeline")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := server.New(&cfg.Server, store, server.WithTask(task), server.WithLogger(l))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// a finished source stops the server too
		defer cancel()
		return task.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
