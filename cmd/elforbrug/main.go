package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/influx"
	"github.com/simpleelforbrug/elforbrug/pkg/integration"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/mqtt"
	"github.com/simpleelforbrug/elforbrug/pkg/server"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	f := consumption.Configured()
	mq := mqtt.Configured()
	ix := influx.Configured()
	m := integration.Configured(s, f, mq, ix)

	// init server
	srv := server.Configured(m)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := mq.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	if err := ix.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to influxdb", "error", err)
		os.Exit(1)
	}
	defer ix.Close()

	if err := m.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load entries", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "sensor polling failed", "error", err)
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
