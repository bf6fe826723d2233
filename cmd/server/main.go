// Package main runs the plan daemon: the read-only HTTP API plus scheduled
// rescans of watched owners.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"onchain-sip/internal/app"
	"onchain-sip/internal/config"
	"onchain-sip/internal/server"
	"onchain-sip/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	l := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Warn().Err(err).Msg("close")
		}
	}()

	watcher, err := server.NewWatcher(server.WatcherConfig{
		Scanner:  a.Scanner,
		Owners:   cfg.WatchOwners,
		Schedule: cfg.RescanSchedule,
		Heads:    a.Heads,
		Log:      l,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	srv := server.New(server.Config{
		Addr:      cfg.HTTPAddr,
		Log:       l,
		Scanner:   a.Scanner,
		Cache:     a.Cache,
		Presenter: a.Presenter,
		ProbeLog:  a.ProbeLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	l.Info().Msg("server stopped")
	return nil
}
