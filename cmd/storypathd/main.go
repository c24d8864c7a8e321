package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/storypath/engine/internal/auth"
	"github.com/storypath/engine/internal/config"
	"github.com/storypath/engine/internal/handler/health"
	"github.com/storypath/engine/internal/remote"
	"github.com/storypath/engine/internal/server"
	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/unlock"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.LoadEngine()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Record store ---
	client, err := remote.New(logger, remote.Options{
		BaseURL:   cfg.StoreURL,
		Token:     cfg.StoreToken,
		JWTSecret: cfg.StoreSecret,
		Username:  cfg.StoreUsername,
		Role:      auth.DefaultRole,
		Timeout:   cfg.StoreTimeout,
		Retry: remote.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     cfg.RetryBackoff,
		},
	})
	if err != nil {
		return fmt.Errorf("configuring record store client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		// Sessions degrade to retryable errors until the store is back.
		logger.Warn("record store unreachable", "url", cfg.StoreURL, "error", err)
	} else {
		logger.Info("connected to record store", "url", cfg.StoreURL)
	}

	// --- Sessions ---
	sessions := session.NewManager(logger, client, unlock.Options{
		Radius:      cfg.UnlockRadius,
		MinInterval: cfg.MinInterval,
		MinDistance: cfg.MinDistance,
	})
	defer sessions.Close()

	engine := server.NewEngine(logger, sessions, client)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"store": health.CheckerFunc(client.Ping),
		}).Routes())
		engine.Routes(r)
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
