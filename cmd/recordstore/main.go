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
	"github.com/storypath/engine/internal/database"
	"github.com/storypath/engine/internal/handler/health"
	"github.com/storypath/engine/internal/migrations"
	"github.com/storypath/engine/internal/recordstore"
	"github.com/storypath/engine/internal/server"
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
	cfg, err := config.LoadStore()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	store := recordstore.NewStore(db)

	seed := recordstore.DemoSeed()
	if cfg.SeedFile != "" {
		if seed, err = os.ReadFile(cfg.SeedFile); err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
	}
	if err := recordstore.Seed(ctx, logger, store, seed); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier([]byte(cfg.JWTSecret))
	} else {
		logger.Warn("JWT_SECRET not set, bearer tokens are not checked")
	}

	// --- HTTP Server ---
	srv := server.New(cfg.Addr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.CheckerFunc(store.Ping),
		}).Routes())
		r.Mount("/", recordstore.NewHandler(logger, store, verifier).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting record store", "addr", cfg.Addr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down record store")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
