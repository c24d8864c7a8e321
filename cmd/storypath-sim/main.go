// Command storypath-sim drives one participant session from a script of
// commands, printing each outcome. It talks to the record store directly,
// without the engine daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/storypath/engine/internal/auth"
	"github.com/storypath/engine/internal/config"
	"github.com/storypath/engine/internal/remote"
	"github.com/storypath/engine/internal/session"
	"github.com/storypath/engine/internal/unlock"
)

func main() {
	script := flag.String("script", "", "command file to run (default stdin)")
	verbose := flag.Bool("v", false, "log engine activity to stderr")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *script, *verbose); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, script string, verbose bool) error {
	cfg, err := config.LoadEngine()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel}))

	client, err := remote.New(logger, remote.Options{
		BaseURL:   cfg.StoreURL,
		Token:     cfg.StoreToken,
		JWTSecret: cfg.StoreSecret,
		Username:  cfg.StoreUsername,
		Role:      auth.DefaultRole,
		Timeout:   cfg.StoreTimeout,
		Retry:     remote.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff},
	})
	if err != nil {
		return err
	}

	// Scripts replay positions back to back, so the throttle is off.
	sessions := session.NewManager(logger, client, unlock.Options{Radius: cfg.UnlockRadius})
	defer sessions.Close()

	in := io.Reader(os.Stdin)
	if script != "" {
		f, err := os.Open(script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	return newSim(sessions, os.Stdout).runScript(ctx, in)
}
