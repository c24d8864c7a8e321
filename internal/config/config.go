package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Engine configures the storypathd daemon.
type Engine struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	StoreURL      string        `env:"STORE_URL" envDefault:"http://localhost:8081"`
	StoreToken    string        `env:"STORE_TOKEN"`
	StoreSecret   string        `env:"STORE_JWT_SECRET"`
	StoreUsername string        `env:"STORE_USERNAME"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"0s"`
	RetryAttempts int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"1"`
	RetryBackoff  time.Duration `env:"STORE_RETRY_BACKOFF" envDefault:"250ms"`

	UnlockRadius float64       `env:"UNLOCK_RADIUS_METERS" envDefault:"400"`
	MinInterval  time.Duration `env:"POSITION_MIN_INTERVAL" envDefault:"5s"`
	MinDistance  float64       `env:"POSITION_MIN_DISTANCE_METERS" envDefault:"5"`
}

// Store configures the recordstore daemon.
type Store struct {
	Addr      string     `env:"STORE_ADDR" envDefault:":8081"`
	DBPath    string     `env:"DB_PATH" envDefault:"data/storypath.db"`
	JWTSecret string     `env:"JWT_SECRET"`
	SeedFile  string     `env:"SEED_FILE"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

func LoadEngine(files ...string) (*Engine, error) {
	cfg, err := load[Engine](files)
	if err != nil {
		return nil, err
	}
	if cfg.UnlockRadius <= 0 {
		return nil, fmt.Errorf("UNLOCK_RADIUS_METERS must be positive, got %v", cfg.UnlockRadius)
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1, got %d", cfg.RetryAttempts)
	}
	if cfg.MinInterval < 0 || cfg.MinDistance < 0 {
		return nil, errors.New("position throttle settings must not be negative")
	}
	return cfg, nil
}

func LoadStore(files ...string) (*Store, error) {
	return load[Store](files)
}

// load reads optional dotenv files, then parses the environment. Values
// already set in the environment win over the files.
func load[T any](files []string) (*T, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
