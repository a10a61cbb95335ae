// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the librarian binary.
type Config struct {
	DBPath   string `env:"LIBRARY_DB_PATH" envDefault:"library.db"`
	HTTPAddr string `env:"LIBRARY_HTTP_ADDR" envDefault:":8080"`

	JWTSecret string        `env:"LIBRARY_JWT_SECRET"`
	TokenTTL  time.Duration `env:"LIBRARY_TOKEN_TTL" envDefault:"24h"`

	CORSOrigins []string `env:"LIBRARY_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel  string `env:"LIBRARY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LIBRARY_LOG_FORMAT" envDefault:"text"`

	BooksAvailableByDefault bool          `env:"LIBRARY_BOOKS_AVAILABLE_BY_DEFAULT" envDefault:"true"`
	LoginRateLimit          int           `env:"LIBRARY_LOGIN_RATE_LIMIT" envDefault:"5"`
	RequestTimeout          time.Duration `env:"LIBRARY_REQUEST_TIMEOUT" envDefault:"5s"`
}

// Load reads an optional .env file from the working directory and then parses
// the process environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LIBRARY_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("LIBRARY_TOKEN_TTL must be positive")
	}
	if c.LoginRateLimit < 1 {
		return fmt.Errorf("LIBRARY_LOGIN_RATE_LIMIT must be at least 1")
	}
	return nil
}

// RequireSecret fails when no token signing key is configured.
func (c Config) RequireSecret() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("LIBRARY_JWT_SECRET must be set to at least 16 characters")
	}
	return nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// StderrLogger is Logger(os.Stderr).
func (c Config) StderrLogger() *slog.Logger { return c.Logger(os.Stderr) }

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LIBRARY_LOG_LEVEL: %w", err)
	}
	return l, nil
}
