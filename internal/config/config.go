package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBFile              string        `env:"VECHE_DB"             envDefault:"veche.db"`
	AdminAddr           string        `env:"ADMIN_ADDR"           envDefault:"localhost:8081"`
	APIAddr             string        `env:"API_ADDR"             envDefault:":8080"`
	TokenExpiry         time.Duration `env:"TOKEN_EXPIRY"         envDefault:"24h"`
	TypingTimeout       time.Duration `env:"TYPING_TIMEOUT"       envDefault:"3s"`
	RingTimeout         time.Duration `env:"RING_TIMEOUT"         envDefault:"45s"`
	OutboxSize          int           `env:"OUTBOX_SIZE"          envDefault:"100"`
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"5s"`
	RedisAddr           string        `env:"REDIS_ADDR"`
	LogLevel            string        `env:"LOG_LEVEL"            envDefault:"info"`
}

func Load(cliMode bool) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values a server run depends on. In CLI mode only
// the admin address matters.
func (c *Config) Validate(cliMode bool) error {
	if c.AdminAddr == "" {
		return fmt.Errorf("ADMIN_ADDR is required")
	}
	if cliMode {
		return nil
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be greater than 0")
	}
	if c.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be greater than 0")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be greater than 0")
	}
	if c.OutboxSize <= 0 {
		return fmt.Errorf("OUTBOX_SIZE must be greater than 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", s)
}
