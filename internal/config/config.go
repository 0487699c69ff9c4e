// Package config loads stringplay settings from layered sources: built-in
// defaults, an optional YAML file, then STRINGPLAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// EnvPrefix prefixes every environment override, e.g.
// STRINGPLAY_SYNC_LEASE_TTL=10m sets sync.lease_ttl.
const EnvPrefix = "STRINGPLAY_"

// Config is the full runtime configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Source   SourceConfig   `koanf:"source"`
	Publish  PublishConfig  `koanf:"publish"`
	Log      LogConfig      `koanf:"log"`
	Server   ServerConfig   `koanf:"server"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	LeaseTTL            time.Duration `koanf:"lease_ttl" validate:"gt=0"`
	PageSize            int           `koanf:"page_size" validate:"gte=1,lte=30"`
	Concurrency         int           `koanf:"concurrency" validate:"gte=1"`
	DelegateConcurrency int           `koanf:"delegate_concurrency" validate:"gte=0"`
	Publish             bool          `koanf:"publish"`

	// Schedule is a cron spec for serve's periodic SyncAll. Empty disables it.
	Schedule string `koanf:"schedule"`
}

// SourceConfig configures the document source and its call guard.
type SourceConfig struct {
	Fixture         string        `koanf:"fixture" validate:"required"`
	RatePerSecond   float64       `koanf:"rate_per_second" validate:"gte=0"`
	Burst           int           `koanf:"burst" validate:"gte=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// PublishConfig configures the record log publisher.
type PublishConfig struct {
	Dir string `koanf:"dir" validate:"required_if=Enabled true"`

	// Enabled mirrors sync.publish after loading.
	Enabled bool `koanf:"-"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP surface of serve.
type ServerConfig struct {
	Listen          string        `koanf:"listen" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "stringplay.db"},
		Sync: SyncConfig{
			LeaseTTL:    30 * time.Minute,
			PageSize:    30,
			Concurrency: 4,
		},
		Source: SourceConfig{
			Fixture:         "drive.yaml",
			RatePerSecond:   10,
			Burst:           5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Publish: PublishConfig{Dir: "logs"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load layers defaults, the YAML file at path (skipped when empty) and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps STRINGPLAY_SYNC_LEASE_TTL to sync.lease_ttl. The first segment
// names the section; the rest is the field.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cron schedule.
func (c *Config) Validate() error {
	c.Publish.Enabled = c.Sync.Publish
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("%w: sync.schedule: %w", ErrInvalid, err)
		}
	}
	return nil
}
