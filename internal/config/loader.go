package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/okian/fleetreport/internal/domain/model"
)

const (
	envPrefix  = "FLEETREPORT_"
	envConfig  = envPrefix + "CONFIG"
	dotEnvFile = ".env"
)

// Load builds a Config by layering, from low to high precedence:
//  1. defaults (New)
//  2. the YAML file named by FLEETREPORT_CONFIG, if set
//  3. FLEETREPORT_* environment variables
//
// A .env file in the working directory, when present, is read into the
// environment first without overriding variables already set.
func Load(_ context.Context) (*Config, error) {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, dotEnvFile, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FLEETREPORT_QUEUE_SIZE -> queue_size
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, msg string) {
		if !ok {
			err = multierr.Append(err, errors.New(msg))
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.RenderEndpoint != "", "render_endpoint must not be empty")
	check(c.QuotaMaxUnits > 0, "quota_max_units must be positive")
	check(c.CacheCapacity > 0, "cache_capacity must be positive")
	check(c.CacheEvictCount > 0, "cache_evict_count must be positive")
	check(c.CacheTTL >= 0, "cache_ttl must not be negative")
	check(c.RenderMaxAttempts > 0, "render_max_attempts must be positive")
	check(c.ChunkDivisor > 0, "chunk_divisor must be positive")
	check(c.QueueSize > 0, "queue_size must be positive")
	check(c.WorkerCount > 0, "worker_count must be positive")
	check(c.SMTPAddr != "" || c.OutputDir != "", "one of smtp_addr or output_dir is required")
	if _, ferr := model.ParseFormat(c.ReportFormat); ferr != nil {
		err = multierr.Append(err, ferr)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
