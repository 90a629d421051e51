// Package config defines service configuration and its loading.
//
// Keys are flat snake_case names. The same name is used in YAML files and,
// upper-cased with the FLEETREPORT_ prefix, in the environment.
package config

import (
	"time"

	"github.com/okian/fleetreport/internal/adapters/cache"
	"github.com/okian/fleetreport/internal/adapters/render"
	"github.com/okian/fleetreport/internal/domain/quota"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	"github.com/okian/fleetreport/internal/domain/scoring"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// Debug switches to the human-readable development logger.
	Debug bool `koanf:"debug"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// DatabaseURL selects the Postgres record store. Empty keeps records in memory.
	DatabaseURL string `koanf:"database_url"`

	QuotaMaxUnits     int           `koanf:"quota_max_units"`
	QuotaDelayShort   time.Duration `koanf:"quota_delay_short"`
	QuotaDelayMedium  time.Duration `koanf:"quota_delay_medium"`
	QuotaDelayLong    time.Duration `koanf:"quota_delay_long"`
	QuotaDelayLongest time.Duration `koanf:"quota_delay_longest"`

	CacheCapacity      int           `koanf:"cache_capacity"`
	CacheEvictCount    int           `koanf:"cache_evict_count"`
	CacheTTL           time.Duration `koanf:"cache_ttl"`
	CacheSweepInterval time.Duration `koanf:"cache_sweep_interval"`

	RenderEndpoint    string        `koanf:"render_endpoint"`
	RenderAPIKey      string        `koanf:"render_api_key"`
	RenderTimeout     time.Duration `koanf:"render_timeout"`
	RenderMaxAttempts int           `koanf:"render_max_attempts"`
	RenderBackoff     time.Duration `koanf:"render_backoff"`

	// ChunkDivisor and ChunkCooldown shape batch pacing.
	ChunkDivisor  int           `koanf:"chunk_divisor"`
	ChunkCooldown time.Duration `koanf:"chunk_cooldown"`

	QueueSize    int    `koanf:"queue_size"`
	WorkerCount  int    `koanf:"worker_count"`
	BatchHistory int    `koanf:"batch_history"`
	ReportFormat string `koanf:"report_format"`

	TargetIdleMaxPct        float64 `koanf:"target_idle_max_pct"`
	TargetCruiseMinPct      float64 `koanf:"target_cruise_min_pct"`
	TargetEngineBrakeMinPct float64 `koanf:"target_engine_brake_min_pct"`
	TargetCoastingMinPct    float64 `koanf:"target_coasting_min_pct"`
	TargetOverspeedMaxPct   float64 `koanf:"target_overspeed_max_pct"`

	// SMTPAddr enables email delivery. Empty writes reports to OutputDir.
	SMTPAddr         string `koanf:"smtp_addr"`
	SMTPFrom         string `koanf:"smtp_from"`
	SMTPUsername     string `koanf:"smtp_username"`
	SMTPPassword     string `koanf:"smtp_password"`
	DefaultRecipient string `koanf:"default_recipient"`
	OutputDir        string `koanf:"output_dir"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":9080",
		ShutdownTimeout: 15 * time.Second,

		QuotaMaxUnits:     quota.DefaultMaxUnits,
		QuotaDelayShort:   quota.DefaultDelayShort,
		QuotaDelayMedium:  quota.DefaultDelayMedium,
		QuotaDelayLong:    quota.DefaultDelayLong,
		QuotaDelayLongest: quota.DefaultDelayLongest,

		CacheCapacity:      cache.DefaultCapacity,
		CacheEvictCount:    cache.DefaultEvictCount,
		CacheTTL:           cache.DefaultTTL,
		CacheSweepInterval: cache.DefaultSweepInterval,

		RenderEndpoint:    "http://localhost:3000/render",
		RenderTimeout:     render.DefaultTimeout,
		RenderMaxAttempts: render.DefaultMaxAttempts,
		RenderBackoff:     render.DefaultBackoff,

		ChunkDivisor:  scheduler.DefaultChunkDivisor,
		ChunkCooldown: scheduler.DefaultChunkCooldown,

		QueueSize:    16,
		WorkerCount:  1,
		BatchHistory: 200,
		ReportFormat: "pdf",

		TargetIdleMaxPct:        scoring.DefaultIdleMaxPct,
		TargetCruiseMinPct:      scoring.DefaultCruiseMinPct,
		TargetEngineBrakeMinPct: scoring.DefaultEngineBrakeMinPct,
		TargetCoastingMinPct:    scoring.DefaultCoastingMinPct,
		TargetOverspeedMaxPct:   scoring.DefaultOverspeedMaxPct,

		SMTPFrom:  "reports@localhost",
		OutputDir: "reports",
	}
}
