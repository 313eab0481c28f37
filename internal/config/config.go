// Package config loads and validates the full sitecrawler configuration via
// Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/output"
)

// Config captures every configuration section.
type Config struct {
	// Crawler is loaded through crawler.LoadConfig.
	Crawler   crawler.Config  `mapstructure:"-"`
	Transport TransportConfig `mapstructure:"crawler"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TransportConfig tunes the HTTP client.
type TransportConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxRedirects   int           `mapstructure:"max_redirects"`
}

// OutputConfig selects where and how the report is written.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	Format    string `mapstructure:"format"`
	HideLinks bool   `mapstructure:"hide_links"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// ServerConfig controls the optional status server; an empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig controls the optional results database; an empty DSN
// disables it.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	PagesTable   string `mapstructure:"pages_table"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an initialized Viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	crawlCfg, err := crawler.LoadConfig(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Crawler = crawlCfg
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	var errs []error
	if err := c.Crawler.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Crawler.Retry.MaxDelay > 0 && c.Crawler.Retry.MaxDelay < c.Crawler.Retry.BaseDelay {
		errs = append(errs, errors.New("retry.max_delay must be >= retry.base_delay"))
	}
	if c.Transport.RequestTimeout < 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be >= 0"))
	}
	if c.Transport.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("crawler.max_body_bytes must be >= 0"))
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, fmt.Errorf("output.format: %w", err))
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 {
		errs = append(errs, errors.New("progress buffer sizes must be >= 0"))
	}
	if c.Postgres.MaxConns < 0 {
		errs = append(errs, errors.New("postgres.max_conns must be >= 0"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
