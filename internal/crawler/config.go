package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences a crawl run. Values originate from
// Viper so a crawl can be configured via files, env vars, or CLI flags.
type Config struct {
	Seed                 string
	UserAgent            string
	MaxConcurrency       int
	PerOriginConcurrency int
	// MaxPages caps dispatched targets; 0 means unlimited.
	MaxPages int
	// MaxTime bounds the whole crawl; 0 means unlimited.
	MaxTime      time.Duration
	IgnoreRobots bool
	// MinDelay spaces requests to one origin; robots.txt may raise it.
	MinDelay time.Duration
	Retry    RetryConfig
}

// DefaultUserAgent identifies the crawler in requests and robots.txt matching.
const DefaultUserAgent = "sitecrawler/1.0 (+https://github.com/JakeFAU/sitecrawler)"

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Seed:                 strings.TrimSpace(v.GetString("crawler.seed")),
		UserAgent:            strings.TrimSpace(v.GetString("crawler.user_agent")),
		MaxConcurrency:       v.GetInt("crawler.max_concurrency"),
		PerOriginConcurrency: v.GetInt("crawler.per_domain_concurrency"),
		MaxPages:             v.GetInt("crawler.max_pages"),
		MaxTime:              v.GetDuration("crawler.max_time"),
		IgnoreRobots:         v.GetBool("crawler.ignore_robots"),
		MinDelay:             v.GetDuration("crawler.delay"),
		Retry: RetryConfig{
			BaseDelay:  v.GetDuration("retry.base_delay"),
			MaxDelay:   v.GetDuration("retry.max_delay"),
			MaxRetries: v.GetInt("retry.max_retries"),
		},
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Seed == "" {
		return fmt.Errorf("crawler.seed must be set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.PerOriginConcurrency <= 0 {
		return fmt.Errorf("crawler.per_domain_concurrency must be > 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.MaxTime < 0 {
		return fmt.Errorf("crawler.max_time must be >= 0")
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	return nil
}
