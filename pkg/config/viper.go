// Package config initializes the global configuration layer. Settings come
// from defaults, an optional config file, SITECRAWLER_ environment variables
// and command-line flags bound by the cmd package.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SITECRAWLER_CRAWLER_MAX_PAGES=100.
const EnvPrefix = "SITECRAWLER"

// SetDefaults installs the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "sitecrawler/1.0 (+https://github.com/JakeFAU/sitecrawler)")
	v.SetDefault("crawler.max_concurrency", 64)
	v.SetDefault("crawler.per_domain_concurrency", 2)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_time", "0s")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.delay", "0s")
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.max_redirects", 10)

	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.max_retries", 5)

	v.SetDefault("output.path", "")
	v.SetDefault("output.format", "text")
	v.SetDefault("output.hide_links", false)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait", "500ms")

	v.SetDefault("server.addr", "")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.pages_table", "crawl_pages")
	v.SetDefault("postgres.ensure_schema", true)
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "sitecrawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// InitConfig applies defaults, environment binding and, when present, the
// config file. configFile overrides the search path. It returns the path of
// the file that was read, or "" when none was found.
func InitConfig(v *viper.Viper, configFile string) (string, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("sitecrawler")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitecrawler")
		v.AddConfigPath("/etc/sitecrawler/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
