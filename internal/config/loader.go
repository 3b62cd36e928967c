package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("COURSEHOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("coursehound")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".coursehound"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scraper.user_agent", cfg.Scraper.UserAgent)
	v.SetDefault("scraper.concurrency", cfg.Scraper.Concurrency)
	v.SetDefault("scraper.default_delay", cfg.Scraper.DefaultDelay)
	v.SetDefault("scraper.strict_extraction", cfg.Scraper.StrictExtraction)

	v.SetDefault("robots.bot_name", cfg.Robots.BotName)
	v.SetDefault("robots.default_delay", cfg.Robots.DefaultDelay)
	v.SetDefault("robots.cache_ttl", cfg.Robots.CacheTTL)
	v.SetDefault("robots.fetch_timeout", cfg.Robots.FetchTimeout)

	v.SetDefault("fetcher.timeout", cfg.Fetcher.Timeout)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)

	v.SetDefault("browser.max_browsers", cfg.Browser.MaxBrowsers)
	v.SetDefault("browser.max_pages_per_browser", cfg.Browser.MaxPagesPerBrowser)
	v.SetDefault("browser.session_timeout", cfg.Browser.SessionTimeout)
	v.SetDefault("browser.page_timeout", cfg.Browser.PageTimeout)
	v.SetDefault("browser.max_requests", cfg.Browser.MaxRequests)
	v.SetDefault("browser.sweep_interval", cfg.Browser.SweepInterval)
	v.SetDefault("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", cfg.Browser.ViewportHeight)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.factor", cfg.Retry.Factor)

	v.SetDefault("breaker.threshold", cfg.Breaker.Threshold)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)

	v.SetDefault("media.dir", cfg.Media.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.port", cfg.API.Port)
}
