package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Scraper.Concurrency < 1 {
		return fmt.Errorf("scraper.concurrency must be >= 1, got %d", cfg.Scraper.Concurrency)
	}
	if cfg.Scraper.Concurrency > 1000 {
		return fmt.Errorf("scraper.concurrency must be <= 1000, got %d", cfg.Scraper.Concurrency)
	}
	if cfg.Scraper.DefaultDelay < 0 {
		return fmt.Errorf("scraper.default_delay must be >= 0")
	}
	if cfg.Scraper.UserAgent == "" {
		return fmt.Errorf("scraper.user_agent must not be empty")
	}

	if cfg.Robots.DefaultDelay < 0 {
		return fmt.Errorf("robots.default_delay must be >= 0")
	}
	if cfg.Robots.CacheTTL <= 0 {
		return fmt.Errorf("robots.cache_ttl must be > 0")
	}
	if cfg.Robots.FetchTimeout <= 0 {
		return fmt.Errorf("robots.fetch_timeout must be > 0")
	}

	if cfg.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	if cfg.Browser.MaxBrowsers < 1 {
		return fmt.Errorf("browser.max_browsers must be >= 1, got %d", cfg.Browser.MaxBrowsers)
	}
	if cfg.Browser.MaxPagesPerBrowser < 1 {
		return fmt.Errorf("browser.max_pages_per_browser must be >= 1, got %d", cfg.Browser.MaxPagesPerBrowser)
	}
	if cfg.Browser.SessionTimeout <= 0 {
		return fmt.Errorf("browser.session_timeout must be > 0")
	}
	if cfg.Browser.PageTimeout <= 0 {
		return fmt.Errorf("browser.page_timeout must be > 0")
	}
	if cfg.Browser.MaxRequests < 1 {
		return fmt.Errorf("browser.max_requests must be >= 1, got %d", cfg.Browser.MaxRequests)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if cfg.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1, got %v", cfg.Retry.Factor)
	}

	if cfg.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be >= 1, got %d", cfg.Breaker.Threshold)
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be > 0")
	}

	if cfg.Media.Dir == "" {
		return fmt.Errorf("media.dir must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.API.Enabled {
		if cfg.API.Port < 1 || cfg.API.Port > 65535 {
			return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for scraping.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
