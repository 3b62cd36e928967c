package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for coursehound.
type Config struct {
	Scraper ScraperConfig `mapstructure:"scraper" yaml:"scraper"`
	Robots  RobotsConfig  `mapstructure:"robots"  yaml:"robots"`
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Retry   RetryConfig   `mapstructure:"retry"   yaml:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	Media   MediaConfig   `mapstructure:"media"   yaml:"media"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
}

// ScraperConfig controls the request manager.
type ScraperConfig struct {
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// Concurrency caps simultaneous dispatches across all hosts.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// DefaultDelay is the per-host politeness delay when robots.txt does
	// not specify a larger crawl-delay.
	DefaultDelay time.Duration `mapstructure:"default_delay" yaml:"default_delay"`

	// StrictExtraction turns dynamic extraction failures into hard errors
	// instead of degraded successes.
	StrictExtraction bool `mapstructure:"strict_extraction" yaml:"strict_extraction"`
}

// RobotsConfig controls the robots.txt policy cache.
type RobotsConfig struct {
	// BotName is the token matched against User-agent groups, in addition
	// to "*" and the full user agent string.
	BotName      string        `mapstructure:"bot_name"      yaml:"bot_name"`
	DefaultDelay time.Duration `mapstructure:"default_delay" yaml:"default_delay"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"     yaml:"cache_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// FetcherConfig controls the static HTTP fetcher.
type FetcherConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"           yaml:"timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
}

// BrowserConfig controls the headless browser pool and dynamic fetcher.
type BrowserConfig struct {
	MaxBrowsers        int           `mapstructure:"max_browsers"          yaml:"max_browsers"`
	MaxPagesPerBrowser int           `mapstructure:"max_pages_per_browser" yaml:"max_pages_per_browser"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout"       yaml:"session_timeout"`
	PageTimeout        time.Duration `mapstructure:"page_timeout"          yaml:"page_timeout"`
	MaxRequests        int           `mapstructure:"max_requests"          yaml:"max_requests"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"        yaml:"sweep_interval"`
	BinPath            string        `mapstructure:"bin_path"              yaml:"bin_path"`
	ViewportWidth      int           `mapstructure:"viewport_width"        yaml:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height"       yaml:"viewport_height"`
}

// RetryConfig controls retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"    yaml:"max_delay"`
	Factor      float64       `mapstructure:"factor"       yaml:"factor"`
}

// BreakerConfig controls the per-domain circuit breaker.
type BreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"     yaml:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// MediaConfig controls where screenshots are written.
type MediaConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig controls the submit-URL REST server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port"    yaml:"port"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scraper: ScraperConfig{
			UserAgent:    "Mozilla/5.0 (compatible; CourseHound/" + Version + "; +https://github.com/fairwaylabs/coursehound)",
			Concurrency:  10,
			DefaultDelay: 2 * time.Second,
		},
		Robots: RobotsConfig{
			BotName:      "coursehound",
			DefaultDelay: 2 * time.Second,
			CacheTTL:     24 * time.Hour,
			FetchTimeout: 10 * time.Second,
		},
		Fetcher: FetcherConfig{
			Timeout:         30 * time.Second,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Browser: BrowserConfig{
			MaxBrowsers:        3,
			MaxPagesPerBrowser: 5,
			SessionTimeout:     30 * time.Minute,
			PageTimeout:        30 * time.Second,
			MaxRequests:        50,
			SweepInterval:      5 * time.Minute,
			ViewportWidth:      1280,
			ViewportHeight:     720,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    10 * time.Second,
			Factor:      2,
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: 60 * time.Second,
		},
		Media: MediaConfig{
			Dir: "./media",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
		},
	}
}
