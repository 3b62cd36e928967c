package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Robots.DefaultDelay != 2*time.Second {
		t.Errorf("robots default delay = %s", cfg.Robots.DefaultDelay)
	}
	if cfg.Robots.CacheTTL != 24*time.Hour {
		t.Errorf("robots cache TTL = %s", cfg.Robots.CacheTTL)
	}
	if cfg.Browser.MaxBrowsers != 3 || cfg.Browser.MaxPagesPerBrowser != 5 {
		t.Errorf("browser pool = %d/%d", cfg.Browser.MaxBrowsers, cfg.Browser.MaxPagesPerBrowser)
	}
	if cfg.Browser.SessionTimeout != 30*time.Minute {
		t.Errorf("session timeout = %s", cfg.Browser.SessionTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Breaker.Threshold != 5 || cfg.Breaker.ResetTimeout != 60*time.Second {
		t.Errorf("breaker = %+v", cfg.Breaker)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coursehound.yaml")
	content := `scraper:
  concurrency: 7
  default_delay: 5s
robots:
  bot_name: testhound
browser:
  max_browsers: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scraper.Concurrency != 7 {
		t.Errorf("concurrency = %d", cfg.Scraper.Concurrency)
	}
	if cfg.Scraper.DefaultDelay != 5*time.Second {
		t.Errorf("default delay = %s", cfg.Scraper.DefaultDelay)
	}
	if cfg.Robots.BotName != "testhound" {
		t.Errorf("bot name = %q", cfg.Robots.BotName)
	}
	if cfg.Browser.MaxBrowsers != 2 {
		t.Errorf("max browsers = %d", cfg.Browser.MaxBrowsers)
	}
	// Untouched keys keep their defaults.
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry attempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("an explicitly named missing file must fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }},
		{"empty user agent", func(c *Config) { c.Scraper.UserAgent = "" }},
		{"negative delay", func(c *Config) { c.Scraper.DefaultDelay = -time.Second }},
		{"zero cache ttl", func(c *Config) { c.Robots.CacheTTL = 0 }},
		{"zero browsers", func(c *Config) { c.Browser.MaxBrowsers = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"max below base delay", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"zero breaker threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	valid := []string{"https://example.com/course", "http://example.com"}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v", u, err)
		}
	}
	invalid := []string{"ftp://example.com", "not a url", "https://", ""}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) should fail", u)
		}
	}
}
