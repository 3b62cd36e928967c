// Package robots implements the robots.txt policy cache.
//
// The cache fetches and parses robots.txt per origin, answers allow/deny
// decisions with a crawl delay, and expires entries on a TTL. It is
// deliberately permissive: any failure along the way yields an allowed
// decision with a doubled default delay, and CanScrape never fails.
package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairwaylabs/coursehound/internal/config"
)

// maxRobotsBody bounds how much of a robots.txt response is read.
const maxRobotsBody = 512 * 1024

// sweepInterval is how often expired cache entries are removed.
const sweepInterval = 1 * time.Hour

// CheckResult is the decision returned to the request manager.
type CheckResult struct {
	Allowed    bool          `json:"allowed"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	Reason     string        `json:"reason,omitempty"`
	Directive  *Directive    `json:"directive,omitempty"`
	CacheHit   bool          `json:"cache_hit"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Info describes the cached robots state for one origin.
type Info struct {
	Exists      bool          `json:"exists"`
	Content     string        `json:"content,omitempty"`
	Directive   *Directive    `json:"directive,omitempty"`
	Sitemaps    []string      `json:"sitemaps,omitempty"`
	CrawlDelay  time.Duration `json:"crawl_delay,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// cacheEntry is one origin's fetched robots state.
type cacheEntry struct {
	file      *robotsFile // nil when the host has no robots constraints
	content   string
	fetchFail bool // network failure or 5xx: apply the doubled delay
	fetchedAt time.Time
}

// Cache fetches, parses, and caches robots.txt directives per origin.
type Cache struct {
	cfg    *config.RobotsConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	hits   atomic.Int64
	misses atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Cache and starts its hourly expiry sweep.
func New(cfg *config.RobotsConfig, logger *slog.Logger) *Cache {
	c := &Cache{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		logger:  logger.With("component", "robots_cache"),
		entries: make(map[string]*cacheEntry),
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the expiry sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// CanScrape decides whether rawURL may be fetched for the given user agent
// right now, and with what delay. It never fails: internal errors translate
// to a permissive result carrying a doubled default delay.
func (c *Cache) CanScrape(ctx context.Context, rawURL, userAgent string) (result *CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("robots check panicked", "url", rawURL, "panic", r)
			result = c.permissive(fmt.Sprintf("Error checking robots.txt: %v", r))
		}
	}()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return c.permissive(fmt.Sprintf("Error parsing URL %q", rawURL))
	}
	origin := u.Scheme + "://" + u.Host

	entry, hit := c.lookup(ctx, origin)
	if entry.fetchFail {
		return &CheckResult{
			Allowed:    true,
			CrawlDelay: 2 * c.cfg.DefaultDelay,
			Reason:     "Error fetching robots.txt; proceeding with doubled delay",
			CacheHit:   hit,
			CheckedAt:  time.Now(),
		}
	}
	if entry.file == nil {
		return &CheckResult{
			Allowed:    true,
			CrawlDelay: c.cfg.DefaultDelay,
			Reason:     "No robots.txt constraints",
			CacheHit:   hit,
			CheckedAt:  time.Now(),
		}
	}

	directive := entry.file.directiveFor(userAgent, c.cfg.BotName)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	delay := c.cfg.DefaultDelay
	if directive.CrawlDelay > delay {
		delay = directive.CrawlDelay
	}

	res := &CheckResult{
		Allowed:    isAllowed(path, directive),
		CrawlDelay: delay,
		Directive:  directive,
		CacheHit:   hit,
		CheckedAt:  time.Now(),
	}
	if !res.Allowed {
		res.Reason = "Robots.txt disallows scraping"
	}
	return res
}

// RobotsInfo returns the cached robots state for host (an origin or bare
// hostname), fetching it on first use.
func (c *Cache) RobotsInfo(ctx context.Context, host string) (*Info, error) {
	origin := host
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	origin = u.Scheme + "://" + u.Host

	entry, _ := c.lookup(ctx, origin)
	info := &Info{
		Exists:      entry.file != nil,
		Content:     entry.content,
		LastChecked: entry.fetchedAt,
	}
	if entry.file != nil {
		directive := entry.file.directiveFor("", c.cfg.BotName)
		info.Directive = directive
		info.Sitemaps = entry.file.sitemaps
		info.CrawlDelay = directive.CrawlDelay
	}
	return info, nil
}

// ClearCache removes one origin's entry, or every entry when host is empty.
func (c *Cache) ClearCache(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if host == "" {
		c.entries = make(map[string]*cacheEntry)
		return
	}
	if !strings.Contains(host, "://") {
		delete(c.entries, "https://"+host)
		delete(c.entries, "http://"+host)
		return
	}
	delete(c.entries, host)
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// lookup returns the cache entry for origin, fetching robots.txt on a miss
// or after TTL expiry.
func (c *Cache) lookup(ctx context.Context, origin string) (*cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[origin]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
		c.hits.Add(1)
		return entry, true
	}
	c.misses.Add(1)

	entry = c.fetch(ctx, origin)

	c.mu.Lock()
	c.entries[origin] = entry
	c.mu.Unlock()

	return entry, false
}

// fetch downloads and parses robots.txt for an origin. Responses below 500
// are accepted; 4xx means "no constraints", failures mark the entry so
// callers apply the doubled delay.
func (c *Cache) fetch(ctx context.Context, origin string) *cacheEntry {
	robotsURL := origin + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &cacheEntry{fetchFail: true, fetchedAt: time.Now()}
	}
	req.Header.Set("User-Agent", c.cfg.BotName)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots.txt fetch failed", "url", robotsURL, "error", err)
		return &cacheEntry{fetchFail: true, fetchedAt: time.Now()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
		if err != nil {
			return &cacheEntry{fetchFail: true, fetchedAt: time.Now()}
		}
		file, warnings := parseRobotsTxt(string(body))
		for _, w := range warnings {
			c.logger.Debug("robots.txt parse warning", "origin", origin, "warning", w)
		}
		c.logger.Debug("robots.txt cached", "origin", origin, "groups", len(file.groups))
		return &cacheEntry{file: file, content: string(body), fetchedAt: time.Now()}

	case resp.StatusCode >= 500:
		c.logger.Debug("robots.txt server error", "url", robotsURL, "status", resp.StatusCode)
		return &cacheEntry{fetchFail: true, fetchedAt: time.Now()}

	default:
		// 4xx: the host publishes no robots constraints.
		return &cacheEntry{fetchedAt: time.Now()}
	}
}

func (c *Cache) permissive(reason string) *CheckResult {
	return &CheckResult{
		Allowed:    true,
		CrawlDelay: 2 * c.cfg.DefaultDelay,
		Reason:     reason,
		CheckedAt:  time.Now(),
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for origin, entry := range c.entries {
		if time.Since(entry.fetchedAt) >= c.cfg.CacheTTL {
			delete(c.entries, origin)
		}
	}
}
