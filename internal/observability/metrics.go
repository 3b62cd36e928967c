package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the scraper.
type Metrics struct {
	// Request metrics
	RequestsTotal      atomic.Int64
	RequestsSucceeded  atomic.Int64
	RequestsFailed     atomic.Int64
	RequestsRetried    atomic.Int64
	RequestsStatic     atomic.Int64
	RequestsDynamic    atomic.Int64
	InFlight           atomic.Int64
	QueueDepth         atomic.Int64
	BytesDownloaded    atomic.Int64
	ScreenshotsWritten atomic.Int64

	// Policy metrics
	RobotsCacheHits   atomic.Int64
	RobotsCacheMisses atomic.Int64
	RobotsDenied      atomic.Int64
	BreakerOpens      atomic.Int64
	BreakerRejects    atomic.Int64

	// Browser metrics
	BrowserSessions atomic.Int64
	PagesOpened     atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		kind  string
		value int64
	}{
		{"coursehound_requests_total", "Total scrape requests accepted", "counter", m.RequestsTotal.Load()},
		{"coursehound_requests_succeeded_total", "Total scrape requests that succeeded", "counter", m.RequestsSucceeded.Load()},
		{"coursehound_requests_failed_total", "Total scrape requests that failed", "counter", m.RequestsFailed.Load()},
		{"coursehound_requests_retried_total", "Total retry attempts", "counter", m.RequestsRetried.Load()},
		{"coursehound_requests_static_total", "Total requests served by the static backend", "counter", m.RequestsStatic.Load()},
		{"coursehound_requests_dynamic_total", "Total requests served by the browser backend", "counter", m.RequestsDynamic.Load()},
		{"coursehound_in_flight", "Requests currently being processed", "gauge", m.InFlight.Load()},
		{"coursehound_queue_depth", "Requests waiting for a dispatch slot", "gauge", m.QueueDepth.Load()},
		{"coursehound_bytes_downloaded_total", "Total response bytes downloaded", "counter", m.BytesDownloaded.Load()},
		{"coursehound_screenshots_written_total", "Total screenshots written to disk", "counter", m.ScreenshotsWritten.Load()},
		{"coursehound_robots_cache_hits_total", "Robots cache hits", "counter", m.RobotsCacheHits.Load()},
		{"coursehound_robots_cache_misses_total", "Robots cache misses", "counter", m.RobotsCacheMisses.Load()},
		{"coursehound_robots_denied_total", "Requests denied by robots.txt", "counter", m.RobotsDenied.Load()},
		{"coursehound_breaker_opens_total", "Circuit breaker open transitions", "counter", m.BreakerOpens.Load()},
		{"coursehound_breaker_rejects_total", "Requests rejected by an open breaker", "counter", m.BreakerRejects.Load()},
		{"coursehound_browser_sessions_total", "Browser sessions launched", "counter", m.BrowserSessions.Load()},
		{"coursehound_pages_opened_total", "Browser pages opened", "counter", m.PagesOpened.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_succeeded":   m.RequestsSucceeded.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"requests_retried":     m.RequestsRetried.Load(),
		"requests_static":      m.RequestsStatic.Load(),
		"requests_dynamic":     m.RequestsDynamic.Load(),
		"in_flight":            m.InFlight.Load(),
		"queue_depth":          m.QueueDepth.Load(),
		"bytes_downloaded":     m.BytesDownloaded.Load(),
		"screenshots_written":  m.ScreenshotsWritten.Load(),
		"robots_cache_hits":    m.RobotsCacheHits.Load(),
		"robots_cache_misses":  m.RobotsCacheMisses.Load(),
		"robots_denied":        m.RobotsDenied.Load(),
		"breaker_opens":        m.BreakerOpens.Load(),
		"breaker_rejects":      m.BreakerRejects.Load(),
		"browser_sessions":     m.BrowserSessions.Load(),
		"pages_opened":         m.PagesOpened.Load(),
	}
}
