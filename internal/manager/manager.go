// Package manager coordinates scrape requests: robots gating, priority
// queueing, per-domain pacing, circuit breaking, retries, and accounting.
package manager

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/fetcher"
	"github.com/fairwaylabs/coursehound/internal/observability"
	"github.com/fairwaylabs/coursehound/internal/robots"
	"github.com/fairwaylabs/coursehound/internal/types"
	"github.com/fairwaylabs/coursehound/pkg/resilience"
)

// domainState carries pacing, breaker, and accounting for one origin.
type domainState struct {
	breaker *resilience.Breaker

	lastRequest   time.Time
	requests      int64
	successes     int64
	failures      int64
	retries       int64
	robotsDenied  int64
	totalResponse time.Duration
}

// DomainStats is the per-origin snapshot returned by Stats.
type DomainStats struct {
	Requests        int64         `json:"requests"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	Retries         int64         `json:"retries"`
	RobotsDenied    int64         `json:"robots_denied"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastRequestAt   time.Time     `json:"last_request_at"`
	BreakerState    string        `json:"breaker_state"`
}

// Stats is the manager-wide snapshot.
type Stats struct {
	Queued    int                    `json:"queued"`
	InFlight  int                    `json:"in_flight"`
	Requests  int64                  `json:"requests"`
	Successes int64                  `json:"successes"`
	Failures  int64                  `json:"failures"`
	Retries   int64                  `json:"retries"`
	Domains   map[string]DomainStats `json:"domains"`
	Robots    robots.CacheStats      `json:"robots"`
}

// Manager owns the request pipeline. All public methods are safe for
// concurrent use.
type Manager struct {
	cfg     *config.Config
	robots  *robots.Cache
	static  fetcher.Fetcher
	dynamic fetcher.Fetcher
	metrics *observability.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	queue    requestQueue
	active   int
	inflight map[string]bool
	domains  map[string]*domainState
	timer    *time.Timer
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New wires the manager from its collaborators. Either fetcher may be nil
// when that backend is disabled; dispatching to a nil backend fails the
// request.
func New(cfg *config.Config, robotsCache *robots.Cache, static, dynamic fetcher.Fetcher, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		robots:   robotsCache,
		static:   static,
		dynamic:  dynamic,
		metrics:  metrics,
		logger:   logger.With("component", "manager"),
		inflight: make(map[string]bool),
		domains:  make(map[string]*domainState),
		done:     make(chan struct{}),
	}
}

// AddRequest runs one target through the full pipeline and blocks until it
// completes, fails, or the context ends. Target IDs must be unique among
// in-flight requests.
func (m *Manager) AddRequest(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &types.ScrapingOptions{}
	}
	domain := target.Host()

	if err := m.register(target.ID); err != nil {
		return nil, err
	}
	defer m.unregister(target.ID)

	m.metrics.RequestsTotal.Add(1)
	m.metrics.InFlight.Add(1)
	defer m.metrics.InFlight.Add(-1)

	userAgent := m.cfg.Scraper.UserAgent
	if opts.UserAgent != "" {
		userAgent = opts.UserAgent
	}

	// Policy gate runs before the target consumes a queue slot. Denials are
	// terminal and never retried.
	check := m.robots.CanScrape(ctx, target.URL, userAgent)
	if check.CacheHit {
		m.metrics.RobotsCacheHits.Add(1)
	} else {
		m.metrics.RobotsCacheMisses.Add(1)
	}
	if !check.Allowed {
		m.metrics.RobotsDenied.Add(1)
		m.withDomain(domain, func(ds *domainState) {
			ds.robotsDenied++
		})
		m.logger.Info("robots denied", "url", target.URL, "reason", check.Reason)
		return nil, &types.ScrapingError{
			Type:      types.ErrTypeRobots,
			Message:   "Robots.txt disallows scraping",
			URL:       target.URL,
			Retryable: false,
			Err:       types.ErrRobotsDenied,
		}
	}

	requiredDelay := m.cfg.Scraper.DefaultDelay
	if check.CrawlDelay > requiredDelay {
		requiredDelay = check.CrawlDelay
	}

	if err := m.acquireSlot(ctx, target, domain, requiredDelay, opts); err != nil {
		return nil, err
	}
	defer m.releaseSlot()

	return m.dispatch(ctx, target, opts, domain)
}

// register marks a target ID in flight, rejecting duplicates.
func (m *Manager) register(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrManagerClosed
	}
	if m.inflight[id] {
		return fmt.Errorf("%w: %s", types.ErrDuplicateTarget, id)
	}
	m.inflight[id] = true
	m.wg.Add(1)
	return nil
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
	m.wg.Done()
}

// acquireSlot enqueues the target and blocks until the scheduler grants a
// dispatch slot, honoring priority ordering and per-domain pacing.
func (m *Manager) acquireSlot(ctx context.Context, target *types.ScrapingTarget, domain string, requiredDelay time.Duration, opts *types.ScrapingOptions) error {
	slot := &RequestSlot{
		Target:        target,
		Priority:      target.Priority,
		Domain:        domain,
		RequiredDelay: requiredDelay,
		EnqueuedAt:    time.Now(),
		ready:         make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.ErrManagerClosed
	}
	heap.Push(&m.queue, slot)
	m.metrics.QueueDepth.Add(1)
	m.grantLocked()
	m.mu.Unlock()

	select {
	case <-slot.ready:
		return nil
	case <-ctx.Done():
	case <-m.done:
	}

	// Cancelled or shut down: pull the slot back out unless the scheduler
	// already granted it, in which case the slot must be returned.
	m.mu.Lock()
	removed := m.queue.remove(slot)
	if removed {
		m.metrics.QueueDepth.Add(-1)
	}
	m.mu.Unlock()
	if !removed {
		<-slot.ready
		m.releaseSlot()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return types.ErrManagerClosed
	}
}

// grantLocked hands dispatch slots to the best ready requests while
// capacity remains, deferring requests whose domain pacing window has not
// elapsed. Caller holds m.mu.
func (m *Manager) grantLocked() {
	now := time.Now()
	concurrency := m.cfg.Scraper.Concurrency

	for m.active < concurrency {
		slot := m.queue.popReady(now)
		if slot == nil {
			break
		}
		ds := m.domainLocked(slot.Domain)
		if next := ds.lastRequest.Add(slot.RequiredDelay); next.After(now) {
			slot.DeferredUntil = next
			heap.Push(&m.queue, slot)
			continue
		}
		ds.lastRequest = now
		m.active++
		m.metrics.QueueDepth.Add(-1)
		close(slot.ready)
	}

	m.armTimerLocked(now)
}

// armTimerLocked schedules a re-grant for the earliest parked slot.
// Caller holds m.mu.
func (m *Manager) armTimerLocked(now time.Time) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.closed || m.active >= m.cfg.Scraper.Concurrency {
		return
	}
	wake, ok := m.queue.earliestDeferral(now)
	if !ok {
		return
	}
	m.timer = time.AfterFunc(time.Until(wake), func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.closed {
			m.grantLocked()
		}
	})
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.active--
	m.grantLocked()
	m.mu.Unlock()
}

// dispatch runs the fetch with breaker protection and retries, then records
// the outcome.
func (m *Manager) dispatch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions, domain string) (*types.ProcessingResult, error) {
	backend := m.static
	if opts.JavaScript {
		backend = m.dynamic
	}
	if backend == nil {
		return nil, types.NewScrapingError(types.ErrTypeUnknown, target.URL, false,
			fmt.Errorf("no backend available for javascript=%v", opts.JavaScript))
	}

	breaker := m.breakerFor(domain)

	retryCfg := resilience.RetryConfig{
		MaxAttempts: m.cfg.Retry.MaxAttempts,
		BaseDelay:   m.cfg.Retry.BaseDelay,
		MaxDelay:    m.cfg.Retry.MaxDelay,
		Factor:      m.cfg.Retry.Factor,
		RetryCondition: func(err error) bool {
			return types.IsRetryable(err)
		},
		OnRetry: func(attempt int, err error) {
			m.metrics.RequestsRetried.Add(1)
			m.withDomain(domain, func(ds *domainState) { ds.retries++ })
			m.logger.Warn("retrying request",
				"target_id", target.ID,
				"url", target.URL,
				"attempt", attempt,
				"error", err,
			)
		},
	}

	start := time.Now()
	result, err := resilience.Retry(ctx, retryCfg, func() (*types.ProcessingResult, error) {
		if !breaker.Allow() {
			m.metrics.BreakerRejects.Add(1)
			return nil, &types.ScrapingError{
				Type:      types.ErrTypeNetwork,
				Message:   fmt.Sprintf("circuit breaker open for %s", domain),
				URL:       target.URL,
				Retryable: false,
				Err:       types.ErrCircuitOpen,
			}
		}

		// Re-stamp the pacing clock per attempt so competing slots on this
		// host measure their delay from the latest attempt, not the original
		// grant, while retries back off.
		m.withDomain(domain, func(ds *domainState) { ds.lastRequest = time.Now() })

		res, fetchErr := backend.Fetch(ctx, target, opts)
		if fetchErr != nil {
			wasOpen := breaker.State() == resilience.BreakerOpen
			breaker.RecordFailure()
			if !wasOpen && breaker.State() == resilience.BreakerOpen {
				m.metrics.BreakerOpens.Add(1)
				m.logger.Warn("circuit breaker opened", "domain", domain)
			}
			return nil, fetchErr
		}
		breaker.RecordSuccess()
		return res, nil
	})
	elapsed := time.Since(start)

	if backend.Method() == types.MethodDynamic {
		m.metrics.RequestsDynamic.Add(1)
		m.recordPoolStats(backend)
	} else {
		m.metrics.RequestsStatic.Add(1)
	}

	m.withDomain(domain, func(ds *domainState) {
		ds.requests++
		ds.totalResponse += elapsed
		if err != nil {
			ds.failures++
		} else {
			ds.successes++
		}
	})

	if err != nil {
		m.metrics.RequestsFailed.Add(1)
		m.logger.Error("request failed",
			"target_id", target.ID,
			"url", target.URL,
			"duration", elapsed,
			"error", err,
		)
		return nil, err
	}

	m.metrics.RequestsSucceeded.Add(1)
	m.metrics.BytesDownloaded.Add(result.Metadata.ResponseSize)
	m.metrics.ScreenshotsWritten.Add(int64(len(result.Metadata.Screenshots)))
	m.logger.Info("request complete",
		"target_id", target.ID,
		"url", target.URL,
		"method", result.Metadata.Method,
		"confidence", result.Confidence,
		"duration", elapsed,
	)
	return result, nil
}

// recordPoolStats mirrors browser pool totals into the metrics after a
// dynamic dispatch. Totals are monotonic, so Store keeps counter semantics.
func (m *Manager) recordPoolStats(backend fetcher.Fetcher) {
	type poolStatser interface {
		Stats() fetcher.PoolStats
	}
	ps, ok := backend.(poolStatser)
	if !ok {
		return
	}
	stats := ps.Stats()
	m.metrics.BrowserSessions.Store(stats.TotalSessions)
	m.metrics.PagesOpened.Store(stats.TotalPages)
}

// domainLocked returns the domain state, creating it on first use.
// Caller holds m.mu.
func (m *Manager) domainLocked(domain string) *domainState {
	ds, ok := m.domains[domain]
	if !ok {
		ds = &domainState{
			breaker: resilience.NewBreaker(m.cfg.Breaker.Threshold, m.cfg.Breaker.ResetTimeout),
		}
		m.domains[domain] = ds
	}
	return ds
}

func (m *Manager) withDomain(domain string, fn func(*domainState)) {
	m.mu.Lock()
	fn(m.domainLocked(domain))
	m.mu.Unlock()
}

func (m *Manager) breakerFor(domain string) *resilience.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainLocked(domain).breaker
}

// Stats snapshots queue, per-domain, and robots cache state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Queued:   m.queue.Len(),
		InFlight: m.active,
		Domains:  make(map[string]DomainStats, len(m.domains)),
		Robots:   m.robots.Stats(),
	}
	for domain, ds := range m.domains {
		snap := DomainStats{
			Requests:      ds.requests,
			Successes:     ds.successes,
			Failures:      ds.failures,
			Retries:       ds.retries,
			RobotsDenied:  ds.robotsDenied,
			LastRequestAt: ds.lastRequest,
			BreakerState:  ds.breaker.State().String(),
		}
		if ds.requests > 0 {
			snap.AvgResponseTime = ds.totalResponse / time.Duration(ds.requests)
		}
		stats.Requests += ds.requests
		stats.Successes += ds.successes
		stats.Failures += ds.failures
		stats.Retries += ds.retries
		stats.Domains[domain] = snap
	}
	return stats
}

// Reset clears accumulated per-domain accounting and breakers. Pacing
// timestamps survive so reset cannot be used to bypass rate limits.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for domain, ds := range m.domains {
		m.domains[domain] = &domainState{
			breaker:     resilience.NewBreaker(m.cfg.Breaker.Threshold, m.cfg.Breaker.ResetTimeout),
			lastRequest: ds.lastRequest,
		}
	}
}

// Cleanup refuses new work, waits for in-flight requests (bounded by ctx),
// and shuts down the fetchers and robots cache.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	close(m.done)
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("cleanup interrupted: %w", ctx.Err())
	}

	if m.static != nil {
		m.static.Close()
	}
	if m.dynamic != nil {
		m.dynamic.Close()
	}
	m.robots.Close()
	m.logger.Info("manager shut down")
	return nil
}
