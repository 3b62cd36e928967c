package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// BrowserSession is one pooled headless browser process.
type BrowserSession struct {
	ID           string
	Browser      *rod.Browser
	CreatedAt    time.Time
	LastUsed     time.Time
	RequestCount int
	MaxRequests  int
	UserAgent    string

	// launching is true while the slot is reserved but the browser has not
	// connected yet. Launching sessions are never reused or evicted.
	launching bool
}

// PageSession is one pooled page, owned by a session. Sessions and pages
// are kept in two maps keyed by ID; pages refer to their owner by SessionID
// only, so removal cascades without back-pointers.
type PageSession struct {
	ID        string
	Page      *rod.Page
	SessionID string
	CreatedAt time.Time
	LastUsed  time.Time
	Busy      bool
}

// PoolStats is the snapshot returned by Stats.
type PoolStats struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	OpenPages      int   `json:"open_pages"`
	TotalPages     int64 `json:"total_pages"`
}

// Pool manages a bounded set of browser sessions and their pages.
// Acquisition is serialized by mu; only the actual browser spawn happens
// outside the lock, against a reserved slot.
type Pool struct {
	cfg       *config.BrowserConfig
	userAgent string
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*BrowserSession
	pages    map[string]*PageSession

	seq          atomic.Int64
	totalCreated atomic.Int64
	totalPages   atomic.Int64

	// launch starts a browser process; replaceable in tests.
	launch func() (*rod.Browser, error)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPool creates the pool and starts its idle sweep.
func NewPool(cfg *config.BrowserConfig, userAgent string, logger *slog.Logger) *Pool {
	p := &Pool{
		cfg:       cfg,
		userAgent: userAgent,
		logger:    logger.With("component", "browser_pool"),
		sessions:  make(map[string]*BrowserSession),
		pages:     make(map[string]*PageSession),
		stop:      make(chan struct{}),
	}
	p.launch = p.launchBrowser
	go p.sweepLoop()
	return p
}

// launchBrowser starts a Chromium instance with the flags the target
// environment requires (sandboxing disabled, headless).
func (p *Pool) launchBrowser() (*rod.Browser, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if p.cfg.BinPath != "" {
		l = l.Bin(p.cfg.BinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return browser, nil
}

// AcquireSession returns a session with capacity, launching or evicting as
// needed. The returned session has already been charged one request.
func (p *Pool) AcquireSession(ctx context.Context) (*BrowserSession, error) {
	for {
		p.mu.Lock()

		// Reuse a live session with capacity.
		if s := p.pickReusable(); s != nil {
			s.LastUsed = time.Now()
			s.RequestCount++
			p.mu.Unlock()
			return s, nil
		}

		// Room for a new session: reserve the slot, launch outside the lock.
		if len(p.sessions) < p.cfg.MaxBrowsers {
			reserved := p.reserveSlot()
			p.mu.Unlock()
			return p.fillSlot(reserved)
		}

		// At capacity: evict the least recently used idle session.
		victim := p.pickEvictable()
		if victim != nil {
			p.removeSessionLocked(victim.ID)
			reserved := p.reserveSlot()
			p.mu.Unlock()

			p.closeSession(victim)
			return p.fillSlot(reserved)
		}

		// Everything is launching or busy; wait for a slot.
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, types.NewScrapingError(types.ErrTypeBrowser, "", true, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// pickReusable returns a connected session under its request budget and
// session timeout, or nil. Caller holds mu.
func (p *Pool) pickReusable() *BrowserSession {
	now := time.Now()
	for _, s := range p.sessions {
		if s.launching {
			continue
		}
		if s.RequestCount < s.MaxRequests && now.Sub(s.LastUsed) < p.cfg.SessionTimeout {
			return s
		}
	}
	return nil
}

// pickEvictable returns the non-launching session with the smallest
// LastUsed that has no busy pages, or nil. Caller holds mu.
func (p *Pool) pickEvictable() *BrowserSession {
	var victim *BrowserSession
	for _, s := range p.sessions {
		if s.launching || p.hasBusyPagesLocked(s.ID) {
			continue
		}
		if victim == nil || s.LastUsed.Before(victim.LastUsed) {
			victim = s
		}
	}
	return victim
}

// reserveSlot inserts a launching placeholder. Caller holds mu.
func (p *Pool) reserveSlot() *BrowserSession {
	s := &BrowserSession{
		ID:           fmt.Sprintf("session-%d", p.seq.Add(1)),
		CreatedAt:    time.Now(),
		LastUsed:     time.Now(),
		RequestCount: 1,
		MaxRequests:  p.cfg.MaxRequests,
		UserAgent:    p.userAgent,
		launching:    true,
	}
	p.sessions[s.ID] = s
	return s
}

// fillSlot performs the launch for a reserved slot, freeing it on failure.
func (p *Pool) fillSlot(s *BrowserSession) (*BrowserSession, error) {
	browser, err := p.launch()

	p.mu.Lock()
	if err != nil {
		delete(p.sessions, s.ID)
		p.mu.Unlock()
		return nil, types.NewScrapingError(types.ErrTypeBrowser, "", true, err)
	}
	s.Browser = browser
	s.launching = false
	s.LastUsed = time.Now()
	p.mu.Unlock()

	p.totalCreated.Add(1)
	p.logger.Info("browser session created", "session_id", s.ID)
	return s, nil
}

// AcquirePage borrows a free page from the session, creating or evicting
// one within the per-session page budget. The page is marked busy.
func (p *Pool) AcquirePage(s *BrowserSession) (*PageSession, error) {
	var ps *PageSession
	for ps == nil {
		p.mu.Lock()

		// Reuse the first free page.
		for _, candidate := range p.pages {
			if candidate.SessionID == s.ID && !candidate.Busy && candidate.Page != nil {
				candidate.Busy = true
				candidate.LastUsed = time.Now()
				p.mu.Unlock()
				return candidate, nil
			}
		}

		// Page budget full: evict the oldest free page and re-check.
		if p.countPagesLocked(s.ID) >= p.cfg.MaxPagesPerBrowser {
			victim := p.oldestFreePageLocked(s.ID)
			if victim == nil {
				p.mu.Unlock()
				return nil, types.NewScrapingError(types.ErrTypeBrowser, "", true, types.ErrPoolExhausted)
			}
			delete(p.pages, victim.ID)
			p.mu.Unlock()
			if victim.Page != nil {
				_ = victim.Page.Close()
			}
			continue
		}

		// Reserve the page slot, then create the page outside the lock.
		ps = &PageSession{
			ID:        fmt.Sprintf("page-%d", p.seq.Add(1)),
			SessionID: s.ID,
			CreatedAt: time.Now(),
			LastUsed:  time.Now(),
			Busy:      true,
		}
		p.pages[ps.ID] = ps
		p.mu.Unlock()
	}

	page, err := p.newPage(s)
	p.mu.Lock()
	if err != nil {
		delete(p.pages, ps.ID)
		p.mu.Unlock()
		return nil, types.NewScrapingError(types.ErrTypeBrowser, "", true, err)
	}
	ps.Page = page
	p.mu.Unlock()

	p.totalPages.Add(1)
	return ps, nil
}

// newPage creates a stealth page configured with the pool's user agent.
func (p *Pool) newPage(s *BrowserSession) (*rod.Page, error) {
	if s.Browser == nil {
		return nil, fmt.Errorf("session %s has no live browser", s.ID)
	}
	page, err := stealth.Page(s.Browser)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if s.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.UserAgent}); err != nil {
			p.logger.Warn("failed to set user agent", "error", err)
		}
	}
	return page, nil
}

// ReleasePage returns a page to the pool.
func (p *Pool) ReleasePage(ps *PageSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps.Busy = false
	ps.LastUsed = time.Now()
	if s, ok := p.sessions[ps.SessionID]; ok {
		s.LastUsed = time.Now()
	}
}

// Stats returns pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	active := len(p.sessions)
	open := len(p.pages)
	p.mu.Unlock()
	return PoolStats{
		ActiveSessions: active,
		TotalSessions:  p.totalCreated.Load(),
		OpenPages:      open,
		TotalPages:     p.totalPages.Load(),
	}
}

// Cleanup stops the sweep and closes every session and page.
func (p *Pool) Cleanup() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	sessions := make([]*BrowserSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*BrowserSession)
	p.pages = make(map[string]*PageSession)
	p.mu.Unlock()

	for _, s := range sessions {
		p.closeSession(s)
	}
}

// closeSession closes a session's browser process.
func (p *Pool) closeSession(s *BrowserSession) {
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			p.logger.Warn("error closing browser session", "session_id", s.ID, "error", err)
		}
	}
	p.logger.Info("browser session closed", "session_id", s.ID, "requests_served", s.RequestCount)
}

// sweepLoop periodically reaps idle pages and sessions.
func (p *Pool) sweepLoop() {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep closes pages and sessions idle past the session timeout. Busy
// pages, and sessions that still own busy pages, are left alone.
func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var stalePages []*PageSession
	for id, ps := range p.pages {
		if !ps.Busy && now.Sub(ps.LastUsed) > p.cfg.SessionTimeout {
			stalePages = append(stalePages, ps)
			delete(p.pages, id)
		}
	}
	var staleSessions []*BrowserSession
	for id, s := range p.sessions {
		if s.launching || p.hasBusyPagesLocked(id) {
			continue
		}
		if now.Sub(s.LastUsed) > p.cfg.SessionTimeout {
			staleSessions = append(staleSessions, s)
			p.removeSessionLocked(id)
		}
	}
	p.mu.Unlock()

	for _, ps := range stalePages {
		if ps.Page != nil {
			_ = ps.Page.Close()
		}
	}
	for _, s := range staleSessions {
		p.closeSession(s)
	}
	if len(stalePages) > 0 || len(staleSessions) > 0 {
		p.logger.Debug("idle sweep", "pages_closed", len(stalePages), "sessions_closed", len(staleSessions))
	}
}

// removeSessionLocked removes a session and cascades over its pages.
// Caller holds mu.
func (p *Pool) removeSessionLocked(sessionID string) {
	delete(p.sessions, sessionID)
	for id, ps := range p.pages {
		if ps.SessionID == sessionID {
			delete(p.pages, id)
		}
	}
}

func (p *Pool) countPagesLocked(sessionID string) int {
	n := 0
	for _, ps := range p.pages {
		if ps.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (p *Pool) hasBusyPagesLocked(sessionID string) bool {
	for _, ps := range p.pages {
		if ps.SessionID == sessionID && ps.Busy {
			return true
		}
	}
	return false
}

func (p *Pool) oldestFreePageLocked(sessionID string) *PageSession {
	var victim *PageSession
	for _, ps := range p.pages {
		if ps.SessionID != sessionID || ps.Busy || ps.Page == nil {
			continue
		}
		if victim == nil || ps.LastUsed.Before(victim.LastUsed) {
			victim = ps
		}
	}
	return victim
}
