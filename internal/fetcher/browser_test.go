package fetcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/fairwaylabs/coursehound/internal/config"
)

func poolConfig() *config.BrowserConfig {
	return &config.BrowserConfig{
		MaxBrowsers:        3,
		MaxPagesPerBrowser: 5,
		SessionTimeout:     30 * time.Minute,
		PageTimeout:        30 * time.Second,
		MaxRequests:        50,
		SweepInterval:      time.Hour,
	}
}

// newFakePool replaces the launch step so pool bookkeeping can be tested
// without a Chromium binary. Sessions carry a nil Browser.
func newFakePool(t *testing.T, cfg *config.BrowserConfig) (*Pool, *atomic.Int64) {
	t.Helper()
	p := NewPool(cfg, "test-agent", testLogger())
	launches := &atomic.Int64{}
	p.launch = func() (*rod.Browser, error) {
		launches.Add(1)
		return nil, nil
	}
	t.Cleanup(p.Cleanup)
	return p, launches
}

func TestAcquireSessionReusesCapacity(t *testing.T) {
	p, launches := newFakePool(t, poolConfig())

	first, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if first.ID != second.ID {
		t.Error("session with request capacity should be reused")
	}
	if launches.Load() != 1 {
		t.Errorf("launches = %d, want 1", launches.Load())
	}
	if second.RequestCount != 2 {
		t.Errorf("request count = %d, want 2", second.RequestCount)
	}
}

func TestAcquireSessionHonorsBrowserCap(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxRequests = 1 // force a fresh session per acquire
	p, launches := newFakePool(t, cfg)

	for i := 0; i < 5; i++ {
		if _, err := p.AcquireSession(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	stats := p.Stats()
	if stats.ActiveSessions > cfg.MaxBrowsers {
		t.Errorf("active sessions = %d, cap is %d", stats.ActiveSessions, cfg.MaxBrowsers)
	}
	if stats.TotalSessions != 5 || launches.Load() != 5 {
		t.Errorf("total sessions = %d launches = %d, want 5", stats.TotalSessions, launches.Load())
	}
}

func TestAcquireSessionEvictsLRU(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxRequests = 1
	p, _ := newFakePool(t, cfg)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := p.AcquireSession(context.Background())
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		ids = append(ids, s.ID)
	}

	// Make the second session the stalest.
	p.mu.Lock()
	p.sessions[ids[0]].LastUsed = time.Now().Add(-1 * time.Minute)
	p.sessions[ids[1]].LastUsed = time.Now().Add(-5 * time.Minute)
	p.sessions[ids[2]].LastUsed = time.Now().Add(-2 * time.Minute)
	p.mu.Unlock()

	if _, err := p.AcquireSession(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	p.mu.Lock()
	_, survived := p.sessions[ids[1]]
	p.mu.Unlock()
	if survived {
		t.Error("least recently used session should have been evicted")
	}
}

func TestAcquireSessionBlocksWhenBusy(t *testing.T) {
	cfg := poolConfig()
	cfg.MaxBrowsers = 1
	cfg.MaxRequests = 1
	p, _ := newFakePool(t, cfg)

	s, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A busy page pins the only session against eviction.
	p.mu.Lock()
	p.pages["page-busy"] = &PageSession{ID: "page-busy", SessionID: s.ID, Busy: true}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := p.AcquireSession(ctx); err == nil {
		t.Fatal("expected acquisition to fail while the pool is pinned")
	}
}

func TestPageBudgetHelpers(t *testing.T) {
	p, _ := newFakePool(t, poolConfig())

	now := time.Now()
	p.mu.Lock()
	p.pages["a"] = &PageSession{ID: "a", SessionID: "s1", Busy: true, LastUsed: now}
	p.pages["b"] = &PageSession{ID: "b", SessionID: "s1", Page: &rod.Page{}, LastUsed: now.Add(-2 * time.Minute)}
	p.pages["c"] = &PageSession{ID: "c", SessionID: "s1", Page: &rod.Page{}, LastUsed: now.Add(-1 * time.Minute)}
	p.pages["d"] = &PageSession{ID: "d", SessionID: "s2", Page: &rod.Page{}, LastUsed: now}

	if n := p.countPagesLocked("s1"); n != 3 {
		t.Errorf("countPagesLocked = %d, want 3", n)
	}
	if !p.hasBusyPagesLocked("s1") {
		t.Error("s1 has a busy page")
	}
	if p.hasBusyPagesLocked("s2") {
		t.Error("s2 has no busy page")
	}
	if victim := p.oldestFreePageLocked("s1"); victim == nil || victim.ID != "b" {
		t.Errorf("oldest free page = %v, want b", victim)
	}

	p.removeSessionLocked("s1")
	if len(p.pages) != 1 {
		t.Errorf("pages after cascade = %d, want only s2's page", len(p.pages))
	}
	p.mu.Unlock()

	if stats := p.Stats(); stats.OpenPages != 1 {
		t.Errorf("open pages = %d, want 1", stats.OpenPages)
	}
}

func TestReleasePageTouchesSession(t *testing.T) {
	p, _ := newFakePool(t, poolConfig())
	s, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	stale := time.Now().Add(-10 * time.Minute)
	p.mu.Lock()
	s.LastUsed = stale
	ps := &PageSession{ID: "p1", SessionID: s.ID, Busy: true, LastUsed: stale}
	p.pages[ps.ID] = ps
	p.mu.Unlock()

	p.ReleasePage(ps)

	p.mu.Lock()
	defer p.mu.Unlock()
	if ps.Busy {
		t.Error("released page still busy")
	}
	if !ps.LastUsed.After(stale) || !s.LastUsed.After(stale) {
		t.Error("release must refresh page and session timestamps")
	}
}

func TestSweepReapsIdleSessions(t *testing.T) {
	cfg := poolConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	cfg.MaxRequests = 1 // keep the two acquires from sharing a session
	p, _ := newFakePool(t, cfg)

	busySession, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	idleSession, err := p.AcquireSession(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = idleSession

	p.mu.Lock()
	p.pages["busy"] = &PageSession{ID: "busy", SessionID: busySession.ID, Busy: true, LastUsed: time.Now()}
	p.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	p.sweep()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[busySession.ID]; !ok {
		t.Error("session with a busy page must survive the sweep")
	}
	if len(p.sessions) != 1 {
		t.Errorf("sessions after sweep = %d, want 1", len(p.sessions))
	}
}

func TestCleanupClosesEverything(t *testing.T) {
	p, _ := newFakePool(t, poolConfig())
	if _, err := p.AcquireSession(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	p.Cleanup()

	stats := p.Stats()
	if stats.ActiveSessions != 0 {
		t.Errorf("active sessions after cleanup = %d", stats.ActiveSessions)
	}
}
