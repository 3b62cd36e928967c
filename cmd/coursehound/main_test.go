package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/manager"
	"github.com/fairwaylabs/coursehound/internal/observability"
	"github.com/fairwaylabs/coursehound/internal/robots"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// slowFetcher sleeps per fetch so batch wall time exposes sequential
// submission.
type slowFetcher struct {
	delay time.Duration
}

func (f slowFetcher) Fetch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error) {
	time.Sleep(f.delay)
	result := types.NewResult(target.URL, types.MethodStatic)
	result.Success = true
	result.Data = &types.CourseBasicInfo{Name: target.Name}
	return result, nil
}

func (slowFetcher) Close() error              { return nil }
func (slowFetcher) Method() types.FetchMethod { return types.MethodStatic }

func TestScrapeAllSubmitsConcurrently(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(origin.Close)

	logger := slog.New(slog.DiscardHandler)
	cfg := config.DefaultConfig()
	cfg.Scraper.Concurrency = 4
	cfg.Scraper.DefaultDelay = 0
	cfg.Robots.DefaultDelay = 0

	robotsCache := robots.New(&cfg.Robots, logger)
	metrics := observability.NewMetrics(logger)
	mgr := manager.New(cfg, robotsCache, slowFetcher{delay: 60 * time.Millisecond}, nil, metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Cleanup(ctx)
	})

	var targets []*types.ScrapingTarget
	for i := 0; i < 4; i++ {
		targets = append(targets, &types.ScrapingTarget{
			ID:  fmt.Sprintf("batch-%d", i),
			URL: fmt.Sprintf("%s/course-%d", origin.URL, i),
		})
	}

	start := time.Now()
	results, failed := scrapeAll(context.Background(), mgr, targets, &types.ScrapingOptions{}, logger)
	elapsed := time.Since(start)

	if failed != 0 {
		t.Fatalf("failed = %d", failed)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	// Four 60ms fetches run in parallel; sequential submission would need
	// at least 240ms.
	if elapsed > 200*time.Millisecond {
		t.Errorf("batch took %s, targets are not being submitted concurrently", elapsed)
	}
}

func TestScrapeAllKeepsInputOrder(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(origin.Close)

	logger := slog.New(slog.DiscardHandler)
	cfg := config.DefaultConfig()
	cfg.Scraper.Concurrency = 2
	cfg.Scraper.DefaultDelay = 0
	cfg.Robots.DefaultDelay = 0

	robotsCache := robots.New(&cfg.Robots, logger)
	metrics := observability.NewMetrics(logger)
	mgr := manager.New(cfg, robotsCache, slowFetcher{delay: 10 * time.Millisecond}, nil, metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Cleanup(ctx)
	})

	var targets []*types.ScrapingTarget
	for i := 0; i < 5; i++ {
		targets = append(targets, &types.ScrapingTarget{
			ID:   fmt.Sprintf("ordered-%d", i),
			Name: fmt.Sprintf("Course %d", i),
			URL:  fmt.Sprintf("%s/course-%d", origin.URL, i),
		})
	}

	results, failed := scrapeAll(context.Background(), mgr, targets, &types.ScrapingOptions{}, logger)
	if failed != 0 || len(results) != 5 {
		t.Fatalf("results = %d, failed = %d", len(results), failed)
	}
	for i, r := range results {
		if want := fmt.Sprintf("Course %d", i); r.Data.Name != want {
			t.Errorf("results[%d] = %q, want %q", i, r.Data.Name, want)
		}
	}
}
