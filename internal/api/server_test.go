package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/manager"
	"github.com/fairwaylabs/coursehound/internal/observability"
	"github.com/fairwaylabs/coursehound/internal/robots"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// stubFetcher returns a canned success for every target.
type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error) {
	result := types.NewResult(target.URL, types.MethodStatic)
	result.Success = true
	result.Data = &types.CourseBasicInfo{Name: "Stub Course"}
	result.Confidence = 14
	return result, nil
}

func (stubFetcher) Close() error              { return nil }
func (stubFetcher) Method() types.FetchMethod { return types.MethodStatic }

// newTestServer wires an API server over a stub pipeline, plus an origin
// serving the given robots.txt for targets.
func newTestServer(t *testing.T, robotsBody string) (*Server, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" && robotsBody != "" {
			w.Write([]byte(robotsBody))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(origin.Close)

	logger := slog.New(slog.DiscardHandler)
	cfg := config.DefaultConfig()
	cfg.Scraper.DefaultDelay = 0
	cfg.Robots.DefaultDelay = 0

	robotsCache := robots.New(&cfg.Robots, logger)
	metrics := observability.NewMetrics(logger)
	mgr := manager.New(cfg, robotsCache, stubFetcher{}, nil, metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Cleanup(ctx)
	})

	return NewServer(0, mgr, robotsCache, metrics, logger), origin
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleScrape(t *testing.T) {
	srv, origin := newTestServer(t, "")

	payload := `{"target":{"id":"t1","name":"Course","url":"` + origin.URL + `/course"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result types.ProcessingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Data.Name != "Stub Course" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleScrapeRobotsDenied(t *testing.T) {
	srv, origin := newTestServer(t, "User-agent: *\nDisallow: /\n")

	payload := `{"target":{"id":"t1","url":"` + origin.URL + `/course"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(payload)))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Robots.txt disallows scraping") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleScrapeBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape",
		strings.NewReader(`{"target":{"id":"x","url":"ftp://nope"}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid target: status = %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["manager"]; !ok {
		t.Error("stats missing manager section")
	}
	if _, ok := body["counters"]; !ok {
		t.Error("stats missing counters section")
	}
}

func TestHandleRobots(t *testing.T) {
	srv, origin := newTestServer(t, "User-agent: *\nDisallow: /private\n")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/robots?url="+origin.URL+"/private/x", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var check robots.CheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatal(err)
	}
	if check.Allowed {
		t.Error("expected /private to be disallowed")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/robots", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d", rec.Code)
	}
}
