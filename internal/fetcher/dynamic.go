package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/media"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// selectorWaitTimeout bounds how long the fetcher waits for
// options.WaitForSelector to appear.
const selectorWaitTimeout = 10 * time.Second

// defaultWaitTime is the settle delay applied after navigation when the
// options do not override it.
const defaultWaitTime = 2 * time.Second

// DynamicFetcher renders pages in pooled headless browser sessions and runs
// the extraction cascade inside the page context.
type DynamicFetcher struct {
	pool   *Pool
	media  *media.Store
	cfg    *config.BrowserConfig
	strict bool
	logger *slog.Logger
}

// NewDynamicFetcher creates the browser backend on top of a session pool.
func NewDynamicFetcher(cfg *config.Config, store *media.Store, logger *slog.Logger) *DynamicFetcher {
	return &DynamicFetcher{
		pool:   NewPool(&cfg.Browser, cfg.Scraper.UserAgent, logger),
		media:  store,
		cfg:    &cfg.Browser,
		strict: cfg.Scraper.StrictExtraction,
		logger: logger.With("component", "dynamic_fetcher"),
	}
}

// Method returns the fetch method identifier.
func (f *DynamicFetcher) Method() types.FetchMethod { return types.MethodDynamic }

// Close shuts down every pooled session.
func (f *DynamicFetcher) Close() error {
	f.pool.Cleanup()
	return nil
}

// Stats exposes pool counters.
func (f *DynamicFetcher) Stats() PoolStats { return f.pool.Stats() }

// Fetch navigates to the target in a pooled page, waits for dynamic content,
// and evaluates the extraction script in-page.
func (f *DynamicFetcher) Fetch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error) {
	start := time.Now()
	if opts == nil {
		opts = &types.ScrapingOptions{}
	}

	timeout := f.cfg.PageTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+selectorWaitTimeout+defaultWaitTime+opts.WaitTime)
	defer cancel()

	session, err := f.pool.AcquireSession(ctx)
	if err != nil {
		return nil, asScrapingError(err, target.URL)
	}
	ps, err := f.pool.AcquirePage(session)
	if err != nil {
		return nil, asScrapingError(err, target.URL)
	}
	defer f.pool.ReleasePage(ps)

	// Scope all page work to this request's context so event listeners and
	// hijackers end with it.
	page := ps.Page.Context(ctx)

	if err := f.configurePage(page, opts); err != nil {
		return nil, types.NewScrapingError(types.ErrTypeBrowser, target.URL, true, err)
	}

	result := types.NewResult(target.URL, types.MethodDynamic)

	// Page events arrive on rod's event goroutines for as long as the request
	// context lives, so they collect warnings through a locked sink rather
	// than appending to the result directly.
	sink := &warningSink{}

	resources := f.interceptResources(page, result)
	f.watchPageErrors(page, target.URL, sink)

	status, err := f.navigate(page, target.URL, timeout)
	if err != nil {
		return nil, classifyNavigationError(target.URL, err)
	}
	if status > 0 {
		if scrapeErr := classifyStatus(target.URL, status); scrapeErr != nil {
			return nil, scrapeErr
		}
	}

	f.waitForContent(page, opts, timeout, result)

	html, err := page.HTML()
	if err == nil {
		result.Metadata.ResponseSize = int64(len(html))
	}
	if info, err := page.Info(); err == nil && info != nil {
		result.Metadata.FinalURL = info.URL
	}
	result.Metadata.ResourcesLoaded = int(resources.Load())

	extracted, err := f.evaluateExtraction(page, target)
	if err != nil {
		if f.strict {
			return nil, types.NewScrapingError(types.ErrTypeParsing, target.URL, false, err)
		}
		// A rendered page with failed extraction is still useful: degrade
		// to a minimal record instead of failing the request.
		result.AddWarning(fmt.Sprintf("extraction failed, returning partial data: %v", err))
		extracted = &extraction{
			Data:    &types.CourseBasicInfo{Name: target.Name},
			Contact: &types.ContactInfo{},
			Images:  &types.CourseImages{},
		}
	}

	if opts.Screenshots {
		f.captureScreenshot(page, target, result)
	}

	result.Warnings = append(result.Warnings, sink.drain()...)

	result.Success = true
	result.Data = extracted.Data
	result.Contact = extracted.Contact
	result.Images = extracted.Images
	result.Confidence = scoreConfidence(extracted)
	result.ProcessingTime = time.Since(start)

	f.logger.Debug("dynamic fetch complete",
		"url", target.URL,
		"final_url", result.Metadata.FinalURL,
		"resources", result.Metadata.ResourcesLoaded,
		"confidence", result.Confidence,
		"duration", result.ProcessingTime,
	)

	return result, nil
}

// configurePage applies user agent, viewport, and timeout settings.
func (f *DynamicFetcher) configurePage(page *rod.Page, opts *types.ScrapingOptions) error {
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	width, height := f.cfg.ViewportWidth, f.cfg.ViewportHeight
	if opts.Viewport != nil {
		width, height = opts.Viewport.Width, opts.Viewport.Height
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// interceptResources aborts stylesheet, font, and media requests to cut
// load time, counting everything allowed through.
func (f *DynamicFetcher) interceptResources(page *rod.Page, result *types.ProcessingResult) *loadCounter {
	counter := &loadCounter{}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			counter.Add(1)
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		result.AddWarning(fmt.Sprintf("request interception unavailable: %v", err))
		return counter
	}
	go router.Run()
	return counter
}

// watchPageErrors records in-page console and runtime errors into the sink.
func (f *DynamicFetcher) watchPageErrors(page *rod.Page, url string, sink *warningSink) {
	go page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type == proto.RuntimeConsoleAPICalledTypeError {
				f.logger.Warn("page console error", "url", url)
				sink.Add("console error in page")
			}
		},
		func(e *proto.RuntimeExceptionThrown) {
			f.logger.Warn("page exception", "url", url, "text", e.ExceptionDetails.Text)
			sink.Add("page exception: %s", e.ExceptionDetails.Text)
		},
	)()
}

// navigate loads the URL waiting for network idle, reporting the document
// response status when observable.
func (f *DynamicFetcher) navigate(page *rod.Page, url string, timeout time.Duration) (int, error) {
	statusCh := make(chan int, 1)
	waitStatus := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			select {
			case statusCh <- e.Response.Status:
			default:
			}
			return true
		}
		return false
	})
	go waitStatus()

	timed := page.Timeout(timeout)
	waitIdle := timed.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := timed.Navigate(url); err != nil {
		return 0, err
	}
	waitIdle()

	select {
	case status := <-statusCh:
		return status, nil
	default:
		return 0, nil
	}
}

// waitForContent runs the content-ready strategy: optional selector wait,
// settle delay, then a best-effort second idle wait.
func (f *DynamicFetcher) waitForContent(page *rod.Page, opts *types.ScrapingOptions, timeout time.Duration, result *types.ProcessingResult) {
	if opts.WaitForSelector != "" {
		if _, err := page.Timeout(selectorWaitTimeout).Element(opts.WaitForSelector); err != nil {
			f.logger.Warn("wait selector timeout", "selector", opts.WaitForSelector, "error", err)
			result.AddWarning(fmt.Sprintf("selector %q did not appear", opts.WaitForSelector))
		}
	}

	waitTime := opts.WaitTime
	if waitTime <= 0 {
		waitTime = defaultWaitTime
	}
	time.Sleep(waitTime)

	if err := page.Timeout(timeout).WaitIdle(timeout); err != nil {
		f.logger.Debug("post-wait network idle timeout, continuing", "error", err)
	}
}

// extractScript runs the same selector cascade as the static backend inside
// the page, returning a JSON string. It is a single self-contained payload.
const extractScript = `() => {
	const textOf = (sels) => {
		for (const s of sels) {
			const el = document.querySelector(s);
			if (el && el.textContent.trim()) return el.textContent.trim();
		}
		return "";
	};
	const attrOf = (sel, attr) => {
		const el = document.querySelector(sel);
		return el ? (el.getAttribute(attr) || "") : "";
	};
	const imgs = (sels) => {
		const out = [];
		const seen = new Set();
		for (const s of sels) {
			document.querySelectorAll(s).forEach((img) => {
				for (const attr of ["src", "data-src"]) {
					const v = img.getAttribute(attr);
					if (!v) continue;
					let abs;
					try { abs = new URL(v, document.baseURI).href; } catch (e) { continue; }
					if (!seen.has(abs)) { seen.add(abs); out.push(abs); }
				}
			});
		}
		return out;
	};

	let name = textOf(["h1", ".course-name", ".page-title"]) || document.title.trim();
	let description = textOf([".course-description", ".about-course", ".description"]) ||
		attrOf('meta[name="description"]', "content").trim();
	let architect = textOf([".architect", ".designer"]);

	let phone = attrOf('a[href^="tel:"]', "href").replace(/^tel:/, "").trim() ||
		textOf([".phone", ".contact-phone"]);
	let email = attrOf('a[href^="mailto:"]', "href").replace(/^mailto:/, "").split("?")[0].trim();
	if (!email) {
		const m = document.body.textContent.match(/[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}/);
		email = m ? m[0] : "";
	}

	return JSON.stringify({
		name: name,
		description: description,
		architect: architect,
		phone: phone,
		email: email,
		hero: imgs([".hero img", ".banner img", ".main-image img"]),
		gallery: imgs([".gallery img", ".photo-gallery img", ".course-photos img"]),
	});
}`

// pageExtraction is the payload shape returned by extractScript.
type pageExtraction struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Architect   string   `json:"architect"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Hero        []string `json:"hero"`
	Gallery     []string `json:"gallery"`
}

// evaluateExtraction runs the extraction payload in the page context.
func (f *DynamicFetcher) evaluateExtraction(page *rod.Page, target *types.ScrapingTarget) (*extraction, error) {
	obj, err := page.Timeout(selectorWaitTimeout).Eval(extractScript)
	if err != nil {
		return nil, fmt.Errorf("in-page extraction: %w", err)
	}

	var payload pageExtraction
	if err := json.Unmarshal([]byte(obj.Value.Str()), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}

	e := &extraction{
		Data: &types.CourseBasicInfo{
			Name:        payload.Name,
			Description: payload.Description,
			Architect:   payload.Architect,
		},
		Contact: &types.ContactInfo{
			Phone: payload.Phone,
			Email: payload.Email,
		},
		Images: &types.CourseImages{
			Hero:    payload.Hero,
			Gallery: payload.Gallery,
		},
	}
	if e.Data.Name == "" {
		e.Data.Name = target.Name
	}
	return e, nil
}

// captureScreenshot saves a full-page PNG; failure is a warning only.
func (f *DynamicFetcher) captureScreenshot(page *rod.Page, target *types.ScrapingTarget, result *types.ProcessingResult) {
	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		result.AddWarning(fmt.Sprintf("screenshot failed: %v", err))
		return
	}
	path, err := f.media.WriteScreenshot(target.ID, data)
	if err != nil {
		result.AddWarning(fmt.Sprintf("screenshot write failed: %v", err))
		return
	}
	result.Metadata.Screenshots = append(result.Metadata.Screenshots, path)
	f.logger.Info("screenshot captured", "target_id", target.ID, "path", path)
}

// classifyNavigationError maps rod navigation failures to scraping errors.
func classifyNavigationError(rawURL string, err error) *types.ScrapingError {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewScrapingError(types.ErrTypeTimeout, rawURL, true, err)
	}
	return types.NewScrapingError(types.ErrTypeNetwork, rawURL, true, err)
}

// asScrapingError stamps the URL onto a pool error.
func asScrapingError(err error, rawURL string) *types.ScrapingError {
	var se *types.ScrapingError
	if errors.As(err, &se) {
		se.URL = rawURL
		return se
	}
	return types.NewScrapingError(types.ErrTypeBrowser, rawURL, true, err)
}

// loadCounter counts resources allowed through interception.
type loadCounter struct {
	n atomic.Int64
}

func (c *loadCounter) Add(delta int64) { c.n.Add(delta) }
func (c *loadCounter) Load() int64     { return c.n.Load() }

// warningSink accumulates warnings from page event goroutines. Late events
// arriving after drain are dropped with the page context.
type warningSink struct {
	mu       sync.Mutex
	warnings []string
}

func (s *warningSink) Add(format string, args ...any) {
	s.mu.Lock()
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *warningSink) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.warnings...)
	s.warnings = nil
	return out
}
