package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/types"
)

// StaticFetcher performs plain HTTP GETs and extracts course records with
// goquery. It is the default backend.
type StaticFetcher struct {
	client    *http.Client
	cfg       *config.FetcherConfig
	userAgent string
	logger    *slog.Logger
}

// NewStaticFetcher creates the HTTP backend.
func NewStaticFetcher(cfg *config.Config, logger *slog.Logger) (*StaticFetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Fetcher.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Fetcher.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.Fetcher.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Fetcher.TLSInsecure,
		},
		DisableCompression: true, // decompression handled below, brotli included
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		// Redirects are followed manually so the chain can be recorded.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &StaticFetcher{
		client:    client,
		cfg:       &cfg.Fetcher,
		userAgent: cfg.Scraper.UserAgent,
		logger:    logger.With("component", "static_fetcher"),
	}, nil
}

// Method returns the fetch method identifier.
func (f *StaticFetcher) Method() types.FetchMethod { return types.MethodStatic }

// Close releases idle connections.
func (f *StaticFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Fetch performs the GET (following redirects up to the configured cap),
// parses the HTML, and runs the extraction cascade.
func (f *StaticFetcher) Fetch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error) {
	start := time.Now()

	timeout := f.cfg.Timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	userAgent := f.userAgent
	if opts != nil && opts.UserAgent != "" {
		userAgent = opts.UserAgent
	}

	resp, redirects, err := f.get(ctx, target.URL, userAgent)
	if err != nil {
		return nil, classifyTransportError(target.URL, err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL

	if scrapeErr := classifyStatus(target.URL, resp.StatusCode); scrapeErr != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, scrapeErr
	}

	var reader io.Reader = resp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}
	reader, err = decompressReader(resp, reader)
	if err != nil {
		return nil, types.NewScrapingError(types.ErrTypeParsing, target.URL, false, err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyTransportError(target.URL, err)
	}

	doc, err := goquery.NewDocumentFromReader(newByteReader(body))
	if err != nil {
		return nil, types.NewScrapingError(types.ErrTypeParsing, target.URL, false, err)
	}

	extracted := extractCourse(doc, finalURL, target.Name)

	result := types.NewResult(target.URL, types.MethodStatic)
	result.Success = true
	result.Data = extracted.Data
	result.Contact = extracted.Contact
	result.Images = extracted.Images
	result.Confidence = scoreConfidence(extracted)
	result.ProcessingTime = time.Since(start)
	result.Metadata.FinalURL = finalURL.String()
	result.Metadata.Redirects = redirects
	result.Metadata.ResponseSize = int64(len(body))

	f.logger.Debug("static fetch complete",
		"url", target.URL,
		"final_url", result.Metadata.FinalURL,
		"status", resp.StatusCode,
		"size", len(body),
		"confidence", result.Confidence,
		"duration", result.ProcessingTime,
	)

	return result, nil
}

// get issues the GET and follows redirects manually, recording each hop.
func (f *StaticFetcher) get(ctx context.Context, rawURL, userAgent string) (*http.Response, []string, error) {
	var redirects []string
	current := rawURL

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, nil, err
		}

		if resp.StatusCode < 300 || resp.StatusCode >= 400 {
			return resp, redirects, nil
		}

		location := resp.Header.Get("Location")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		if location == "" {
			return nil, nil, fmt.Errorf("HTTP %d without Location header", resp.StatusCode)
		}
		if hop >= f.cfg.MaxRedirects {
			return nil, nil, fmt.Errorf("max redirects (%d) reached", f.cfg.MaxRedirects)
		}

		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		redirects = append(redirects, next.String())
		current = next.String()
	}
}

// classifyStatus maps a non-success status to a scraping error, or nil for 2xx.
func classifyStatus(rawURL string, status int) *types.ScrapingError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusForbidden || status == http.StatusGone:
		return &types.ScrapingError{
			Type:       types.ErrTypeNetwork,
			Message:    fmt.Sprintf("HTTP %d", status),
			URL:        rawURL,
			StatusCode: status,
			Retryable:  false,
		}
	case status == http.StatusTooManyRequests:
		return &types.ScrapingError{
			Type:       types.ErrTypeRateLimit,
			Message:    "HTTP 429: rate limited",
			URL:        rawURL,
			StatusCode: status,
			Retryable:  true,
		}
	default:
		return &types.ScrapingError{
			Type:       types.ErrTypeNetwork,
			Message:    fmt.Sprintf("HTTP %d", status),
			URL:        rawURL,
			StatusCode: status,
			Retryable:  true,
		}
	}
}

// classifyTransportError maps I/O failures to scraping errors, separating
// timeout-class errors from the rest.
func classifyTransportError(rawURL string, err error) *types.ScrapingError {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewScrapingError(types.ErrTypeTimeout, rawURL, true, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewScrapingError(types.ErrTypeTimeout, rawURL, true, err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewScrapingError(types.ErrTypeNetwork, rawURL, false, err)
	}

	retryable := false
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		retryable = true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			retryable = true
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// DNS and dial failures are worth another attempt.
		retryable = true
	}
	return types.NewScrapingError(types.ErrTypeNetwork, rawURL, retryable, err)
}

// decompressReader wraps a reader with the decompressor matching the
// response's Content-Encoding (gzip, deflate, or brotli).
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// byteReader is a minimal io.Reader over a byte slice.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
