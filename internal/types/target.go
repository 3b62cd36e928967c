package types

import (
	"fmt"
	"net/url"
	"time"
)

// Priority controls scheduling order for scraping targets.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ScrapingTarget is an immutable descriptor of a page to scrape.
type ScrapingTarget struct {
	// ID is an opaque identifier, unique among in-flight requests.
	ID string `json:"id"`

	// Name is a human-readable display name for the course.
	Name string `json:"name"`

	// URL is the absolute http(s) URL to scrape.
	URL string `json:"url"`

	// Priority controls scheduling order in the request manager.
	Priority Priority `json:"priority"`

	// SourceType tags where this target came from (e.g. "directory", "manual").
	SourceType string `json:"source_type,omitempty"`
}

// Validate checks that the target is well-formed.
func (t *ScrapingTarget) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("target ID is required: %w", ErrInvalidTarget)
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("invalid target URL %q: %w", t.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target URL scheme must be http or https, got %q: %w", u.Scheme, ErrInvalidTarget)
	}
	if u.Host == "" {
		return fmt.Errorf("target URL must have a host: %w", ErrInvalidTarget)
	}
	return nil
}

// Host returns the scheme://host origin of the target URL.
func (t *ScrapingTarget) Host() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Viewport is the browser window size for dynamic scraping.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScrapingOptions carries per-request overrides. The zero value means
// "use manager defaults" for every field.
type ScrapingOptions struct {
	// Timeout bounds the whole fetch (navigation included).
	Timeout time.Duration `json:"timeout,omitempty"`

	// UserAgent overrides the configured user agent.
	UserAgent string `json:"user_agent,omitempty"`

	// JavaScript forces the dynamic (headless browser) backend.
	JavaScript bool `json:"javascript,omitempty"`

	// WaitForSelector blocks dynamic scraping until the selector appears.
	WaitForSelector string `json:"wait_for_selector,omitempty"`

	// WaitTime is an extra settle delay after navigation.
	WaitTime time.Duration `json:"wait_time,omitempty"`

	// Screenshots enables a full-page capture into the media store.
	Screenshots bool `json:"screenshots,omitempty"`

	// Viewport overrides the default 1280x720 browser window.
	Viewport *Viewport `json:"viewport,omitempty"`
}
