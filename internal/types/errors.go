package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidTarget   = errors.New("invalid scraping target")
	ErrRobotsDenied    = errors.New("blocked by robots.txt")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrManagerClosed   = errors.New("request manager is shut down")
	ErrDuplicateTarget = errors.New("target ID already in flight")
	ErrMaxRetries      = errors.New("max retries exceeded")
	ErrPoolExhausted   = errors.New("browser pool exhausted")
)

// ErrorType classifies a ScrapingError for retry decisions and reporting.
type ErrorType string

const (
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeParsing    ErrorType = "parsing"
	ErrTypeJavaScript ErrorType = "javascript"
	ErrTypeBrowser    ErrorType = "browser"
	ErrTypeRateLimit  ErrorType = "ratelimit"
	ErrTypeRobots     ErrorType = "robots"
	ErrTypeUnknown    ErrorType = "unknown"
)

// ScrapingError is the classified error carried in a ProcessingResult.
type ScrapingError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	Err        error     `json:"-"`
}

func (e *ScrapingError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error for %s (status %d): %s", e.Type, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.URL, e.Message)
}

func (e *ScrapingError) Unwrap() error { return e.Err }

// NewScrapingError builds a classified error from an underlying cause.
func NewScrapingError(typ ErrorType, url string, retryable bool, err error) *ScrapingError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ScrapingError{
		Type:      typ,
		Message:   msg,
		URL:       url,
		Retryable: retryable,
		Err:       err,
	}
}

// IsRetryable reports whether err is a ScrapingError marked retryable.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	var se *ScrapingError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// ErrorKind identifies a class of application error in the shared taxonomy.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindParse         ErrorKind = "parse"
	KindRateLimit     ErrorKind = "rate_limit"
	KindValidation    ErrorKind = "validation"
	KindFileSystem    ErrorKind = "filesystem"
	KindConfiguration ErrorKind = "configuration"
	KindScraping      ErrorKind = "scraping"
	KindAPI           ErrorKind = "api"
	KindProcessing    ErrorKind = "processing"
	KindTimeout       ErrorKind = "timeout"
)

// AppError is the shared application error used across the core and by
// enrichment callers. Operational errors are expected runtime failures
// (network flakes, bad input); non-operational ones indicate a bug.
type AppError struct {
	Kind        ErrorKind
	Message     string
	URL         string
	CourseID    string
	Service     string
	RetryAfter  time.Duration
	Operational bool
	Err         error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// IsOperational reports whether err is a known-operational AppError.
// Programmer errors return false and may warrant a process exit in
// production.
func IsOperational(err error) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Operational
	}
	return false
}

// NewAppError creates an operational AppError of the given kind.
func NewAppError(kind ErrorKind, message string, err error) *AppError {
	return &AppError{
		Kind:        kind,
		Message:     message,
		Operational: true,
		Err:         err,
	}
}

// NewProgrammerError creates a non-operational AppError for unexpected
// conditions.
func NewProgrammerError(message string, err error) *AppError {
	return &AppError{
		Kind:        KindProcessing,
		Message:     message,
		Operational: false,
		Err:         err,
	}
}
