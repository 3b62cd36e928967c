package types

import "time"

// FetchMethod identifies which backend produced a result.
type FetchMethod string

const (
	MethodStatic  FetchMethod = "static"
	MethodDynamic FetchMethod = "dynamic"
)

// CourseBasicInfo is the structured course record extracted from a page.
type CourseBasicInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Architect   string `json:"architect,omitempty"`
}

// ContactInfo holds contact details extracted from a page.
type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// CourseImages groups extracted image URLs by role.
type CourseImages struct {
	Hero      []string `json:"hero,omitempty"`
	Gallery   []string `json:"gallery,omitempty"`
	CourseMap []string `json:"course_map,omitempty"`
	Aerial    []string `json:"aerial,omitempty"`
	Amenities []string `json:"amenities,omitempty"`
}

// Count returns the total number of collected image URLs.
func (c *CourseImages) Count() int {
	return len(c.Hero) + len(c.Gallery) + len(c.CourseMap) + len(c.Aerial) + len(c.Amenities)
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	Method          FetchMethod `json:"method"`
	FinalURL        string      `json:"final_url,omitempty"`
	Redirects       []string    `json:"redirects,omitempty"`
	ResponseSize    int64       `json:"response_size,omitempty"`
	ResourcesLoaded int         `json:"resources_loaded,omitempty"`
	Screenshots     []string    `json:"screenshots,omitempty"`
}

// ProcessingResult is the canonical output of a scraping request.
type ProcessingResult struct {
	Success        bool             `json:"success"`
	Data           *CourseBasicInfo `json:"data,omitempty"`
	Contact        *ContactInfo     `json:"contact,omitempty"`
	Images         *CourseImages    `json:"images,omitempty"`
	Errors         []*ScrapingError `json:"errors,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	ProcessingTime time.Duration    `json:"processing_time"`
	Confidence     int              `json:"confidence"`
	Source         string           `json:"source"`
	Metadata       ResultMetadata   `json:"metadata"`
}

// NewResult creates an empty result for the given source URL.
func NewResult(source string, method FetchMethod) *ProcessingResult {
	return &ProcessingResult{
		Source: source,
		Metadata: ResultMetadata{
			Method:   method,
			FinalURL: source,
		},
	}
}

// AddError appends a classified error to the result.
func (r *ProcessingResult) AddError(err *ScrapingError) {
	r.Errors = append(r.Errors, err)
}

// AddWarning appends a warning string to the result.
func (r *ProcessingResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// FirstError returns the first recorded error, or nil.
func (r *ProcessingResult) FirstError() *ScrapingError {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}
