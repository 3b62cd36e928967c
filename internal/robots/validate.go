package robots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationReport is the outcome of a syntactic robots.txt check.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var sitemapURLPattern = regexp.MustCompile(`^https?://`)

// knownDirectives are the directives the parser understands.
var knownDirectives = map[string]bool{
	"user-agent":  true,
	"allow":       true,
	"disallow":    true,
	"crawl-delay": true,
	"sitemap":     true,
	"host":        true,
}

// ValidateRobotsTxt performs a static syntactic check of robots.txt content
// for operators. It does not touch the cache.
func ValidateRobotsTxt(content string) *ValidationReport {
	report := &ValidationReport{Valid: true}
	sawAgent := false

	for i, raw := range strings.Split(content, "\n") {
		lineNo := i + 1
		line := raw
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("line %d: malformed line %q", lineNo, line))
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if value == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("line %d: empty user-agent", lineNo))
			}
			sawAgent = true
		case "allow", "disallow":
			if !sawAgent {
				report.Errors = append(report.Errors,
					fmt.Sprintf("line %d: %s rule before any user-agent", lineNo, key))
			}
		case "crawl-delay":
			if !sawAgent {
				report.Errors = append(report.Errors,
					fmt.Sprintf("line %d: crawl-delay before any user-agent", lineNo))
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				report.Errors = append(report.Errors,
					fmt.Sprintf("line %d: non-numeric crawl-delay %q", lineNo, value))
			}
		case "sitemap":
			if !sitemapURLPattern.MatchString(value) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("line %d: sitemap URL %q is not absolute http(s)", lineNo, value))
			}
		case "host":
			// Accepted as-is.
		default:
			if !knownDirectives[key] {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("line %d: unknown directive %q", lineNo, key))
			}
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}
