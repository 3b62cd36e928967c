package robots

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Directive is the parsed robots record evaluated for one user agent.
type Directive struct {
	// UserAgent is the agent this record was computed for.
	UserAgent  string        `json:"user_agent"`
	Allowed    []string      `json:"allowed,omitempty"`
	Disallowed []string      `json:"disallowed,omitempty"`
	CrawlDelay time.Duration `json:"crawl_delay,omitempty"`
	Sitemaps   []string      `json:"sitemaps,omitempty"`
	Host       string        `json:"host,omitempty"`
}

// Serialize renders the directive back to robots.txt syntax. The output
// parses back to an equal directive.
func (d *Directive) Serialize() string {
	var b strings.Builder
	agent := d.UserAgent
	if agent == "" {
		agent = "*"
	}
	fmt.Fprintf(&b, "User-agent: %s\n", agent)
	for _, p := range d.Allowed {
		fmt.Fprintf(&b, "Allow: %s\n", p)
	}
	for _, p := range d.Disallowed {
		fmt.Fprintf(&b, "Disallow: %s\n", p)
	}
	if d.CrawlDelay > 0 {
		fmt.Fprintf(&b, "Crawl-delay: %g\n", d.CrawlDelay.Seconds())
	}
	for _, s := range d.Sitemaps {
		fmt.Fprintf(&b, "Sitemap: %s\n", s)
	}
	if d.Host != "" {
		fmt.Fprintf(&b, "Host: %s\n", d.Host)
	}
	return b.String()
}

// agentGroup is one User-agent block (possibly covering several agents).
type agentGroup struct {
	agents     []string
	allow      []string
	disallow   []string
	crawlDelay time.Duration
}

// robotsFile is a fully parsed robots.txt.
type robotsFile struct {
	groups   []*agentGroup
	sitemaps []string
	host     string
}

// directiveFor computes the effective directive for an agent: the union of
// rules for "*", the configured bot name, and exact matches of the agent.
func (f *robotsFile) directiveFor(userAgent, botName string) *Directive {
	d := &Directive{
		UserAgent: userAgent,
		Sitemaps:  f.sitemaps,
		Host:      f.host,
	}
	if d.UserAgent == "" {
		d.UserAgent = "*"
	}

	for _, g := range f.groups {
		if !g.applies(userAgent, botName) {
			continue
		}
		d.Allowed = append(d.Allowed, g.allow...)
		d.Disallowed = append(d.Disallowed, g.disallow...)
		if g.crawlDelay > d.CrawlDelay {
			d.CrawlDelay = g.crawlDelay
		}
	}
	return d
}

// applies reports whether this group's User-agent lines cover the agent:
// "*", the configured bot name, or an exact match of the agent itself.
func (g *agentGroup) applies(userAgent, botName string) bool {
	ua := strings.ToLower(userAgent)
	bot := strings.ToLower(botName)
	for _, a := range g.agents {
		if a == "*" {
			return true
		}
		if bot != "" && a == bot {
			return true
		}
		if ua != "" && a == ua {
			return true
		}
	}
	return false
}

// parseRobotsTxt parses robots.txt content into grouped rules. Malformed
// lines are skipped; unknown directives are reported as warnings.
func parseRobotsTxt(content string) (*robotsFile, []string) {
	file := &robotsFile{}
	var warnings []string
	var current *agentGroup
	lastWasAgent := false

	for _, raw := range strings.Split(content, "\n") {
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
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if value == "" {
				continue
			}
			// Consecutive User-agent lines share one group.
			if current == nil || !lastWasAgent {
				current = &agentGroup{}
				file.groups = append(file.groups, current)
			}
			current.agents = append(current.agents, strings.ToLower(value))
			lastWasAgent = true
			continue
		case "allow":
			if current != nil && value != "" {
				current.allow = append(current.allow, value)
			}
		case "disallow":
			if current != nil && value != "" {
				current.disallow = append(current.disallow, value)
			}
		case "crawl-delay":
			if current != nil {
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
					current.crawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		case "sitemap":
			if value != "" {
				file.sitemaps = append(file.sitemaps, value)
			}
		case "host":
			file.host = value
		default:
			warnings = append(warnings, fmt.Sprintf("unknown directive %q", key))
		}
		lastWasAgent = false
	}

	return file, warnings
}
