package robots

import (
	"reflect"
	"testing"
	"time"
)

func TestParseRobotsTxtGroups(t *testing.T) {
	content := `# course sites often ship comments
User-agent: *
Disallow: /admin
Allow: /admin/public
Crawl-delay: 2.5

User-agent: coursehound
User-agent: otherbot
Disallow: /tee-times
Sitemap: https://example.com/sitemap.xml
Host: example.com
`
	file, warnings := parseRobotsTxt(content)
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(file.groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(file.groups))
	}

	wild := file.groups[0]
	if !reflect.DeepEqual(wild.agents, []string{"*"}) {
		t.Errorf("agents = %v", wild.agents)
	}
	if wild.crawlDelay != 2500*time.Millisecond {
		t.Errorf("crawl delay = %s, want 2.5s", wild.crawlDelay)
	}

	shared := file.groups[1]
	if !reflect.DeepEqual(shared.agents, []string{"coursehound", "otherbot"}) {
		t.Errorf("consecutive User-agent lines should share a group, got %v", shared.agents)
	}
	if !reflect.DeepEqual(shared.disallow, []string{"/tee-times"}) {
		t.Errorf("disallow = %v", shared.disallow)
	}

	if !reflect.DeepEqual(file.sitemaps, []string{"https://example.com/sitemap.xml"}) {
		t.Errorf("sitemaps = %v", file.sitemaps)
	}
	if file.host != "example.com" {
		t.Errorf("host = %q", file.host)
	}
}

func TestParseRobotsTxtUnknownDirective(t *testing.T) {
	_, warnings := parseRobotsTxt("User-agent: *\nRequest-rate: 1/5\n")
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestDirectiveForUnionsGroups(t *testing.T) {
	content := `User-agent: *
Disallow: /private
Crawl-delay: 1

User-agent: coursehound
Disallow: /tee-times
Crawl-delay: 4
`
	file, _ := parseRobotsTxt(content)
	d := file.directiveFor("coursehound", "coursehound")

	if len(d.Disallowed) != 2 {
		t.Errorf("disallowed = %v, want rules from both groups", d.Disallowed)
	}
	if d.CrawlDelay != 4*time.Second {
		t.Errorf("crawl delay = %s, want the larger 4s", d.CrawlDelay)
	}
}

func TestGroupAppliesExactMatchOnly(t *testing.T) {
	content := `User-agent: bot
Disallow: /secret
`
	file, _ := parseRobotsTxt(content)

	// "bot" is a substring of the agent but not an exact match, so the
	// group's rules must not apply.
	d := file.directiveFor("mybot/2.1", "coursehound")
	if len(d.Disallowed) != 0 {
		t.Errorf("disallowed = %v, substring agents must not match", d.Disallowed)
	}

	d = file.directiveFor("bot", "coursehound")
	if len(d.Disallowed) != 1 {
		t.Errorf("disallowed = %v, exact agent must match", d.Disallowed)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	original := &Directive{
		UserAgent:  "coursehound",
		Allowed:    []string{"/golf/public/"},
		Disallowed: []string{"/golf/", "/admin"},
		CrawlDelay: 3 * time.Second,
		Sitemaps:   []string{"https://example.com/sitemap.xml"},
		Host:       "example.com",
	}

	file, warnings := parseRobotsTxt(original.Serialize())
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	parsed := file.directiveFor("coursehound", "")

	if !reflect.DeepEqual(parsed, original) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, original)
	}
}

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		allow   []string
		block   []string
		allowed bool
	}{
		{"no rules", "/anything", nil, nil, true},
		{"blocked prefix", "/admin/users", nil, []string{"/admin"}, false},
		{"prefix catches sibling", "/admin2", nil, []string{"/admin"}, false},
		{"unrelated path", "/courses", nil, []string{"/admin"}, true},
		{"block all", "/any", nil, []string{"/"}, false},
		{"longer allow wins", "/golf/public/a", []string{"/golf/public/"}, []string{"/golf/"}, true},
		{"shorter allow loses", "/golf/x", []string{"/g"}, []string{"/golf/"}, false},
		{"trailing wildcard", "/api/v2/data", nil, []string{"/api/*"}, false},
		{"embedded wildcard", "/courses/123/print", nil, []string{"/courses/*/print"}, false},
		{"embedded wildcard non-match", "/courses/123/view", nil, []string{"/courses/*/print"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Directive{Allowed: tt.allow, Disallowed: tt.block}
			if got := isAllowed(tt.path, d); got != tt.allowed {
				t.Errorf("isAllowed(%q) = %v, want %v", tt.path, got, tt.allowed)
			}
		})
	}
}

func TestValidateRobotsTxt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		report := ValidateRobotsTxt("User-agent: *\nDisallow: /admin\nCrawl-delay: 2\n")
		if !report.Valid || len(report.Errors) != 0 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("rule before agent", func(t *testing.T) {
		report := ValidateRobotsTxt("Disallow: /admin\nUser-agent: *\n")
		if report.Valid || len(report.Errors) != 1 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("bad crawl delay", func(t *testing.T) {
		report := ValidateRobotsTxt("User-agent: *\nCrawl-delay: fast\n")
		if report.Valid {
			t.Error("non-numeric crawl-delay must be an error")
		}
	})

	t.Run("warnings only", func(t *testing.T) {
		report := ValidateRobotsTxt("User-agent: *\nnoise without colon here\nSitemap: /relative.xml\n")
		if !report.Valid {
			t.Errorf("warnings must not invalidate: %+v", report)
		}
		if len(report.Warnings) != 2 {
			t.Errorf("warnings = %v, want 2", report.Warnings)
		}
	})
}
