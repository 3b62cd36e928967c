package fetcher

import (
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

const coursePage = `<!DOCTYPE html>
<html>
<head>
  <title>Pine Hollow GC | Home</title>
  <meta name="description" content="Championship golf in the pines.">
</head>
<body>
  <h1>Pine Hollow Golf Club</h1>
  <div class="course-description">A classic parkland layout.</div>
  <span class="architect">Donald Ross</span>
  <a href="tel:+1-555-0100">Call us</a>
  <a href="mailto:info@pinehollow.example?subject=Tee%20Time">Email</a>
  <div class="hero"><img src="/img/hero.jpg"></div>
  <div class="gallery">
    <img src="/img/1.jpg">
    <img data-src="/img/2.jpg">
    <img src="/img/1.jpg">
  </div>
</body>
</html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestExtractCourse(t *testing.T) {
	base, _ := url.Parse("https://pinehollow.example/about")
	e := extractCourse(parseDoc(t, coursePage), base, "")

	if e.Data.Name != "Pine Hollow Golf Club" {
		t.Errorf("name = %q", e.Data.Name)
	}
	if e.Data.Description != "A classic parkland layout." {
		t.Errorf("description = %q", e.Data.Description)
	}
	if e.Data.Architect != "Donald Ross" {
		t.Errorf("architect = %q", e.Data.Architect)
	}
	if e.Contact.Phone != "+1-555-0100" {
		t.Errorf("phone = %q", e.Contact.Phone)
	}
	if e.Contact.Email != "info@pinehollow.example" {
		t.Errorf("email should drop the mailto query, got %q", e.Contact.Email)
	}
	if len(e.Images.Hero) != 1 || e.Images.Hero[0] != "https://pinehollow.example/img/hero.jpg" {
		t.Errorf("hero = %v", e.Images.Hero)
	}
	// Duplicate src is collapsed; data-src is collected.
	if len(e.Images.Gallery) != 2 {
		t.Errorf("gallery = %v, want 2 deduplicated URLs", e.Images.Gallery)
	}
}

func TestExtractCourseFallbacks(t *testing.T) {
	html := `<html><head><title>  Willow Creek  </title>
<meta name="description" content="Nine holes by the river."></head>
<body><p>Reach us at bookings@willow.example for tee times.</p></body></html>`
	e := extractCourse(parseDoc(t, html), nil, "")

	if e.Data.Name != "Willow Creek" {
		t.Errorf("title fallback failed: %q", e.Data.Name)
	}
	if e.Data.Description != "Nine holes by the river." {
		t.Errorf("meta description fallback failed: %q", e.Data.Description)
	}
	if e.Contact.Email != "bookings@willow.example" {
		t.Errorf("body text email fallback failed: %q", e.Contact.Email)
	}
}

func TestExtractCourseNameHint(t *testing.T) {
	e := extractCourse(parseDoc(t, "<html><body><p>nothing here</p></body></html>"), nil, "Hidden Valley")
	if e.Data.Name != "Hidden Valley" {
		t.Errorf("name = %q, want the caller's hint", e.Data.Name)
	}
}

func TestScoreConfidence(t *testing.T) {
	full := extractCourse(parseDoc(t, coursePage), nil, "")
	if got := scoreConfidence(full); got != 100 {
		t.Errorf("all seven signals should score 100, got %d", got)
	}

	empty := &extraction{
		Data:    full.Data,
		Contact: full.Contact,
		Images:  full.Images,
	}
	empty.Data.Description = ""
	empty.Data.Architect = ""
	empty.Contact.Phone = ""
	empty.Contact.Email = ""
	empty.Images.Hero = nil
	empty.Images.Gallery = nil
	// Name only: 10 of 70, scaled.
	if got := scoreConfidence(empty); got != 14 {
		t.Errorf("name-only score = %d, want 14", got)
	}
}
