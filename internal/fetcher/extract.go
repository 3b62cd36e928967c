package fetcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fairwaylabs/coursehound/internal/types"
)

// Selector cascades for course extraction. First match wins per field; the
// dynamic backend mirrors the same cascade inside the page context.
var (
	nameSelectors        = []string{"h1", ".course-name", ".page-title", "title"}
	descriptionSelectors = []string{".course-description", ".about-course", ".description"}
	architectSelectors   = []string{".architect", ".designer"}
	phoneSelectors       = []string{".phone", ".contact-phone"}
	heroSelectors        = []string{".hero img", ".banner img", ".main-image img"}
	gallerySelectors     = []string{".gallery img", ".photo-gallery img", ".course-photos img"}
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// extraction bundles everything pulled from one page.
type extraction struct {
	Data    *types.CourseBasicInfo
	Contact *types.ContactInfo
	Images  *types.CourseImages
}

// extractCourse runs the selector cascade over a parsed document. Relative
// image URLs are resolved against base (the response's final URL).
func extractCourse(doc *goquery.Document, base *url.URL, fallbackName string) *extraction {
	e := &extraction{
		Data:    &types.CourseBasicInfo{},
		Contact: &types.ContactInfo{},
		Images:  &types.CourseImages{},
	}

	e.Data.Name = firstText(doc, nameSelectors)
	if e.Data.Name == "" {
		e.Data.Name = fallbackName
	}

	e.Data.Description = firstText(doc, descriptionSelectors)
	if e.Data.Description == "" {
		if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			e.Data.Description = strings.TrimSpace(content)
		}
	}

	e.Data.Architect = firstText(doc, architectSelectors)

	if href, ok := doc.Find(`a[href^="tel:"]`).Attr("href"); ok {
		e.Contact.Phone = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
	}
	if e.Contact.Phone == "" {
		e.Contact.Phone = firstText(doc, phoneSelectors)
	}

	if href, ok := doc.Find(`a[href^="mailto:"]`).Attr("href"); ok {
		addr := strings.TrimPrefix(href, "mailto:")
		if idx := strings.Index(addr, "?"); idx >= 0 {
			addr = addr[:idx]
		}
		e.Contact.Email = strings.TrimSpace(addr)
	}
	if e.Contact.Email == "" {
		e.Contact.Email = emailPattern.FindString(doc.Find("body").Text())
	}

	e.Images.Hero = collectImages(doc, heroSelectors, base)
	e.Images.Gallery = collectImages(doc, gallerySelectors, base)

	return e
}

// firstText returns the trimmed text of the first selector that matches a
// non-empty element.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// collectImages gathers src and data-src URLs for the selectors, resolved
// against base and deduplicated in order.
func collectImages(doc *goquery.Document, selectors []string, base *url.URL) []string {
	var urls []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		resolved := resolveURL(base, raw)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	}

	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok {
				add(src)
			}
			if src, ok := s.Attr("data-src"); ok {
				add(src)
			}
		})
	}
	return urls
}

// resolveURL resolves a possibly-relative reference against base.
func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// confidenceMax is the raw ceiling before scaling to 0-100.
const confidenceMax = 70

// scoreConfidence applies the additive scoring: 10 points per populated
// field and per non-empty hero/gallery list, scaled to 0-100.
func scoreConfidence(e *extraction) int {
	score := 0
	if e.Data.Name != "" {
		score += 10
	}
	if e.Data.Description != "" {
		score += 10
	}
	if e.Data.Architect != "" {
		score += 10
	}
	if e.Contact.Phone != "" {
		score += 10
	}
	if e.Contact.Email != "" {
		score += 10
	}
	if len(e.Images.Hero) > 0 {
		score += 10
	}
	if len(e.Images.Gallery) > 0 {
		score += 10
	}
	return score * 100 / confidenceMax
}
