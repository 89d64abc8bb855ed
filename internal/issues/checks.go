package issues

import (
	"fmt"
	"strings"

	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/parser"
)

// Issue types for findings raised while a page is crawled.
const (
	TypeSEO        = "SEO"
	TypeTechnical  = "Technical"
	TypeCrawlError = "Crawl Error"
)

// LargePageKB is the page size above which a page gets a Technical finding.
const LargePageKB = 1000

// Finding is a page-level problem before it is bound to a stored page.
type Finding struct {
	Type     string
	Severity model.Severity
	Message  string
}

// PageChecks returns the on-page findings for one extracted page: title and
// meta description, heading structure and technical basics.
func PageChecks(ext *parser.Extraction) []Finding {
	var findings []Finding

	for _, msg := range metaIssues(ext.SEO) {
		sev := model.SeverityMedium
		if strings.Contains(msg, "Missing") {
			sev = model.SeverityHigh
		}
		findings = append(findings, Finding{TypeSEO, sev, msg})
	}

	for _, msg := range headingIssues(ext) {
		sev := model.SeverityMedium
		if msg == "Missing H1 tag" {
			sev = model.SeverityHigh
		}
		findings = append(findings, Finding{TypeSEO, sev, msg})
	}

	for _, msg := range technicalIssues(ext.Technical) {
		sev := model.SeverityMedium
		if strings.HasPrefix(msg, "Large page size") {
			sev = model.SeverityLow
		}
		findings = append(findings, Finding{TypeTechnical, sev, msg})
	}

	return findings
}

func metaIssues(seo parser.SEO) []string {
	var out []string

	switch {
	case seo.Title == "":
		out = append(out, "Missing title tag")
	case seo.TitleLength < 30:
		out = append(out, "Title too short (< 30 characters)")
	case seo.TitleLength > 60:
		out = append(out, "Title too long (> 60 characters)")
	}

	switch {
	case seo.MetaDescription == "":
		out = append(out, "Missing meta description")
	case seo.DescriptionLength < 120:
		out = append(out, "Meta description too short (< 120 characters)")
	case seo.DescriptionLength > 160:
		out = append(out, "Meta description too long (> 160 characters)")
	}

	return out
}

// headingIssues walks headings in level order and flags a missing or
// repeated H1 and every level jump of more than one.
func headingIssues(ext *parser.Extraction) []string {
	var out []string

	switch h1 := ext.Technical.H1Count; {
	case h1 == 0:
		out = append(out, "Missing H1 tag")
	case h1 > 1:
		out = append(out, fmt.Sprintf("Multiple H1 tags found (%d)", h1))
	}

	prev := 0
	for _, h := range ext.Content.Headings {
		if h.Level > prev+1 {
			out = append(out, fmt.Sprintf("Heading hierarchy skip: H%d to H%d", prev, h.Level))
		}
		prev = h.Level
	}

	return out
}

func technicalIssues(tech parser.Technical) []string {
	var out []string
	if !tech.HasViewport {
		out = append(out, "Missing viewport meta tag")
	}
	if !tech.HasLang {
		out = append(out, "Missing lang attribute on html tag")
	}
	if tech.PageSizeKB > LargePageKB {
		out = append(out, fmt.Sprintf("Large page size: %.1fKB", tech.PageSizeKB))
	}
	return out
}

// SEOScore rates a page's metadata from 0 to 100.
func SEOScore(meta *model.SEOMetadata) int {
	score := 100

	switch {
	case meta.Title == "":
		score -= 20
	case meta.TitleLength > 60:
		score -= 10
	case meta.TitleLength < 30:
		score -= 5
	}

	switch {
	case meta.MetaDescription == "":
		score -= 15
	case meta.MetaDescriptionLength > 160:
		score -= 5
	case meta.MetaDescriptionLength < 120:
		score -= 5
	}

	if meta.H1 == "" {
		score -= 15
	}

	score -= min(20, 2*meta.ImageAltMissingCount)

	return max(0, score)
}
