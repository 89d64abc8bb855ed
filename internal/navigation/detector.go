// Package navigation scores links by how likely they belong to a site's
// main navigation.
package navigation

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/OpenAudit/internal/scope"
)

// Score thresholds.
const (
	PrimaryThreshold   = 8
	SecondaryThreshold = 5
	primaryPageBonus   = 3
)

// Rule weights every <a> matched by Selector.
type Rule struct {
	Selector string
	Weight   int
}

// DefaultRules is applied in order; a link accumulates the weight of every
// rule that matches it.
var DefaultRules = []Rule{
	{`nav a`, 10},
	{`[role="navigation"] a`, 10},
	{`header a`, 8},
	{`.header a`, 8},
	{`.navbar a`, 9},
	{`.nav a`, 9},
	{`.menu a`, 8},
	{`.main-menu a`, 9},
	{`.main-nav a`, 9},
	{`.primary-nav a`, 9},
	{`.site-nav a`, 9},
	{`.top-nav a`, 8},
	{`.navigation a`, 8},
	{`.sidebar a`, 6},
	{`.side-nav a`, 6},
	{`aside nav a`, 6},
	{`footer a`, 5},
	{`.footer a`, 5},
	{`.breadcrumb a`, 7},
	{`.breadcrumbs a`, 7},
	{`[aria-label="breadcrumb"] a`, 7},
}

var excludePatterns = compileAll(
	`/tag/`,
	`/tags/`,
	`/category/`,
	`/author/`,
	`/page/\d+`,
	`/\d{4}/\d{2}/`,
	`\?`,
	`#`,
	`mailto:`,
	`tel:`,
	`javascript:`,
)

var primaryPagePatterns = compileAll(
	`^/$`,
	`^/about`,
	`^/contact`,
	`^/services`,
	`^/products`,
	`^/pricing`,
	`^/features`,
	`^/solutions`,
	`^/blog$`,
	`^/news$`,
	`^/team`,
	`^/careers`,
	`^/faq`,
	`^/help`,
	`^/support`,
	`^/docs$`,
	`^/documentation$`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Detection is the result of the structural pass over one page.
type Detection struct {
	PrimaryNav   []string
	SecondaryNav []string
	Scores       map[string]int
	Contexts     map[string][]string
}

// Score returns the structural score of rawURL, 0 when unseen.
func (d *Detection) Score(rawURL string) int {
	if d == nil {
		return 0
	}
	key, ok := Key(rawURL)
	if !ok {
		return 0
	}
	return d.Scores[key]
}

// IsPrimary reports whether rawURL is in PrimaryNav.
func (d *Detection) IsPrimary(rawURL string) bool {
	return d.Score(rawURL) >= PrimaryThreshold
}

// Analyze runs the structural pass over html fetched from baseURL.
func Analyze(html, baseURL string) (*Detection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	d := &Detection{
		Scores:   make(map[string]int),
		Contexts: make(map[string][]string),
	}

	for _, rule := range DefaultRules {
		doc.Find(rule.Selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			href = strings.TrimSpace(href)
			if href == "" || hasSkippedPrefix(href) {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref).String()
			if !scope.IsInternal(abs, baseURL) || excluded(abs) {
				return
			}
			key, ok := Key(abs)
			if !ok {
				return
			}
			d.Scores[key] += rule.Weight
			d.Contexts[key] = append(d.Contexts[key], rule.Selector)
		})
	}

	for key := range d.Scores {
		if IsPrimaryPagePath(pathOf(key)) {
			d.Scores[key] += primaryPageBonus
		}
	}

	keys := make([]string, 0, len(d.Scores))
	for k := range d.Scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if d.Scores[keys[i]] != d.Scores[keys[j]] {
			return d.Scores[keys[i]] > d.Scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		switch score := d.Scores[k]; {
		case score >= PrimaryThreshold:
			d.PrimaryNav = append(d.PrimaryNav, k)
		case score >= SecondaryThreshold:
			d.SecondaryNav = append(d.SecondaryNav, k)
		}
	}
	return d, nil
}

// Key maps a URL to its navigation key: normalized, without query, trailing
// slash trimmed except at the root.
func Key(rawURL string) (string, bool) {
	n, err := scope.Normalize(rawURL)
	if err != nil {
		return "", false
	}
	if i := strings.IndexByte(n, '?'); i >= 0 {
		n = n[:i]
	}
	return n, true
}

// IsPrimaryPagePath reports whether path looks like a main site page.
func IsPrimaryPagePath(path string) bool {
	for _, re := range primaryPagePatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func excluded(rawURL string) bool {
	for _, re := range excludePatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

func hasSkippedPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range []string{"#", "mailto:", "tel:", "javascript:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return strings.ToLower(u.Path)
}
