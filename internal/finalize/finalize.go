// Package finalize selects the primary pages of a finished crawl: the small
// set of top-level pages a site audit report leads with.
package finalize

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/navigation"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
)

// Selection limits.
const (
	MaxPrimary     = 15
	SmallSiteLimit = 6
)

// excludePatterns match the path plus query of pages that are never primary.
var excludePatterns = compile(
	// Legal, auth and commerce flows.
	`(?i)(privacy|terms|cookie|legal|login|signin|signup|register|logout|account|cart|checkout|password)`,
	// Blog, news and article details.
	`(?i)/blog/.+`, `(?i)/news/.+`, `(?i)/article`, `(?i)/post/`, `(?i)/posts/`,
	// Archives and taxonomies.
	`/\d{4}/\d{2}`, `(?i)/category/`, `(?i)/tags?/`, `(?i)/author/`, `(?i)/archive`,
	// Pagination and search.
	`(?i)/page/\d+`, `(?i)[?&]page=`, `(?i)/search`, `(?i)[?&](s|q)=`,
	// Static assets.
	`(?i)\.(pdf|jpe?g|png|gif|svg|webp|ico|css|js|xml|zip)(\?|$)`,
	`(?i)/(wp-content|assets|static)/`,
	// Deep locale content.
	`^/[a-z]{2}(-[a-z]{2})?/.+/.+`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Store is what the finalizer reads and writes.
type Store interface {
	ListPages(ctx context.Context, crawlID string) ([]*model.Page, error)
	SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error
}

// Finalizer marks primary pages.
type Finalizer struct {
	store Store
	log   *logger.Logger
}

// New creates a finalizer.
func New(store Store, log *logger.Logger) *Finalizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Finalizer{store: store, log: log.WithComponent("finalize")}
}

// Run selects the primary pages of a crawl and stores the selection. Every
// page not selected is marked non-primary, so running it twice is harmless.
func (f *Finalizer) Run(ctx context.Context, crawlID, target string) ([]*model.Page, error) {
	pages, err := f.store.ListPages(ctx, crawlID)
	if err != nil {
		return nil, err
	}

	primary := Select(target, pages)
	ids := make([]string, len(primary))
	for i, p := range primary {
		ids[i] = p.ID
	}
	if err := f.store.SetPrimary(ctx, crawlID, ids); err != nil {
		return nil, err
	}

	f.log.WithCrawl(crawlID).Infof("Marked %d of %d pages as primary", len(primary), len(pages))
	return primary, nil
}

// Select returns at most MaxPrimary pages of target's site, best first.
func Select(target string, pages []*model.Page) []*model.Page {
	host := siteHost(target)

	var eligible []*model.Page
	crawled := 0
	for _, p := range pages {
		if p.IsError() {
			continue
		}
		crawled++
		if siteHost(p.URL) != host {
			continue
		}
		eligible = append(eligible, p)
	}

	// The small-site rule counts every crawled page, external ones included.
	small := crawled <= SmallSiteLimit
	var candidates []*model.Page
	for _, p := range eligible {
		if Excluded(p.URL) {
			continue
		}
		if isHomepage(p.URL) || p.NavScore >= navigation.PrimaryThreshold || small {
			candidates = append(candidates, p)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ha, hb := isHomepage(a.URL), isHomepage(b.URL); ha != hb {
			return ha
		}
		if a.NavScore != b.NavScore {
			return a.NavScore > b.NavScore
		}
		if sa, sb := slashes(a.URL), slashes(b.URL); sa != sb {
			return sa < sb
		}
		return a.URL < b.URL
	})

	if len(candidates) > MaxPrimary {
		candidates = candidates[:MaxPrimary]
	}
	return candidates
}

// Excluded reports whether a page URL can never be primary.
func Excluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	subject := u.EscapedPath()
	if u.RawQuery != "" {
		subject += "?" + u.RawQuery
	}
	for _, re := range excludePatterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

func siteHost(rawURL string) string {
	host, _ := scope.Host(rawURL)
	return host
}

func isHomepage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

func slashes(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Count(rawURL, "/")
	}
	return strings.Count(strings.TrimSuffix(u.Path, "/"), "/")
}
