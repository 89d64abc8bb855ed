// Package discovery finds crawl seeds outside the link graph: the sitemaps
// announced in robots.txt.
package discovery

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	ihttp "github.com/PentesterFlow/OpenAudit/internal/http"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
)

// DefaultMaxDepth bounds how many sitemap indexes deep discovery recurses.
const DefaultMaxDepth = 3

// Fetcher fetches a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*ihttp.Response, error)
}

// Gate is waited on before every fetch.
type Gate interface {
	Wait(ctx context.Context) error
}

// SitemapURL represents a URL entry in a sitemap.
type SitemapURL struct {
	Loc        string  `xml:"loc"`
	LastMod    string  `xml:"lastmod"`
	ChangeFreq string  `xml:"changefreq"`
	Priority   float64 `xml:"priority"`
}

// Sitemap represents a sitemap urlset.
type Sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []SitemapURL `xml:"url"`
}

// SitemapIndex represents a sitemap index file.
type SitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []SitemapEntry `xml:"sitemap"`
}

// SitemapEntry represents an entry in a sitemap index.
type SitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// SitemapParser discovers page URLs through robots.txt and sitemaps.
type SitemapParser struct {
	fetcher  Fetcher
	gate     Gate
	log      *logger.Logger
	maxDepth int
}

// NewSitemapParser creates a sitemap parser. gate may be nil.
func NewSitemapParser(fetcher Fetcher, gate Gate, log *logger.Logger) *SitemapParser {
	if log == nil {
		log = logger.Nop()
	}
	return &SitemapParser{
		fetcher:  fetcher,
		gate:     gate,
		log:      log.WithComponent("discovery"),
		maxDepth: DefaultMaxDepth,
	}
}

// SetMaxDepth changes the index recursion limit.
func (p *SitemapParser) SetMaxDepth(depth int) {
	p.maxDepth = depth
}

// Discover reads robots.txt for targetURL, follows every Sitemap: line and
// returns the crawlable page URLs found, in document order and without
// duplicates. Fetch and parse failures are logged and skipped; only context
// cancellation is returned.
func (p *SitemapParser) Discover(ctx context.Context, targetURL string) ([]string, error) {
	origin, err := scope.Origin(targetURL)
	if err != nil {
		return nil, err
	}

	sitemaps, err := p.robotsSitemaps(ctx, strings.TrimSuffix(origin, "/")+"/robots.txt")
	if err != nil {
		return nil, err
	}

	var urls []string
	seenPage := make(map[string]bool)
	seenMap := make(map[string]bool)
	for _, sitemapURL := range sitemaps {
		entries, err := p.parseSitemap(ctx, sitemapURL, 0, seenMap)
		if err != nil {
			return urls, err
		}
		for _, entry := range entries {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" || seenPage[loc] || !scope.IsCrawlable(loc) {
				continue
			}
			seenPage[loc] = true
			urls = append(urls, loc)
		}
		p.log.DiscoveryEvent("sitemap", sitemapURL, len(entries))
	}

	return urls, nil
}

// robotsSitemaps returns the Sitemap: URLs listed in robots.txt.
func (p *SitemapParser) robotsSitemaps(ctx context.Context, robotsURL string) ([]string, error) {
	body, err := p.fetch(ctx, robotsURL)
	if err != nil || body == nil {
		return nil, err
	}
	return ParseRobotsSitemaps(string(body), robotsURL), nil
}

// ParseRobotsSitemaps extracts sitemap URLs from robots.txt content.
// Relative locations are resolved against robotsURL.
func ParseRobotsSitemaps(content, robotsURL string) []string {
	base, _ := url.Parse(robotsURL)
	sitemaps := make([]string, 0)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[len("sitemap:"):])
		if loc == "" {
			continue
		}
		if base != nil {
			if ref, err := url.Parse(loc); err == nil {
				loc = base.ResolveReference(ref).String()
			}
		}
		sitemaps = append(sitemaps, loc)
	}

	return sitemaps
}

// parseSitemap fetches and parses a sitemap, recursing into indexes.
func (p *SitemapParser) parseSitemap(ctx context.Context, sitemapURL string, depth int, seen map[string]bool) ([]SitemapURL, error) {
	if depth > p.maxDepth || seen[sitemapURL] {
		return nil, nil
	}
	seen[sitemapURL] = true

	body, err := p.fetch(ctx, sitemapURL)
	if err != nil || body == nil {
		return nil, err
	}

	var index SitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		all := make([]SitemapURL, 0)
		for _, entry := range index.Sitemaps {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" {
				continue
			}
			urls, err := p.parseSitemap(ctx, loc, depth+1, seen)
			if err != nil {
				return all, err
			}
			all = append(all, urls...)
		}
		return all, nil
	}

	var sitemap Sitemap
	if err := xml.Unmarshal(body, &sitemap); err != nil {
		p.log.WithURL(sitemapURL).WithError(err).Debug("Unparseable sitemap")
		return nil, nil
	}
	return sitemap.URLs, nil
}

// fetch returns the body of a 200 response, nil for anything else. Only
// context errors are returned.
func (p *SitemapParser) fetch(ctx context.Context, target string) ([]byte, error) {
	if p.gate != nil {
		if err := p.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.WithURL(target).WithError(err).Debug("Discovery fetch failed")
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, nil
	}
	return resp.Body, nil
}
