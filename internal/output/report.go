package output

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Source is the part of the store a report is built from.
type Source interface {
	GetCrawl(ctx context.Context, id string) (*model.Crawl, error)
	ListPages(ctx context.Context, crawlID string) ([]*model.Page, error)
	ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error)
	ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error)
}

// Report is the audit of one crawl.
type Report struct {
	Crawl       *model.Crawl   `json:"crawl"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     Summary        `json:"summary"`
	Pages       []*model.Page  `json:"pages"`
	Issues      []*model.Issue `json:"issues"`
}

// Summary aggregates a crawl's pages and issues.
type Summary struct {
	PagesCrawled    int            `json:"pages_crawled"`
	PrimaryPages    int            `json:"primary_pages"`
	ErrorPages      int            `json:"error_pages"`
	RenderedPages   int            `json:"rendered_pages"`
	AverageSEOScore float64        `json:"average_seo_score"`
	TotalLinks      int            `json:"total_links"`
	InternalLinks   int            `json:"internal_links"`
	BrokenLinks     int            `json:"broken_links"`
	TotalIssues     int            `json:"total_issues"`
	BySeverity      map[string]int `json:"issues_by_severity"`
	ByType          map[string]int `json:"issues_by_type"`
}

// Build loads everything recorded for crawlID and assembles its report.
// Pages are ordered by navigation score, issues by severity.
func Build(ctx context.Context, src Source, crawlID string) (*Report, error) {
	crawl, err := src.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("load crawl: %w", err)
	}
	pages, err := src.ListPages(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	links, err := src.ListLinks(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	issues, err := src.ListIssues(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}

	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].NavScore != pages[j].NavScore {
			return pages[i].NavScore > pages[j].NavScore
		}
		return pages[i].Depth < pages[j].Depth
	})
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() < issues[j].Severity.Rank()
	})

	return &Report{
		Crawl:       crawl,
		GeneratedAt: time.Now().UTC(),
		Summary:     Summarize(pages, links, issues),
		Pages:       pages,
		Issues:      issues,
	}, nil
}

// Summarize computes the report summary.
func Summarize(pages []*model.Page, links []*model.Link, issues []*model.Issue) Summary {
	s := Summary{
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}

	scored, total := 0, 0
	for _, p := range pages {
		if p.IsError() {
			s.ErrorPages++
			continue
		}
		s.PagesCrawled++
		if p.IsPrimary {
			s.PrimaryPages++
		}
		if p.FetchMethod == model.FetchRendered {
			s.RenderedPages++
		}
		scored++
		total += p.SEOScore
	}
	if scored > 0 {
		s.AverageSEOScore = float64(total) / float64(scored)
	}

	s.TotalLinks = len(links)
	for _, l := range links {
		if !l.IsInternal {
			continue
		}
		s.InternalLinks++
		if l.StatusCode != nil && *l.StatusCode >= 400 {
			s.BrokenLinks++
		}
	}

	s.TotalIssues = len(issues)
	for _, is := range issues {
		s.BySeverity[string(is.Severity)]++
		s.ByType[is.Type]++
	}
	return s
}
