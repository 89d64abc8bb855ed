// Package crawler runs one site audit crawl: it schedules the frontier,
// fetches and renders pages, stores what it extracts and selects the
// primary pages once crawling stops.
package crawler

import (
	"context"
	"time"

	ihttp "github.com/PentesterFlow/OpenAudit/internal/http"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// StopReason says why the crawl loop ended.
type StopReason string

// Stop reasons.
const (
	ReasonFrontierEmpty   StopReason = "frontier_empty"
	ReasonMaxPages        StopReason = "max_pages"
	ReasonRuntimeExceeded StopReason = "runtime_exceeded"
	ReasonDeleted         StopReason = "deleted"
	ReasonStopped         StopReason = "stopped"
)

// Result summarizes a finished crawl.
type Result struct {
	CrawlID         string        `json:"crawl_id"`
	PagesCrawled    int           `json:"pages_crawled"`
	PagesFailed     int           `json:"pages_failed"`
	TotalLinks      int           `json:"total_links"`
	PrimaryPages    int           `json:"primary_pages"`
	ExternalDomains int           `json:"external_domains"`
	NavDetection    bool          `json:"nav_detection_available"`
	Deleted         bool          `json:"deleted"`
	Reason          StopReason    `json:"reason"`
	Duration        time.Duration `json:"duration"`
}

// Store is the persistence surface a crawl writes to. store.Store
// satisfies it.
type Store interface {
	CrawlExists(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, pagesCrawled, totalLinks int) error
	InsertPage(ctx context.Context, page *model.Page) error
	UpdateImagesCount(ctx context.Context, pageID string, count int) error
	ListPages(ctx context.Context, crawlID string) ([]*model.Page, error)
	SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error
	InsertSEOMetadata(ctx context.Context, meta *model.SEOMetadata) error
	InsertLinks(ctx context.Context, links []*model.Link) error
	InsertImages(ctx context.Context, images []*model.Image) error
	InsertIssues(ctx context.Context, issues []*model.Issue) error
}

// Fetcher fetches pages and checks link targets. *http.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*ihttp.Response, error)
	CheckStatus(ctx context.Context, url string) ihttp.StatusResult
}
