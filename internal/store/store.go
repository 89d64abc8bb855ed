// Package store persists crawls and the records they produce. Adapters
// report a write that references a crawl (or page) that no longer exists as
// errors.ErrJobDeleted, which the crawl engine treats as a clean stop.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// ErrNotFound is returned when a crawl does not exist.
var ErrNotFound = errors.New("record not found")

// CrawlStore manages crawl jobs.
type CrawlStore interface {
	CreateCrawl(ctx context.Context, crawl *model.Crawl) error
	GetCrawl(ctx context.Context, id string) (*model.Crawl, error)
	CrawlExists(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, pagesCrawled, totalLinks int) error
	UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error
	ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error)
	DeleteCrawl(ctx context.Context, id string) error
}

// PageStore manages fetched pages and their SEO metadata.
type PageStore interface {
	InsertPage(ctx context.Context, page *model.Page) error
	UpdateImagesCount(ctx context.Context, pageID string, count int) error
	ListPages(ctx context.Context, crawlID string) ([]*model.Page, error)
	SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error
	InsertSEOMetadata(ctx context.Context, meta *model.SEOMetadata) error
	ListSEOMetadata(ctx context.Context, crawlID string) ([]*model.SEOMetadata, error)
}

// LinkStore manages links and images.
type LinkStore interface {
	InsertLinks(ctx context.Context, links []*model.Link) error
	ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error)
	InsertImages(ctx context.Context, images []*model.Image) error
	ListImages(ctx context.Context, crawlID string) ([]*model.Image, error)
}

// IssueStore manages audit findings.
type IssueStore interface {
	InsertIssues(ctx context.Context, issues []*model.Issue) error
	DeleteIssues(ctx context.Context, crawlID string) error
	ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error)
}

// Store is the full persistence surface used by the engine, the worker and
// the issue detector.
type Store interface {
	CrawlStore
	PageStore
	LinkStore
	IssueStore
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config selects and configures a store adapter.
type Config struct {
	Driver  string        `json:"driver" yaml:"driver"`
	DSN     string        `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Path    string        `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns an in-memory store configuration.
func DefaultConfig() Config {
	return Config{
		Driver:  DriverMemory,
		Path:    "./data/openaudit.db",
		Timeout: 5 * time.Second,
	}
}

// Validate checks that the driver has what it needs.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverBolt:
		if c.Path == "" {
			return fmt.Errorf("store path is required for the bolt driver")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("store dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	return nil
}

// Open creates the store described by config.
func Open(ctx context.Context, config Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Driver {
	case DriverBolt:
		return OpenBolt(config.Path, config.Timeout)
	case DriverPostgres:
		pg, err := OpenPostgres(ctx, config.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return NewMemory(), nil
	}
}

// deleted wraps ErrJobDeleted with the write that hit it.
func deleted(op, id string) error {
	return fmt.Errorf("%s %s: %w", op, id, errors.ErrJobDeleted)
}

func notFound(id string) error {
	return fmt.Errorf("crawl %s: %w", id, ErrNotFound)
}

// applyStatus updates the timestamps a status transition implies.
func applyStatus(c *model.Crawl, status model.Status, errMsg string, now time.Time) {
	c.Status = status
	c.Error = errMsg
	c.UpdatedAt = now
	if status == model.StatusRunning && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if status.Terminal() {
		c.CompletedAt = &now
	}
}

func containsStatus(statuses []model.Status, s model.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}
