package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Memory is an in-process Store. It enforces the same foreign keys as the
// relational schema: deleting a crawl cascades, and writes against a missing
// crawl or page fail with errors.ErrJobDeleted.
type Memory struct {
	mu     sync.RWMutex
	crawls map[string]*model.Crawl
	pages  map[string]*model.Page
	order  []string // page IDs in insertion order
	seo    []*model.SEOMetadata
	links  []*model.Link
	images []*model.Image
	issues []*model.Issue
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		crawls: make(map[string]*model.Crawl),
		pages:  make(map[string]*model.Page),
	}
}

// CreateCrawl stores a new crawl.
func (m *Memory) CreateCrawl(ctx context.Context, crawl *model.Crawl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *crawl
	m.crawls[crawl.ID] = &c
	return nil
}

// GetCrawl returns a copy of the crawl.
func (m *Memory) GetCrawl(ctx context.Context, id string) (*model.Crawl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crawls[id]
	if !ok {
		return nil, notFound(id)
	}
	out := *c
	return &out, nil
}

// CrawlExists reports whether the crawl is present.
func (m *Memory) CrawlExists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.crawls[id]
	return ok, nil
}

// UpdateProgress records crawl progress.
func (m *Memory) UpdateProgress(ctx context.Context, id string, pagesCrawled, totalLinks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.crawls[id]
	if !ok {
		return notFound(id)
	}
	c.PagesCrawled = pagesCrawled
	c.TotalLinks = totalLinks
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus moves the crawl to status.
func (m *Memory) UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.crawls[id]
	if !ok {
		return notFound(id)
	}
	applyStatus(c, status, errMsg, time.Now().UTC())
	return nil
}

// ListCrawlsByStatus returns crawls in any of statuses, oldest first. With no
// statuses every crawl is returned.
func (m *Memory) ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Crawl, 0)
	for _, c := range m.crawls {
		if containsStatus(statuses, c.Status) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteCrawl removes the crawl and everything that references it.
func (m *Memory) DeleteCrawl(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.crawls[id]; !ok {
		return notFound(id)
	}
	delete(m.crawls, id)

	order := m.order[:0]
	for _, pid := range m.order {
		if m.pages[pid].CrawlID == id {
			delete(m.pages, pid)
			continue
		}
		order = append(order, pid)
	}
	m.order = order

	m.seo = filterOut(m.seo, func(s *model.SEOMetadata) bool { return s.CrawlID == id })
	m.links = filterOut(m.links, func(l *model.Link) bool { return l.CrawlID == id })
	m.images = filterOut(m.images, func(i *model.Image) bool { return i.CrawlID == id })
	m.issues = filterOut(m.issues, func(i *model.Issue) bool { return i.CrawlID == id })
	return nil
}

// InsertPage stores a page.
func (m *Memory) InsertPage(ctx context.Context, page *model.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.crawls[page.CrawlID]; !ok {
		return deleted("insert page for crawl", page.CrawlID)
	}
	p := *page
	m.pages[p.ID] = &p
	m.order = append(m.order, p.ID)
	return nil
}

// UpdateImagesCount sets a page's image count.
func (m *Memory) UpdateImagesCount(ctx context.Context, pageID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return deleted("update page", pageID)
	}
	p.ImagesCount = count
	return nil
}

// ListPages returns a crawl's pages in insertion order.
func (m *Memory) ListPages(ctx context.Context, crawlID string) ([]*model.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Page, 0)
	for _, pid := range m.order {
		if p := m.pages[pid]; p.CrawlID == crawlID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SetPrimary marks primaryIDs primary and every other page of the crawl not
// primary.
func (m *Memory) SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.crawls[crawlID]; !ok {
		return deleted("set primary for crawl", crawlID)
	}
	primary := make(map[string]bool, len(primaryIDs))
	for _, id := range primaryIDs {
		primary[id] = true
	}
	for _, p := range m.pages {
		if p.CrawlID == crawlID {
			p.IsPrimary = primary[p.ID]
		}
	}
	return nil
}

// InsertSEOMetadata stores a page's SEO metadata.
func (m *Memory) InsertSEOMetadata(ctx context.Context, meta *model.SEOMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[meta.PageID]; !ok {
		return deleted("insert seo metadata for page", meta.PageID)
	}
	cp := *meta
	m.seo = append(m.seo, &cp)
	return nil
}

// ListSEOMetadata returns a crawl's SEO metadata.
func (m *Memory) ListSEOMetadata(ctx context.Context, crawlID string) ([]*model.SEOMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterCopy(m.seo, func(s *model.SEOMetadata) bool { return s.CrawlID == crawlID }), nil
}

// InsertLinks stores links. Either all are stored or none.
func (m *Memory) InsertLinks(ctx context.Context, links []*model.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		if _, ok := m.pages[l.SourcePageID]; !ok {
			return deleted("insert link for page", l.SourcePageID)
		}
	}
	for _, l := range links {
		cp := *l
		m.links = append(m.links, &cp)
	}
	return nil
}

// ListLinks returns a crawl's links.
func (m *Memory) ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterCopy(m.links, func(l *model.Link) bool { return l.CrawlID == crawlID }), nil
}

// InsertImages stores images. Either all are stored or none.
func (m *Memory) InsertImages(ctx context.Context, images []*model.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, img := range images {
		if _, ok := m.pages[img.PageID]; !ok {
			return deleted("insert image for page", img.PageID)
		}
	}
	for _, img := range images {
		cp := *img
		m.images = append(m.images, &cp)
	}
	return nil
}

// ListImages returns a crawl's images.
func (m *Memory) ListImages(ctx context.Context, crawlID string) ([]*model.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterCopy(m.images, func(i *model.Image) bool { return i.CrawlID == crawlID }), nil
}

// InsertIssues stores issues.
func (m *Memory) InsertIssues(ctx context.Context, issues []*model.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, is := range issues {
		if _, ok := m.crawls[is.CrawlID]; !ok {
			return deleted("insert issue for crawl", is.CrawlID)
		}
		if is.PageID != nil {
			if _, ok := m.pages[*is.PageID]; !ok {
				return deleted("insert issue for page", *is.PageID)
			}
		}
	}
	for _, is := range issues {
		cp := *is
		m.issues = append(m.issues, &cp)
	}
	return nil
}

// DeleteIssues removes every issue of a crawl.
func (m *Memory) DeleteIssues(ctx context.Context, crawlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = filterOut(m.issues, func(i *model.Issue) bool { return i.CrawlID == crawlID })
	return nil
}

// ListIssues returns a crawl's issues.
func (m *Memory) ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterCopy(m.issues, func(i *model.Issue) bool { return i.CrawlID == crawlID }), nil
}

// Close is a no-op for Memory.
func (m *Memory) Close() error {
	return nil
}

func filterOut[T any](items []*T, drop func(*T) bool) []*T {
	kept := items[:0]
	for _, it := range items {
		if !drop(it) {
			kept = append(kept, it)
		}
	}
	return kept
}

func filterCopy[T any](items []*T, keep func(*T) bool) []*T {
	out := make([]*T, 0)
	for _, it := range items {
		if keep(it) {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out
}
