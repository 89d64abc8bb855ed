package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/discovery"
	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/finalize"
	ihttp "github.com/PentesterFlow/OpenAudit/internal/http"
	"github.com/PentesterFlow/OpenAudit/internal/issues"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/metrics"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/navigation"
	"github.com/PentesterFlow/OpenAudit/internal/parser"
	"github.com/PentesterFlow/OpenAudit/internal/progress"
	"github.com/PentesterFlow/OpenAudit/internal/queue"
	"github.com/PentesterFlow/OpenAudit/internal/ratelimit"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
	"github.com/PentesterFlow/OpenAudit/internal/snapshot"
	"github.com/PentesterFlow/OpenAudit/internal/state"
	"github.com/PentesterFlow/OpenAudit/internal/store"
)

// errorTextLimit caps the failure text kept on error pages and issues.
const errorTextLimit = 500

// Crawler runs a single crawl. It is not safe to Start twice.
type Crawler struct {
	config     *Config
	crawl      *model.Crawl
	store      Store
	fetcher    Fetcher
	renderer   browser.Renderer
	snapshots  *snapshot.Store
	blacklist  *scope.Blacklist
	log        *logger.Logger
	metrics    *metrics.Collector
	display    *progress.Display
	onProgress func(model.Progress)
	finalizer  *finalize.Finalizer

	// Owned by the crawl loop.
	frontier    *queue.Frontier
	visited     *state.Visited
	content     *state.ContentIndex
	checker     *scope.Checker
	scorer      *navigation.Scorer
	limiter     *ratelimit.Limiter
	statusCache map[string]ihttp.StatusResult
	homepage    *ihttp.Response
	homeKey     string

	mu           sync.RWMutex
	started      atomic.Bool
	running      atomic.Bool
	cancel       context.CancelCauseFunc
	status       model.Status
	startTime    time.Time
	pagesCrawled int
	pagesFailed  int
	totalLinks   int
	currentURL   string
}

// New creates a crawler for crawl, persisting into st.
func New(crawl *model.Crawl, st Store, opts ...Option) (*Crawler, error) {
	if crawl == nil {
		return nil, fmt.Errorf("crawl is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}

	c := &Crawler{
		config: DefaultConfig(),
		crawl:  crawl,
		store:  st,
		status: model.StatusQueued,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := crawl.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.log == nil {
		level, err := logger.ParseLevel(c.config.Log.Level)
		if err != nil {
			level = logger.InfoLevel
		}
		c.log = logger.New(logger.Config{
			Level:  level,
			Pretty: c.config.Log.Pretty,
		})
	}
	c.log = c.log.WithComponent("crawler").WithCrawl(crawl.ID)

	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	if c.fetcher == nil {
		cc := ihttp.DefaultClientConfig()
		cc.Timeout = c.config.HTTP.Timeout
		if c.config.HTTP.StatusTimeout > 0 {
			cc.StatusTimeout = c.config.HTTP.StatusTimeout
		}
		if c.config.HTTP.MaxBodyBytes > 0 {
			cc.MaxBodyBytes = c.config.HTTP.MaxBodyBytes
		}
		cc.UserAgent = crawl.Policy.UserAgent
		cc.Headers = c.config.HTTP.Headers
		cc.SkipTLSVerify = c.config.HTTP.SkipTLSVerify
		c.fetcher = ihttp.NewClient(cc)
	}

	if c.renderer != nil {
		breaker := c.config.Browser.Breaker
		if breaker == (errors.CircuitBreakerConfig{}) {
			breaker = errors.DefaultCircuitBreakerConfig()
		}
		c.renderer = browser.NewGuard(c.renderer, breaker, c.log)
	}

	if c.blacklist == nil {
		c.blacklist = scope.NewBlacklist(c.config.Blacklist.Custom...)
	}

	if c.snapshots == nil && c.config.Snapshots.Enabled {
		c.snapshots = snapshot.NewStore(c.config.Snapshots.Dir)
	}

	c.finalizer = finalize.New(st, c.log)

	return c, nil
}

// initialize builds the per-run crawl state.
func (c *Crawler) initialize() error {
	policy := c.crawl.Policy

	checker, err := scope.NewChecker(c.crawl.URL, policy, c.blacklist)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}

	c.checker = checker
	c.frontier = queue.NewFrontier()
	c.visited = state.NewVisited(max(policy.MaxPages*20, 1000))
	c.content = state.NewContentIndex()
	c.limiter = ratelimit.NewLimiter(policy.RateLimitRPS)
	c.statusCache = make(map[string]ihttp.StatusResult)
	c.scorer = navigation.NewScorer(nil)
	return nil
}

// Start runs the crawl to completion or until it is stopped, deleted or
// runs out of time. A deleted crawl ends without error and skips the
// primary page selection.
func (c *Crawler) Start(ctx context.Context) (*Result, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawl %s has already been started", c.crawl.ID)
	}
	if err := c.initialize(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, c.crawl.Policy.Runtime(), errors.ErrRuntimeExceeded)
	defer cancelTimeout()

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.status = model.StatusRunning
	c.mu.Unlock()
	c.running.Store(true)
	defer c.running.Store(false)

	if c.display != nil {
		c.display.Start(c.crawl.URL)
		defer c.display.Stop()
	}

	c.log.Infof("Starting crawl of %s (max pages %d, max depth %d)",
		c.crawl.URL, c.crawl.Policy.MaxPages, c.crawl.Policy.MaxDepthInternal)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchLiveness(ctx, cancel)
	}()

	c.analyzeStructure(ctx)

	seed := &queue.QueueItem{
		URL:          c.crawl.URL,
		Depth:        0,
		NavScore:     max(c.scorer.Score(c.crawl.URL, 0), navigation.SeedMinScore),
		IsNavigation: true,
	}
	if err := c.frontier.Push(seed); err != nil {
		return nil, err
	}

	if c.crawl.Policy.RespectRobots {
		c.seedSitemaps(ctx)
	}

	reason := c.run(ctx)
	c.frontier.Close()

	result := &Result{
		CrawlID:         c.crawl.ID,
		Reason:          reason,
		Deleted:         reason == ReasonDeleted,
		NavDetection:    c.scorer.Available(),
		ExternalDomains: c.checker.ExternalDomains(),
	}

	if !result.Deleted {
		// Selection must run even when the loop context was cancelled.
		primary, err := c.finalizer.Run(context.WithoutCancel(ctx), c.crawl.ID, c.crawl.URL)
		switch {
		case errors.IsDeleted(err) || errors.Is(err, store.ErrNotFound):
			result.Deleted = true
			result.Reason = ReasonDeleted
		case err != nil:
			c.log.WithError(err).Warn("Primary page selection failed")
		default:
			result.PrimaryPages = len(primary)
		}
	}

	c.mu.Lock()
	switch result.Reason {
	case ReasonStopped, ReasonDeleted:
		c.status = model.StatusStopped
	default:
		c.status = model.StatusCompleted
	}
	result.PagesCrawled = c.pagesCrawled
	result.PagesFailed = c.pagesFailed
	result.TotalLinks = c.totalLinks
	result.Duration = time.Since(c.startTime)
	c.mu.Unlock()

	c.log.StatsEvent(map[string]interface{}{
		"reason":          string(result.Reason),
		"pages_crawled":   result.PagesCrawled,
		"pages_failed":    result.PagesFailed,
		"total_links":     result.TotalLinks,
		"primary_pages":   result.PrimaryPages,
		"duplicates":      c.content.Duplicates(),
		"duration_ms":     result.Duration.Milliseconds(),
		"nav_available":   result.NavDetection,
		"external_domain": result.ExternalDomains,
	})

	return result, nil
}

// Stop ends a running crawl after the URL in flight. Pages already stored
// are kept and primary pages are still selected.
func (c *Crawler) Stop() error {
	if !c.running.Load() {
		return fmt.Errorf("crawl %s is not running", c.crawl.ID)
	}
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	cancel(errors.ErrStopped)
	return nil
}

// IsRunning reports whether the crawl loop is active.
func (c *Crawler) IsRunning() bool {
	return c.running.Load()
}

// Metrics returns the metrics collector.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// Progress returns a snapshot of the crawl's progress.
func (c *Crawler) Progress() model.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := model.Progress{
		CrawlID:      c.crawl.ID,
		Status:       string(c.status),
		PagesCrawled: c.pagesCrawled,
		TotalPages:   c.crawl.Policy.MaxPages,
		CurrentURL:   c.currentURL,
	}
	if !c.startTime.IsZero() {
		p.Elapsed = time.Since(c.startTime)
	}
	if p.TotalPages > 0 {
		p.Percentage = min(100, float64(p.PagesCrawled)/float64(p.TotalPages)*100)
	}
	if p.Percentage > 0 {
		p.EstimatedRemaining = time.Duration(float64(p.Elapsed) / p.Percentage * (100 - p.Percentage))
	}
	return p
}

// watchLiveness cancels the crawl once its record disappears from the store.
func (c *Crawler) watchLiveness(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(c.config.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exists, err := c.store.CrawlExists(ctx, c.crawl.ID)
			if err != nil {
				if ctx.Err() == nil {
					c.log.WithError(err).Warn("Liveness check failed")
				}
				continue
			}
			if !exists {
				c.log.Warn("Crawl record is gone, stopping")
				cancel(errors.ErrJobDeleted)
				return
			}
		}
	}
}

// analyzeStructure runs the navigation pass against the site root. When it
// fails the scorer stays in pattern-only mode.
func (c *Crawler) analyzeStructure(ctx context.Context) {
	origin, err := scope.Origin(c.crawl.URL)
	if err != nil {
		c.log.WithError(err).Warn("Navigation detection unavailable, scoring by URL pattern")
		return
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}

	resp, err := c.fetcher.Fetch(ctx, origin)
	if err != nil {
		c.log.WithError(err).Warn("Navigation detection unavailable, scoring by URL pattern")
		return
	}
	c.metrics.RecordFetch(string(model.FetchHTTP), resp.Duration)
	c.metrics.RecordBytes(int64(len(resp.Body)))
	if resp.StatusCode >= 400 || !resp.IsHTML() {
		c.log.Warnf("Navigation detection unavailable: homepage returned %d %s", resp.StatusCode, resp.ContentType)
		return
	}

	detection, err := navigation.Analyze(string(resp.Body), resp.FinalURL)
	if err != nil {
		c.log.WithError(err).Warn("Navigation detection unavailable, scoring by URL pattern")
		return
	}

	c.scorer = navigation.NewScorer(detection)
	c.homepage = resp
	c.homeKey, _ = scope.Normalize(origin)
	c.log.Debugf("Navigation detected: %d primary links", len(detection.PrimaryNav))
}

// seedSitemaps enqueues the internal URLs listed by robots.txt sitemaps.
func (c *Crawler) seedSitemaps(ctx context.Context) {
	sitemaps := discovery.NewSitemapParser(c.fetcher, c.limiter, c.log)
	urls, err := sitemaps.Discover(ctx, c.crawl.URL)
	if err != nil {
		c.log.WithError(err).Debug("Sitemap discovery failed")
		return
	}

	var items []*queue.QueueItem
	for _, u := range urls {
		if len(items) >= c.crawl.Policy.MaxPages {
			break
		}
		if !scope.IsCrawlable(u) || !c.checker.IsInternal(u) {
			continue
		}
		items = append(items, &queue.QueueItem{URL: u, Depth: 0, NavScore: 0})
	}
	if len(items) == 0 {
		return
	}
	if err := c.frontier.PushBack(items...); err != nil {
		return
	}
	c.log.DiscoveryEvent("sitemap", c.crawl.URL, len(items))
}

// run is the crawl loop.
func (c *Crawler) run(ctx context.Context) StopReason {
	for {
		if c.crawled() >= c.crawl.Policy.MaxPages {
			c.log.PolicyEvent("max_pages", c.crawl.URL, errors.ErrBudgetExhausted.Error())
			return ReasonMaxPages
		}
		if ctx.Err() != nil {
			return stopReason(ctx)
		}

		item, err := c.frontier.Pop()
		if err != nil {
			return ReasonFrontierEmpty
		}
		c.metrics.SetQueueDepth(c.frontier.Len())

		key, err := scope.Normalize(item.URL)
		if err != nil {
			c.log.PolicyEvent("normalize", item.URL, err.Error())
			continue
		}
		if !c.visited.Add(key) {
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return stopReason(ctx)
		}
		c.setCurrent(item.URL)

		if err := c.process(ctx, item, key); err != nil {
			if errors.IsDeleted(err) {
				return ReasonDeleted
			}
			if ctx.Err() != nil {
				return stopReason(ctx)
			}
			if err := c.recordFailure(ctx, item, err); err != nil {
				if errors.IsDeleted(err) {
					return ReasonDeleted
				}
				c.log.WithError(err).Warn("Failed to record crawl error")
			}
		}

		c.mu.RLock()
		pages, links := c.pagesCrawled, c.totalLinks
		c.mu.RUnlock()
		if err := c.store.UpdateProgress(ctx, c.crawl.ID, pages, links); err != nil {
			if errors.IsDeleted(err) || errors.Is(err, store.ErrNotFound) {
				return ReasonDeleted
			}
			if ctx.Err() != nil {
				return stopReason(ctx)
			}
			c.log.WithError(err).Warn("Failed to update crawl progress")
		}
		c.reportProgress()
	}
}

// stopReason maps the loop context's cancellation cause to a stop reason.
func stopReason(ctx context.Context) StopReason {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errors.ErrJobDeleted):
		return ReasonDeleted
	case errors.Is(cause, errors.ErrRuntimeExceeded):
		return ReasonRuntimeExceeded
	default:
		return ReasonStopped
	}
}

// process fetches one URL and persists everything extracted from it.
func (c *Crawler) process(ctx context.Context, item *queue.QueueItem, key string) error {
	resp, err := c.fetch(ctx, item.URL, key)
	if err != nil {
		return err
	}

	if !resp.IsHTML() {
		return c.storeResource(ctx, item, resp)
	}

	html := string(resp.Body)
	method := model.FetchHTTP
	var renderMS int64
	if c.renderer != nil && (c.crawl.Policy.JSRendering || ihttp.NeedsRendering(resp.Body, resp.ContentType)) {
		rendered, elapsed, err := c.renderer.Render(ctx, resp.FinalURL, c.config.Browser.Timeout)
		switch {
		case err == nil:
			html = rendered
			method = model.FetchRendered
			renderMS = elapsed.Milliseconds()
			c.metrics.RecordFetch(string(model.FetchRendered), elapsed)
		case ctx.Err() != nil:
			return errors.NewCancelledError(item.URL, "render")
		case errors.Is(err, errors.ErrCircuitOpen):
			// The renderer is cooling down; keep the HTTP body.
			c.metrics.RecordRenderFallback()
			c.log.WithURL(item.URL).Debug("Render circuit open, using HTTP body")
		default:
			return err
		}
	}

	ext, err := parser.Extract(html, resp.FinalURL)
	if err != nil {
		return errors.NewParseError(item.URL, "extract", err)
	}

	hash := state.ContentHash([]byte(html))
	if original, dup := c.content.Record(hash, item.URL); dup {
		c.log.WithURL(item.URL).Debugf("Duplicate content of %s", original)
	}

	var snapshotPath string
	if c.snapshots != nil {
		path, err := c.snapshots.Store(c.crawl.ID, item.URL, html)
		if err != nil {
			c.log.WithURL(item.URL).WithError(err).Warn("Failed to store snapshot")
		}
		snapshotPath = path
	}

	page, err := model.NewPage(model.Page{
		CrawlID:         c.crawl.ID,
		URL:             item.URL,
		FinalURL:        resp.FinalURL,
		StatusCode:      resp.StatusCode,
		ContentType:     resp.ContentType,
		FetchMethod:     method,
		RenderMS:        renderMS,
		ContentHash:     hash,
		WordCount:       ext.Content.WordCount,
		SizeBytes:       len(html),
		NavScore:        item.NavScore,
		Depth:           item.Depth,
		Title:           ext.SEO.Title,
		MetaDescription: ext.SEO.MetaDescription,
		H1:              ext.HeadingTexts(1),
		H2:              ext.HeadingTexts(2),
		TextExcerpt:     parser.Excerpt(ext.Content.Text, model.ExcerptLimit),
		InternalLinks:   ext.Technical.InternalLinks,
		ExternalLinks:   ext.Technical.ExternalLinks,
		SnapshotPath:    snapshotPath,
	})
	if err != nil {
		return err
	}

	meta := model.SEOMetadata{
		CrawlID:              c.crawl.ID,
		PageID:               page.ID,
		Title:                ext.SEO.Title,
		MetaDescription:      ext.SEO.MetaDescription,
		H1:                   ext.H1(),
		H2:                   ext.HeadingTexts(2),
		RobotsMeta:           ext.SEO.Robots,
		Canonical:            ext.SEO.Canonical,
		Hreflang:             ext.SEO.Hreflang,
		OGTags:               ext.SEO.OGTags,
		TwitterTags:          ext.SEO.TwitterTags,
		JSONLD:               ext.FirstJSONLD(),
		ImageAltMissingCount: ext.Technical.ImagesWithoutAlt,
		InternalLinks:        ext.Technical.InternalLinks,
		ExternalLinks:        ext.Technical.ExternalLinks,
	}
	seo, err := model.NewSEOMetadata(meta)
	if err != nil {
		return err
	}
	page.SEOScore = issues.SEOScore(seo)

	if err := c.store.InsertPage(ctx, page); err != nil {
		return err
	}
	c.countPage()

	c.log.PageEvent(logger.DebugLevel, item.URL, item.Depth, item.NavScore).
		Int("status", resp.StatusCode).
		Str("method", string(method)).
		Int("words", page.WordCount).
		Msg("Page crawled")

	return c.storeChildren(ctx, item, page, seo, resp.StatusCode, ext)
}

// storeChildren writes the records of an already stored page. The page is
// counted at this point, so only deletion and cancellation are returned;
// other write failures are logged and the crawl moves on.
func (c *Crawler) storeChildren(ctx context.Context, item *queue.QueueItem, page *model.Page, seo *model.SEOMetadata, status int, ext *parser.Extraction) error {
	type step struct {
		name string
		run  func() error
	}
	steps := []step{
		{"seo metadata", func() error { return c.store.InsertSEOMetadata(ctx, seo) }},
	}
	if status == 200 {
		steps = append(steps,
			step{"page issues", func() error { return c.storePageIssues(ctx, page, ext) }},
			step{"links", func() error { return c.processLinks(ctx, item, page, ext.Links) }},
			step{"images", func() error { return c.storeImages(ctx, page, ext.Images) }},
		)
	}

	for _, st := range steps {
		err := st.run()
		if err == nil {
			continue
		}
		if errors.IsDeleted(err) || ctx.Err() != nil {
			return err
		}
		c.metrics.RecordError(errors.KindOf(err).String())
		c.log.WithURL(item.URL).WithError(err).Warnf("Failed to store %s", st.name)
	}
	return nil
}

// fetch returns the response for url, reusing the structural pass
// response for the homepage.
func (c *Crawler) fetch(ctx context.Context, url, key string) (*ihttp.Response, error) {
	if c.homepage != nil && key == c.homeKey {
		resp := c.homepage
		c.homepage = nil
		c.metrics.RecordStatusCode(resp.StatusCode)
		return resp, nil
	}

	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordFetch(string(model.FetchHTTP), resp.Duration)
	c.metrics.RecordStatusCode(resp.StatusCode)
	c.metrics.RecordBytes(int64(len(resp.Body)))
	c.log.RequestEvent("GET", url, resp.StatusCode, resp.Duration)
	return resp, nil
}

// storeResource records a non-HTML response as a page without extraction.
func (c *Crawler) storeResource(ctx context.Context, item *queue.QueueItem, resp *ihttp.Response) error {
	title, size := ihttp.SyntheticPage(resp)
	page, err := model.NewPage(model.Page{
		CrawlID:     c.crawl.ID,
		URL:         item.URL,
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		ContentHash: state.ContentHash(resp.Body),
		SizeBytes:   size,
		NavScore:    item.NavScore,
		Depth:       item.Depth,
		Title:       title,
	})
	if err != nil {
		return err
	}
	if err := c.store.InsertPage(ctx, page); err != nil {
		return err
	}
	c.countPage()
	c.log.PageEvent(logger.DebugLevel, item.URL, item.Depth, item.NavScore).
		Str("content_type", resp.ContentType).
		Msg("Resource recorded")
	return nil
}

// storePageIssues persists the on-page findings for page.
func (c *Crawler) storePageIssues(ctx context.Context, page *model.Page, ext *parser.Extraction) error {
	findings := issues.PageChecks(ext)
	if len(findings) == 0 {
		return nil
	}

	records := make([]*model.Issue, 0, len(findings))
	for _, f := range findings {
		issue, err := model.NewIssue(model.Issue{
			CrawlID:  c.crawl.ID,
			PageID:   model.StringPtr(page.ID),
			Type:     f.Type,
			Severity: f.Severity,
			Message:  f.Message,
			Pointer:  page.URL,
		})
		if err != nil {
			return err
		}
		records = append(records, issue)
	}
	return c.store.InsertIssues(ctx, records)
}

// processLinks classifies the links of a page, enqueues the followed ones
// and status checks internal links that are not followed.
func (c *Crawler) processLinks(ctx context.Context, item *queue.QueueItem, page *model.Page, links []parser.Link) error {
	childDepth := item.Depth + 1
	records := make([]*model.Link, 0, len(links))
	var front, back []*queue.QueueItem

	for _, l := range links {
		key, err := scope.Normalize(l.URL)
		if err != nil {
			continue
		}

		decision := c.checker.Decide(l.URL, childDepth)
		score := c.scorer.Score(l.URL, childDepth)
		isNav := c.scorer.IsNavigation(l.URL, score)

		link := model.Link{
			CrawlID:      c.crawl.ID,
			SourcePageID: page.ID,
			TargetURL:    l.URL,
			IsInternal:   decision.Internal,
			Depth:        childDepth,
			NavScore:     score,
			IsNavigation: isNav,
			AnchorText:   l.Text,
			IsNofollow:   l.NoFollow,
		}

		switch {
		case decision.Follow:
			if c.visited.Has(key) {
				break
			}
			next := &queue.QueueItem{
				URL:          l.URL,
				Depth:        childDepth,
				NavScore:     score,
				IsNavigation: isNav,
				SourceURL:    item.URL,
			}
			if isNav {
				front = append(front, next)
			} else {
				back = append(back, next)
			}
		default:
			reason := decision.Reason
			if decision.Detail != "" {
				reason += ": " + decision.Detail
			}
			c.log.PolicyEvent(decision.Reason, l.URL, reason)
			c.metrics.RecordLinkSkipped(decision.Reason)

			if decision.Internal {
				status, ok := c.checkStatus(ctx, key, l.URL)
				if ok {
					if status.StatusCode > 0 {
						link.StatusCode = model.IntPtr(status.StatusCode)
					}
					link.LatencyMS = status.LatencyMS
					link.Error = status.Error
				}
			}
		}

		record, err := model.NewLink(link)
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	// Navigation links go ahead of everything queued so far, in page order.
	if err := c.frontier.PushFront(front...); err == nil {
		for range front {
			c.metrics.RecordPageDiscovered()
		}
	}
	if err := c.frontier.PushBack(back...); err == nil {
		for range back {
			c.metrics.RecordPageDiscovered()
		}
	}

	if len(records) == 0 {
		return nil
	}
	if err := c.store.InsertLinks(ctx, records); err != nil {
		return err
	}

	c.mu.Lock()
	c.totalLinks += len(records)
	c.mu.Unlock()
	return nil
}

// checkStatus probes target once per crawl. It returns false when the rate
// gate was interrupted.
func (c *Crawler) checkStatus(ctx context.Context, key, target string) (ihttp.StatusResult, bool) {
	if cached, ok := c.statusCache[key]; ok {
		return cached, true
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return ihttp.StatusResult{}, false
	}

	result := c.fetcher.CheckStatus(ctx, target)
	c.metrics.RecordStatusCheck()
	c.statusCache[key] = result
	return result, true
}

// storeImages persists the images of page and updates its image count.
func (c *Crawler) storeImages(ctx context.Context, page *model.Page, images []parser.Image) error {
	if len(images) == 0 {
		return nil
	}

	records := make([]*model.Image, 0, len(images))
	for _, img := range images {
		record, err := model.NewImage(model.Image{
			CrawlID: c.crawl.ID,
			PageID:  page.ID,
			Src:     img.Src,
			Alt:     img.Alt,
			Title:   img.Title,
			HasAlt:  img.HasAlt,
			Width:   img.Width,
			Height:  img.Height,
		})
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	if err := c.store.InsertImages(ctx, records); err != nil {
		return err
	}
	page.ImagesCount = len(records)
	return c.store.UpdateImagesCount(ctx, page.ID, len(records))
}

// recordFailure stores an error page and a Crawl Error issue for a URL that
// could not be crawled.
func (c *Crawler) recordFailure(ctx context.Context, item *queue.QueueItem, cause error) error {
	msg := errors.Truncate(cause.Error(), errorTextLimit)
	c.metrics.RecordError(errors.KindOf(cause).String())
	c.log.ErrorEvent(cause, item.URL, "crawl")

	c.mu.Lock()
	c.pagesFailed++
	c.mu.Unlock()

	title := item.URL
	if len(title) > 50 {
		title = title[:50]
	}
	page, err := model.NewPage(model.Page{
		CrawlID:     c.crawl.ID,
		URL:         item.URL,
		StatusCode:  0,
		ContentType: model.ContentTypeError,
		NavScore:    item.NavScore,
		Depth:       item.Depth,
		Title:       "Error crawling " + title,
		TextExcerpt: "Error: " + msg,
		Error:       msg,
	})
	if err != nil {
		return err
	}
	if err := c.store.InsertPage(ctx, page); err != nil {
		return err
	}

	issue, err := model.NewIssue(model.Issue{
		CrawlID:  c.crawl.ID,
		PageID:   model.StringPtr(page.ID),
		Type:     issues.TypeCrawlError,
		Severity: model.SeverityHigh,
		Message:  "Failed to crawl URL: " + msg,
		Pointer:  item.URL,
	})
	if err != nil {
		return err
	}
	return c.store.InsertIssues(ctx, []*model.Issue{issue})
}

func (c *Crawler) countPage() {
	c.mu.Lock()
	c.pagesCrawled++
	c.mu.Unlock()
	c.metrics.RecordPageCrawled()
}

func (c *Crawler) crawled() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pagesCrawled
}

func (c *Crawler) setCurrent(url string) {
	c.mu.Lock()
	c.currentURL = url
	c.mu.Unlock()
}

func (c *Crawler) reportProgress() {
	if c.onProgress == nil && c.display == nil {
		return
	}
	p := c.Progress()
	if c.onProgress != nil {
		c.onProgress(p)
	}
	if c.display != nil {
		c.display.Update(p)
	}
}
