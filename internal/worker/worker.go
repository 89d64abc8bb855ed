// Package worker runs audit jobs: it drives one crawl through the engine,
// writes its terminal status and runs the issue detector once crawling
// completes. Pool runs many jobs at once.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/issues"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/metrics"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/store"
	"github.com/PentesterFlow/OpenAudit/pkg/crawler"
)

// Config configures a Runner.
type Config struct {
	Crawler *crawler.Config
	Logger  *logger.Logger
	Metrics *metrics.Collector

	// Options are applied to every crawler after the runner's own.
	Options []crawler.Option
}

// Outcome is what a job ended with.
type Outcome struct {
	CrawlID string          `json:"crawl_id"`
	Status  model.Status    `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Deleted bool            `json:"deleted"`
	Issues  int             `json:"issues"`
	Result  *crawler.Result `json:"result,omitempty"`
}

// Runner executes crawl jobs against a store.
type Runner struct {
	store   store.Store
	config  *crawler.Config
	log     *logger.Logger
	metrics *metrics.Collector
	opts    []crawler.Option

	mu     sync.Mutex
	active map[string]*crawler.Crawler
}

// New creates a Runner.
func New(st store.Store, cfg Config) (*Runner, error) {
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cfg.Crawler == nil {
		cfg.Crawler = crawler.DefaultConfig()
	}
	if err := cfg.Crawler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Runner{
		store:   st,
		config:  cfg.Crawler,
		log:     cfg.Logger.WithComponent("worker"),
		metrics: cfg.Metrics,
		opts:    cfg.Options,
		active:  make(map[string]*crawler.Crawler),
	}, nil
}

// Metrics returns the collector shared by every job.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// Run executes the crawl crawlID to its end. A missing crawl is an error; a
// crawl deleted while running ends cleanly with Outcome.Deleted set and no
// status written. The returned error is non-nil only when the job failed.
func (r *Runner) Run(ctx context.Context, crawlID string, opts ...crawler.Option) (*Outcome, error) {
	log := r.log.WithCrawl(crawlID)

	crawl, err := r.store.GetCrawl(ctx, crawlID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Crawl not found")
		return nil, fmt.Errorf("%w: %s", errors.ErrJobNotFound, crawlID)
	}
	if err != nil {
		return nil, fmt.Errorf("load crawl %s: %w", crawlID, err)
	}

	out := &Outcome{CrawlID: crawlID}

	if err := r.store.UpdateStatus(ctx, crawlID, model.StatusRunning, ""); err != nil {
		if gone(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrJobNotFound, crawlID)
		}
		return nil, fmt.Errorf("mark crawl running: %w", err)
	}
	out.Status = model.StatusRunning

	r.metrics.CrawlStarted()
	defer func() {
		status := string(out.Status)
		if out.Deleted {
			status = "deleted"
		}
		r.metrics.CrawlFinished(status)
	}()

	// Terminal writes must land even when ctx was cancelled to stop the job.
	wctx := context.WithoutCancel(ctx)

	all := []crawler.Option{
		crawler.WithConfig(r.config),
		crawler.WithLogger(r.log),
		crawler.WithMetrics(r.metrics),
	}
	all = append(all, r.opts...)
	all = append(all, opts...)

	c, err := crawler.New(crawl, r.store, all...)
	if err != nil {
		return r.fail(wctx, out, err)
	}

	r.track(crawlID, c)
	defer r.untrack(crawlID)

	result, err := c.Start(ctx)
	if err != nil {
		return r.fail(wctx, out, err)
	}
	out.Result = result

	switch {
	case result.Deleted:
		out.Deleted = true
		log.Info("Crawl was deleted while running, nothing to finalize")
		return out, nil

	case result.Reason == crawler.ReasonStopped:
		return r.finish(wctx, out, model.StatusStopped, "")

	case result.PagesCrawled == 0:
		return r.fail(wctx, out, errors.ErrNoPagesCrawled)
	}

	if _, err := r.finish(wctx, out, model.StatusCompleted, ""); err != nil || out.Deleted {
		return out, err
	}

	start := time.Now()
	n, err := issues.NewDetector(r.store, r.log).Run(wctx, crawlID)
	switch {
	case gone(err):
		out.Deleted = true
	case err != nil:
		log.WithError(err).Warn("Issue detection failed")
	default:
		out.Issues = n
		r.metrics.RecordIssues(n)
		log.Infof("Detected %d issues in %s", n, time.Since(start).Round(time.Millisecond))
	}
	return out, nil
}

// finish writes a terminal status.
func (r *Runner) finish(ctx context.Context, out *Outcome, status model.Status, msg string) (*Outcome, error) {
	if err := r.store.UpdateStatus(ctx, out.CrawlID, status, msg); err != nil {
		if gone(err) {
			out.Deleted = true
			return out, nil
		}
		return out, fmt.Errorf("mark crawl %s: %w", status, err)
	}
	out.Status = status
	out.Error = msg
	r.log.WithCrawl(out.CrawlID).Infof("Crawl %s", status)
	return out, nil
}

// fail marks the crawl failed with cause and returns cause.
func (r *Runner) fail(ctx context.Context, out *Outcome, cause error) (*Outcome, error) {
	msg := errors.Truncate(cause.Error(), 500)
	r.log.WithCrawl(out.CrawlID).WithError(cause).Error("Crawl failed")
	if _, err := r.finish(ctx, out, model.StatusFailed, msg); err != nil {
		r.log.WithCrawl(out.CrawlID).WithError(err).Warn("Could not record failure")
	}
	out.Status = model.StatusFailed
	out.Error = msg
	return out, cause
}

// Stop stops the running crawl crawlID.
func (r *Runner) Stop(crawlID string) error {
	r.mu.Lock()
	c, ok := r.active[crawlID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("crawl %s is not running", crawlID)
	}
	return c.Stop()
}

// Progress returns the progress of a running crawl.
func (r *Runner) Progress(crawlID string) (model.Progress, bool) {
	r.mu.Lock()
	c, ok := r.active[crawlID]
	r.mu.Unlock()
	if !ok {
		return model.Progress{}, false
	}
	return c.Progress(), true
}

// Active returns the IDs of the crawls currently running.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runner) track(id string, c *crawler.Crawler) {
	r.mu.Lock()
	r.active[id] = c
	r.mu.Unlock()
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func gone(err error) bool {
	return errors.IsDeleted(err) || errors.Is(err, store.ErrNotFound)
}
