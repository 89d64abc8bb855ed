package crawler

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/metrics"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/progress"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
	"github.com/PentesterFlow/OpenAudit/internal/snapshot"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithConfig replaces the crawler configuration. The crawl's own policy is
// not touched.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		if config == nil {
			return fmt.Errorf("config is nil")
		}
		c.config = config.Clone()
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Crawler) error {
		c.log = log
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithFetcher sets the page fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Crawler) error {
		c.fetcher = f
		return nil
	}
}

// WithRenderer enables headless rendering through r. Render calls go
// through a circuit breaker so a failing browser falls back to plain HTTP.
func WithRenderer(r browser.Renderer) Option {
	return func(c *Crawler) error {
		c.renderer = r
		return nil
	}
}

// WithSnapshots stores each fetched HTML document in s.
func WithSnapshots(s *snapshot.Store) Option {
	return func(c *Crawler) error {
		c.snapshots = s
		return nil
	}
}

// WithBlacklist sets the external domain blacklist.
func WithBlacklist(bl *scope.Blacklist) Option {
	return func(c *Crawler) error {
		c.blacklist = bl
		return nil
	}
}

// WithProgressDisplay draws a terminal progress bar while crawling.
func WithProgressDisplay(d *progress.Display) Option {
	return func(c *Crawler) error {
		c.display = d
		return nil
	}
}

// WithProgressFunc registers fn to receive a progress snapshot after every
// processed URL.
func WithProgressFunc(fn func(model.Progress)) Option {
	return func(c *Crawler) error {
		c.onProgress = fn
		return nil
	}
}

// WithLivenessInterval sets how often the crawl checks that its record
// still exists.
func WithLivenessInterval(d time.Duration) Option {
	return func(c *Crawler) error {
		if d <= 0 {
			return fmt.Errorf("liveness interval must be positive, got %v", d)
		}
		c.config.LivenessInterval = d
		return nil
	}
}
