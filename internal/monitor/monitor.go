// Package monitor fails crawls that stopped making progress: running jobs
// whose worker died and queued jobs nobody picked up.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Store is the part of the crawl store the monitor needs.
type Store interface {
	ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error
}

// Config holds the inactivity limits per status.
type Config struct {
	RunningTimeout time.Duration
	QueuedTimeout  time.Duration
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		RunningTimeout: 30 * time.Minute,
		QueuedTimeout:  60 * time.Minute,
	}
}

// Monitor marks stale crawls as failed.
type Monitor struct {
	store  Store
	config Config
	log    *logger.Logger
	now    func() time.Time
}

// New creates a Monitor. Zero timeouts take their defaults.
func New(st Store, cfg Config, log *logger.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.RunningTimeout <= 0 {
		cfg.RunningTimeout = def.RunningTimeout
	}
	if cfg.QueuedTimeout <= 0 {
		cfg.QueuedTimeout = def.QueuedTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		store:  st,
		config: cfg,
		log:    log.WithComponent("monitor"),
		now:    time.Now,
	}
}

// timeout returns the inactivity limit for status.
func (m *Monitor) timeout(status model.Status) time.Duration {
	if status == model.StatusRunning {
		return m.config.RunningTimeout
	}
	return m.config.QueuedTimeout
}

// Check fails every crawl that has been inactive longer than its status
// allows and returns their IDs.
func (m *Monitor) Check(ctx context.Context) ([]string, error) {
	crawls, err := m.store.ListCrawlsByStatus(ctx, model.StatusRunning, model.StatusQueued, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list active crawls: %w", err)
	}

	now := m.now()
	var failed []string
	for _, c := range crawls {
		idle := now.Sub(LastActivity(c))
		if idle <= m.timeout(c.Status) {
			continue
		}

		msg := fmt.Sprintf("Crawl timed out after %.1f minutes in %s state", idle.Minutes(), c.Status)
		m.log.WithCrawl(c.ID).Warnf("Marking stale crawl as failed: %s", msg)

		if err := m.store.UpdateStatus(ctx, c.ID, model.StatusFailed, msg); err != nil {
			m.log.WithCrawl(c.ID).WithError(err).Warn("Failed to mark stale crawl")
			continue
		}
		failed = append(failed, c.ID)
	}

	if len(failed) > 0 {
		m.log.Infof("Marked %d stale crawls as failed", len(failed))
	}
	return failed, nil
}

// Run calls Check every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Check(ctx); err != nil {
			m.log.WithError(err).Warn("Stale crawl check failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LastActivity is the latest of a crawl's creation, start and update times.
func LastActivity(c *model.Crawl) time.Time {
	last := c.CreatedAt
	if c.UpdatedAt.After(last) {
		last = c.UpdatedAt
	}
	if c.StartedAt != nil && c.StartedAt.After(last) {
		last = *c.StartedAt
	}
	return last
}
