// Package model defines the records persisted for a site audit.
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUserAgent identifies the auditor to the sites it crawls.
const DefaultUserAgent = "AAA-WebScraper/1.0 (+https://example.com/bot)"

// Status is the lifecycle state of a crawl job.
type Status string

// Crawl statuses.
const (
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Policy holds the per-crawl limits chosen by the user.
type Policy struct {
	MaxDepthInternal   int     `json:"max_depth_internal" yaml:"max_depth_internal"`
	MaxDepthExternal   int     `json:"max_depth_external" yaml:"max_depth_external"`
	MaxPages           int     `json:"max_pages" yaml:"max_pages"`
	MaxRuntimeSeconds  int     `json:"max_runtime_seconds" yaml:"max_runtime_seconds"`
	RateLimitRPS       float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	FollowExternal     bool    `json:"follow_external" yaml:"follow_external"`
	MaxExternalDomains int     `json:"max_external_domains" yaml:"max_external_domains"`
	RespectRobots      bool    `json:"respect_robots" yaml:"respect_robots"`
	JSRendering        bool    `json:"js_rendering" yaml:"js_rendering"`
	UserAgent          string  `json:"user_agent" yaml:"user_agent"`
}

// DefaultPolicy returns the limits applied when the user sets none.
func DefaultPolicy() Policy {
	return Policy{
		MaxDepthInternal:   3,
		MaxDepthExternal:   1,
		MaxPages:           100,
		MaxRuntimeSeconds:  3600,
		RateLimitRPS:       2,
		FollowExternal:     false,
		MaxExternalDomains: 10,
		RespectRobots:      true,
		JSRendering:        false,
		UserAgent:          DefaultUserAgent,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxDepthInternal < 0 {
		return fmt.Errorf("max_depth_internal must be >= 0")
	}
	if p.MaxDepthExternal < 0 {
		return fmt.Errorf("max_depth_external must be >= 0")
	}
	if p.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1")
	}
	if p.MaxRuntimeSeconds < 1 {
		return fmt.Errorf("max_runtime_seconds must be at least 1")
	}
	if p.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must be >= 0")
	}
	if p.MaxExternalDomains < 0 {
		return fmt.Errorf("max_external_domains must be >= 0")
	}
	return nil
}

// Runtime returns MaxRuntimeSeconds as a duration.
func (p Policy) Runtime() time.Duration {
	return time.Duration(p.MaxRuntimeSeconds) * time.Second
}

// Crawl is one audit job for a single target site.
type Crawl struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Name         string     `json:"name,omitempty"`
	Policy       Policy     `json:"policy"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	PagesCrawled int        `json:"pages_crawled"`
	TotalLinks   int        `json:"total_links"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewCrawl creates a queued crawl for target.
func NewCrawl(target string, policy Policy) (*Crawl, error) {
	if err := validateHTTPURL(target); err != nil {
		return nil, fmt.Errorf("crawl url: %w", err)
	}
	if policy.UserAgent == "" {
		policy.UserAgent = DefaultUserAgent
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Crawl{
		ID:        uuid.NewString(),
		URL:       target,
		Policy:    policy,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Progress is the live view of a running crawl.
type Progress struct {
	CrawlID            string        `json:"crawl_id"`
	Status             string        `json:"status"`
	PagesCrawled       int           `json:"pages_crawled"`
	TotalPages         int           `json:"total_pages"`
	CurrentURL         string        `json:"current_url,omitempty"`
	Percentage         float64       `json:"progress_percentage"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining,omitempty"`
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
