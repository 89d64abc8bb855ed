// Package browser renders client-side pages through headless Chrome via Rod.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Config defines browser configuration.
type Config struct {
	PoolSize          int                         `json:"pool_size" yaml:"pool_size"`
	Headless          bool                        `json:"headless" yaml:"headless"`
	Timeout           time.Duration               `json:"timeout" yaml:"timeout"`
	SettleDelay       time.Duration               `json:"settle_delay" yaml:"settle_delay"`
	UserAgent         string                      `json:"user_agent" yaml:"user_agent"`
	Headers           map[string]string           `json:"headers,omitempty" yaml:"headers,omitempty"`
	ViewportWidth     int                         `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int                         `json:"viewport_height" yaml:"viewport_height"`
	RecycleAfter      int                         `json:"recycle_after" yaml:"recycle_after"`
	IgnoreHTTPSErrors bool                        `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	Breaker           errors.CircuitBreakerConfig `json:"-" yaml:"-"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:       2,
		Headless:       true,
		Timeout:        30 * time.Second,
		SettleDelay:    2 * time.Second,
		UserAgent:      model.DefaultUserAgent,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		RecycleAfter:   50,
		Breaker:        errors.DefaultCircuitBreakerConfig(),
	}
}

// Browser wraps a Rod browser instance.
type Browser struct {
	browser   *rod.Browser
	config    Config
	mu        sync.Mutex
	pageCount int
}

// New launches a browser.
func New(config Config) (*Browser, error) {
	l := launcher.New()

	if config.Headless {
		l = l.Headless(true)
	}

	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser: browser,
		config:  config,
	}, nil
}

// Render navigates a fresh tab to url, waits for the load event plus the
// settle delay and returns the serialized DOM.
func (b *Browser) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	b.mu.Lock()
	b.pageCount++
	b.mu.Unlock()

	if timeout <= 0 {
		timeout = b.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)

	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  b.config.ViewportWidth,
		Height: b.config.ViewportHeight,
	})

	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{
			UserAgent: b.config.UserAgent,
		}.Call(page)
	}

	if len(b.config.Headers) > 0 {
		networkHeaders := make(proto.NetworkHeaders)
		for k, v := range b.config.Headers {
			networkHeaders[k] = gson.New(v)
		}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: networkHeaders}.Call(page)
	}

	if err := page.Navigate(url); err != nil {
		return "", err
	}
	if err := page.WaitLoad(); err != nil {
		return "", err
	}

	if b.config.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.config.SettleDelay):
		}
	}

	return page.HTML()
}

// Close closes the browser.
func (b *Browser) Close() error {
	return b.browser.Close()
}

// PageCount returns the number of pages rendered.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount
}

// NeedsRecycle checks if the browser needs recycling.
func (b *Browser) NeedsRecycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.RecycleAfter > 0 && b.pageCount >= b.config.RecycleAfter
}
