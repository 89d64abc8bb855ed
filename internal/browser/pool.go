package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Renderer produces the rendered DOM of a URL.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (html string, elapsed time.Duration, err error)
}

// instance is one browser in the pool.
type instance interface {
	Render(ctx context.Context, url string, timeout time.Duration) (string, error)
	NeedsRecycle() bool
	PageCount() int
	Close() error
}

type launchFunc func(Config) (instance, error)

func launchBrowser(config Config) (instance, error) {
	return New(config)
}

// Pool manages a pool of browser instances. Browsers are launched on first
// use so a crawl that never renders never starts Chrome.
type Pool struct {
	mu       sync.Mutex
	browsers []instance
	config   Config
	size     int
	current  int
	closed   bool
	sem      chan struct{}
	launch   launchFunc
	rendered int
}

// NewPool creates a new browser pool.
func NewPool(config Config) *Pool {
	return newPool(config, launchBrowser)
}

func newPool(config Config, launch launchFunc) *Pool {
	if config.PoolSize < 1 {
		config.PoolSize = 1
	}

	pool := &Pool{
		browsers: make([]instance, config.PoolSize),
		config:   config,
		size:     config.PoolSize,
		sem:      make(chan struct{}, config.PoolSize),
		launch:   launch,
	}

	for i := 0; i < config.PoolSize; i++ {
		pool.sem <- struct{}{}
	}

	return pool
}

// acquire gets a browser from the pool, launching or recycling it as needed.
func (p *Pool) acquire(ctx context.Context) (instance, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.sem <- struct{}{}
		return nil, fmt.Errorf("pool is closed")
	}

	slot := p.current
	p.current = (p.current + 1) % p.size

	browser := p.browsers[slot]
	if browser != nil && browser.NeedsRecycle() {
		p.rendered += browser.PageCount()
		browser.Close()
		browser = nil
	}
	if browser == nil {
		b, err := p.launch(p.config)
		if err != nil {
			p.browsers[slot] = nil
			p.sem <- struct{}{}
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		p.browsers[slot] = b
		browser = b
	}

	return browser, nil
}

func (p *Pool) release() {
	p.sem <- struct{}{}
}

// Render acquires a browser, renders url and releases it.
func (p *Pool) Render(ctx context.Context, url string, timeout time.Duration) (string, time.Duration, error) {
	start := time.Now()

	browser, err := p.acquire(ctx)
	if err != nil {
		return "", time.Since(start), err
	}
	defer p.release()

	html, err := browser.Render(ctx, url, timeout)
	return html, time.Since(start), err
}

// Close closes all browsers in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var lastErr error
	for _, browser := range p.browsers {
		if browser != nil {
			if err := browser.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

// PoolStats holds pool statistics.
type PoolStats struct {
	Size       int `json:"size"`
	Launched   int `json:"launched"`
	Available  int `json:"available"`
	TotalPages int `json:"total_pages"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Size:       p.size,
		Available:  len(p.sem),
		TotalPages: p.rendered,
	}
	for _, b := range p.browsers {
		if b != nil {
			stats.Launched++
			stats.TotalPages += b.PageCount()
		}
	}
	return stats
}
