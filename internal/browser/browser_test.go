package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
)

type fakeBrowser struct {
	mu     sync.Mutex
	pages  int
	limit  int
	closed bool
	html   string
	err    error
}

func (f *fakeBrowser) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	if f.err != nil {
		return "", f.err
	}
	return f.html + url, nil
}

func (f *fakeBrowser) NeedsRecycle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit > 0 && f.pages >= f.limit
}

func (f *fakeBrowser) PageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []*fakeBrowser
	fail     bool
}

func (l *fakeLauncher) launch(config Config) (instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, fmt.Errorf("no chrome")
	}
	b := &fakeBrowser{limit: config.RecycleAfter, html: "<html>"}
	l.launched = append(l.launched, b)
	return b, nil
}

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Headless {
		t.Error("Headless should be true by default")
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
	if config.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s", config.SettleDelay)
	}
	if config.PoolSize < 1 {
		t.Errorf("PoolSize = %d", config.PoolSize)
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_LaunchesLazily(t *testing.T) {
	l := &fakeLauncher{}
	p := newPool(Config{PoolSize: 2}, l.launch)
	defer p.Close()

	if s := p.Stats(); s.Launched != 0 {
		t.Fatalf("Launched = %d before first render", s.Launched)
	}

	html, _, err := p.Render(context.Background(), "https://example.com/", time.Second)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if html != "<html>https://example.com/" {
		t.Errorf("html = %q", html)
	}
	if s := p.Stats(); s.Launched != 1 || s.Available != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPool_Recycles(t *testing.T) {
	l := &fakeLauncher{}
	p := newPool(Config{PoolSize: 1, RecycleAfter: 2}, l.launch)
	defer p.Close()

	for i := 0; i < 5; i++ {
		if _, _, err := p.Render(context.Background(), "https://example.com/", time.Second); err != nil {
			t.Fatalf("Render() error = %v", err)
		}
	}

	if len(l.launched) != 3 {
		t.Errorf("launched = %d, want 3", len(l.launched))
	}
	if !l.launched[0].closed || !l.launched[1].closed {
		t.Error("recycled browsers must be closed")
	}
	if s := p.Stats(); s.TotalPages != 5 {
		t.Errorf("TotalPages = %d, want 5", s.TotalPages)
	}
}

func TestPool_LaunchFailureReturnsSlot(t *testing.T) {
	l := &fakeLauncher{fail: true}
	p := newPool(Config{PoolSize: 1}, l.launch)

	if _, _, err := p.Render(context.Background(), "https://example.com/", time.Second); err == nil {
		t.Fatal("Render() should fail when the browser cannot launch")
	}
	if s := p.Stats(); s.Available != 1 {
		t.Errorf("Available = %d, want 1", s.Available)
	}
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	l := &fakeLauncher{}
	p := newPool(Config{PoolSize: 1}, l.launch)
	<-p.sem

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := p.Render(ctx, "https://example.com/", time.Second); err == nil {
		t.Error("Render() should fail once ctx is done")
	}
}

func TestPool_Closed(t *testing.T) {
	l := &fakeLauncher{}
	p := newPool(Config{PoolSize: 1}, l.launch)
	p.Render(context.Background(), "https://example.com/", time.Second)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !l.launched[0].closed {
		t.Error("Close() must close launched browsers")
	}
	if _, _, err := p.Render(context.Background(), "https://example.com/", time.Second); err == nil {
		t.Error("Render() on a closed pool should fail")
	}
}

// =============================================================================
// Guard Tests
// =============================================================================

type stubRenderer struct {
	calls int
	err   error
}

func (s *stubRenderer) Render(ctx context.Context, url string, timeout time.Duration) (string, time.Duration, error) {
	s.calls++
	if s.err != nil {
		return "", time.Millisecond, s.err
	}
	return "<html></html>", time.Millisecond, nil
}

func TestGuard_OpensAfterFailures(t *testing.T) {
	stub := &stubRenderer{err: fmt.Errorf("crashed")}
	g := NewGuard(stub, errors.CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		_, _, err := g.Render(context.Background(), "https://example.com/", time.Second)
		if errors.KindOf(err) != errors.Render {
			t.Fatalf("attempt %d: kind = %v, want Render", i, errors.KindOf(err))
		}
	}
	if g.State() != errors.Open {
		t.Fatalf("State() = %v, want open", g.State())
	}

	_, _, err := g.Render(context.Background(), "https://example.com/", time.Second)
	if !errors.Is(err, errors.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if stub.calls != 3 {
		t.Errorf("calls = %d, want 3", stub.calls)
	}
}

func TestGuard_PassesThrough(t *testing.T) {
	stub := &stubRenderer{}
	g := NewGuard(stub, errors.DefaultCircuitBreakerConfig(), nil)

	html, elapsed, err := g.Render(context.Background(), "https://example.com/", time.Second)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if html != "<html></html>" || elapsed != time.Millisecond {
		t.Errorf("Render() = %q, %v", html, elapsed)
	}
	if g.State() != errors.Closed {
		t.Errorf("State() = %v, want closed", g.State())
	}
}
