package crawler

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/metrics"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/progress"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
	"github.com/PentesterFlow/OpenAudit/internal/snapshot"
	"github.com/PentesterFlow/OpenAudit/internal/store"
)

// Helper to create a minimal crawler for option testing
func newTestCrawler() *Crawler {
	return &Crawler{
		config: DefaultConfig(),
	}
}

// =============================================================================
// WithConfig Tests
// =============================================================================

func TestWithConfig(t *testing.T) {
	c := newTestCrawler()
	config := DefaultConfig()
	config.Workers.Concurrency = 9

	if err := WithConfig(config)(c); err != nil {
		t.Fatalf("WithConfig() error = %v", err)
	}
	if c.config.Workers.Concurrency != 9 {
		t.Errorf("Concurrency = %d, want 9", c.config.Workers.Concurrency)
	}

	config.Workers.Concurrency = 1
	if c.config.Workers.Concurrency != 9 {
		t.Error("WithConfig() should copy the config")
	}

	if err := WithConfig(nil)(c); err == nil {
		t.Error("WithConfig(nil) should fail")
	}
}

// =============================================================================
// WithLivenessInterval Tests
// =============================================================================

func TestWithLivenessInterval(t *testing.T) {
	tests := []struct {
		name    string
		input   time.Duration
		wantErr bool
	}{
		{"normal value", time.Second, false},
		{"zero", 0, true},
		{"negative", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCrawler()
			err := WithLivenessInterval(tt.input)(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithLivenessInterval() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c.config.LivenessInterval != tt.input {
				t.Errorf("LivenessInterval = %v, want %v", c.config.LivenessInterval, tt.input)
			}
		})
	}
}

// =============================================================================
// Collaborator option Tests
// =============================================================================

func TestCollaboratorOptions(t *testing.T) {
	c := newTestCrawler()
	log := logger.Nop()
	m := metrics.New()
	bl := scope.NewBlacklist("spam.example")
	snaps := snapshot.NewStore(t.TempDir())
	display := progress.NewWriter(&bytes.Buffer{})
	called := false

	opts := []Option{
		WithLogger(log),
		WithMetrics(m),
		WithBlacklist(bl),
		WithSnapshots(snaps),
		WithProgressDisplay(display),
		WithProgressFunc(func(model.Progress) { called = true }),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			t.Fatalf("option error = %v", err)
		}
	}

	if c.log != log || c.metrics != m || c.blacklist != bl || c.snapshots != snaps || c.display != display {
		t.Error("options did not set their collaborators")
	}
	c.onProgress(model.Progress{})
	if !called {
		t.Error("WithProgressFunc() callback not installed")
	}
}

func TestWithRenderer_Guarded(t *testing.T) {
	st := store.NewMemory()
	crawl := newTestCrawl(t, st, "https://example.com", testPolicy())
	r := &fakeRenderer{html: "<html></html>"}

	c, err := New(crawl, st, WithConfig(testConfig()), WithLogger(logger.Nop()), WithRenderer(r))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := c.renderer.(*browser.Guard); !ok {
		t.Errorf("renderer = %T, want *browser.Guard", c.renderer)
	}

	html, _, err := c.renderer.Render(context.Background(), "https://example.com", time.Second)
	if err != nil || html != "<html></html>" {
		t.Errorf("Render() = %q, %v", html, err)
	}
}
