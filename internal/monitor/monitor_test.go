package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/store"
)

type update struct {
	id     string
	status model.Status
	msg    string
}

// fakeStore serves a fixed crawl list and records status updates.
type fakeStore struct {
	crawls  []*model.Crawl
	listErr error
	failIDs map[string]bool
	updates []update
}

func (f *fakeStore) ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Crawl
	for _, c := range f.crawls {
		for _, s := range statuses {
			if c.Status == s {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error {
	if f.failIDs[id] {
		return fmt.Errorf("write failed")
	}
	f.updates = append(f.updates, update{id, status, errMsg})
	return nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func crawlAt(id string, status model.Status, age time.Duration) *model.Crawl {
	at := now.Add(-age)
	return &model.Crawl{ID: id, Status: status, CreatedAt: at, UpdatedAt: at}
}

func newTestMonitor(st Store) *Monitor {
	m := New(st, Config{}, nil)
	m.now = func() time.Time { return now }
	return m
}

// =============================================================================
// Check Tests
// =============================================================================

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		crawl   *model.Crawl
		wantMsg string
	}{
		{"fresh running", crawlAt("a", model.StatusRunning, 10*time.Minute), ""},
		{"stale running", crawlAt("a", model.StatusRunning, 45*time.Minute),
			"Crawl timed out after 45.0 minutes in running state"},
		{"running at limit", crawlAt("a", model.StatusRunning, 30*time.Minute), ""},
		{"queued under queued limit", crawlAt("a", model.StatusQueued, 45*time.Minute), ""},
		{"stale queued", crawlAt("a", model.StatusQueued, 90*time.Minute),
			"Crawl timed out after 90.0 minutes in queued state"},
		{"stale pending", crawlAt("a", model.StatusPending, 61*time.Minute),
			"Crawl timed out after 61.0 minutes in pending state"},
		{"old completed ignored", crawlAt("a", model.StatusCompleted, 24*time.Hour), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{crawls: []*model.Crawl{tt.crawl}}
			failed, err := newTestMonitor(st).Check(context.Background())
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}

			if tt.wantMsg == "" {
				if len(failed) != 0 || len(st.updates) != 0 {
					t.Errorf("crawl should not be failed: %v", st.updates)
				}
				return
			}
			if len(failed) != 1 || failed[0] != "a" {
				t.Fatalf("failed = %v", failed)
			}
			got := st.updates[0]
			if got.status != model.StatusFailed || got.msg != tt.wantMsg {
				t.Errorf("update = %+v, want failed %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCheck_RecentUpdateKeepsCrawlAlive(t *testing.T) {
	c := crawlAt("a", model.StatusRunning, 2*time.Hour)
	c.UpdatedAt = now.Add(-5 * time.Minute)

	st := &fakeStore{crawls: []*model.Crawl{c}}
	failed, _ := newTestMonitor(st).Check(context.Background())
	if len(failed) != 0 {
		t.Errorf("failed = %v, want none", failed)
	}
}

func TestCheck_UpdateErrorSkipsCrawl(t *testing.T) {
	st := &fakeStore{
		crawls: []*model.Crawl{
			crawlAt("a", model.StatusRunning, time.Hour),
			crawlAt("b", model.StatusRunning, time.Hour),
		},
		failIDs: map[string]bool{"a": true},
	}
	failed, err := newTestMonitor(st).Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(failed) != 1 || failed[0] != "b" {
		t.Errorf("failed = %v, want [b]", failed)
	}
}

func TestCheck_ListError(t *testing.T) {
	st := &fakeStore{listErr: fmt.Errorf("db down")}
	if _, err := newTestMonitor(st).Check(context.Background()); err == nil {
		t.Error("Check() should return the list error")
	}
}

func TestCheck_MemoryStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	crawl, err := model.NewCrawl("https://example.com", model.DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CreateCrawl(ctx, crawl); err != nil {
		t.Fatal(err)
	}

	m := New(st, Config{QueuedTimeout: time.Minute}, nil)
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	failed, err := m.Check(ctx)
	if err != nil || len(failed) != 1 {
		t.Fatalf("Check() = %v, %v", failed, err)
	}
	got, _ := st.GetCrawl(ctx, crawl.ID)
	if got.Status != model.StatusFailed || got.CompletedAt == nil {
		t.Errorf("crawl = %s, completed %v", got.Status, got.CompletedAt)
	}
}

// =============================================================================
// LastActivity / Run Tests
// =============================================================================

func TestLastActivity(t *testing.T) {
	c := crawlAt("a", model.StatusRunning, time.Hour)
	started := now.Add(-time.Minute)
	c.StartedAt = &started

	if got := LastActivity(c); !got.Equal(started) {
		t.Errorf("LastActivity() = %v, want %v", got, started)
	}
}

func TestRun(t *testing.T) {
	st := &fakeStore{crawls: []*model.Crawl{crawlAt("a", model.StatusQueued, 2*time.Hour)}}
	m := newTestMonitor(st)

	if err := m.Run(context.Background(), 0); err == nil {
		t.Error("Run() with zero interval should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx, time.Hour); err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(st.updates) != 1 {
		t.Errorf("Run() should check once before waiting, updates = %d", len(st.updates))
	}
}
