package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// FileName Tests
// =============================================================================

func TestFileName(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"simple", "https://example.com/a", "https___example_com_a_20240305_140709.html.gz"},
		{"query", "http://x.io/?q=1", "http___x_io__q_1_20240305_140709.html.gz"},
		{"unicode", "https://ex.com/é", "https___ex_com___20240305_140709.html.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.url, at); got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileName_Capped(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 300)
	name := FileName(long, time.Now())
	prefix := strings.TrimSuffix(name, ".html.gz")
	prefix = prefix[:len(prefix)-len("_20060102_150405")]
	if len(prefix) != maxNameLen {
		t.Errorf("name prefix length = %d, want %d", len(prefix), maxNameLen)
	}
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	html := "<html><body>" + strings.Repeat("hello ", 1000) + "</body></html>"

	path, err := s.Store("crawl-1", "https://example.com/", html)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if filepath.Dir(path) != filepath.Join(s.Dir(), "crawl-1") {
		t.Errorf("path = %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() >= int64(len(html)) {
		t.Errorf("snapshot is not compressed: %d >= %d", info.Size(), len(html))
	}

	got, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != html {
		t.Error("Read() content differs from stored html")
	}
}

func TestStore_DeleteAll(t *testing.T) {
	s := NewStore(t.TempDir())
	path, _ := s.Store("crawl-1", "https://example.com/", "<html></html>")
	other, _ := s.Store("crawl-2", "https://example.com/", "<html></html>")

	if err := s.DeleteAll("crawl-1"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("crawl-1 snapshot should be removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("crawl-2 snapshot should remain")
	}

	for _, bad := range []string{"", "..", "a/b"} {
		if err := s.DeleteAll(bad); err == nil {
			t.Errorf("DeleteAll(%q) should fail", bad)
		}
	}
}

func TestStore_ReadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Read(filepath.Join(s.Dir(), "nope.html.gz")); err == nil {
		t.Error("Read() of a missing file should fail")
	}
}
