// Package snapshot stores gzip-compressed copies of fetched HTML on disk.
package snapshot

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxNameLen caps the URL-derived part of a snapshot file name.
const maxNameLen = 100

// Store writes snapshots under a base directory, one subdirectory per crawl.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName returns the snapshot file name for url taken at t: the URL with
// every non-alphanumeric character replaced by '_', capped at 100
// characters, followed by a timestamp.
func FileName(url string, t time.Time) string {
	var b strings.Builder
	for _, r := range url {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	return fmt.Sprintf("%s_%s.html.gz", b.String(), t.Format("20060102_150405"))
}

// Store writes html for url and returns the file path.
func (s *Store) Store(crawlID, url, html string) (string, error) {
	dir := filepath.Join(s.dir, crawlID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, FileName(url, s.now().UTC()))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	if _, err := io.WriteString(gw, html); err != nil {
		gw.Close()
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return path, file.Close()
}

// Read returns the decompressed snapshot at path.
func (s *Store) Read(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return "", err
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteAll removes every snapshot of a crawl.
func (s *Store) DeleteAll(crawlID string) error {
	if crawlID == "" || strings.ContainsAny(crawlID, `/\`) || crawlID == ".." {
		return fmt.Errorf("invalid crawl id %q", crawlID)
	}
	return os.RemoveAll(filepath.Join(s.dir, crawlID))
}
