// Package output writes audit reports.
package output

import (
	"fmt"
	"io"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Writer defines the interface for report writers.
type Writer interface {
	// WriteReport writes a complete audit report
	WriteReport(report *Report) error

	// WritePage writes a single page (for streaming)
	WritePage(page *model.Page) error

	// WriteIssue writes a single issue (for streaming)
	WriteIssue(issue *model.Issue) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a report writer for config.Format.
func NewWriter(w io.Writer, config Config) (Writer, error) {
	switch config.Format {
	case "", "json":
		return NewJSONWriter(w, config.Pretty, config.Stream), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", config.Format)
	}
}
