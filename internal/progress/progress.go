// Package progress renders a terminal progress bar for a running crawl.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Display manages progress bar display during crawling.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	startTime time.Time
	target    string
	last      model.Progress

	lastLine string
}

// New creates a progress display writing to stderr.
func New() *Display {
	return NewWriter(os.Stderr)
}

// NewWriter creates a progress display writing to w.
func NewWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the bar from p.
func (d *Display) Update(p model.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = p
	if !d.started || d.stopped {
		return
	}

	pct := int(p.Percentage)
	if pct > 100 {
		pct = 100
	}

	barWidth := 30
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Pages: %d/%d | %s | ETA %s | %s",
		bar, pct, p.PagesCrawled, p.TotalPages, formatDuration(p.Elapsed),
		formatDuration(p.EstimatedRemaining), truncateURL(p.CurrentURL, 50))

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true

	// Print newline to move past progress bar
	fmt.Fprintln(d.out)
}

// Summary is what PrintSummary reports once a crawl ends.
type Summary struct {
	CrawlID      string
	Status       model.Status
	PagesCrawled int
	Primary      int
	Issues       map[model.Severity]int
	Reason       string
}

// PrintSummary prints a final summary after crawling.
func (d *Display) PrintSummary(s Summary) {
	d.mu.Lock()
	duration := time.Since(d.startTime)
	target := d.target
	d.mu.Unlock()

	w := d.out
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                       Audit Complete                         ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:              %s\n", truncateURL(target, 50))
	fmt.Fprintf(w, "  Crawl:               %s\n", s.CrawlID)
	fmt.Fprintf(w, "  Status:              %s\n", s.Status)
	if s.Reason != "" {
		fmt.Fprintf(w, "  Stopped By:          %s\n", s.Reason)
	}
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(duration))
	fmt.Fprintf(w, "  Pages Crawled:       %d\n", s.PagesCrawled)
	fmt.Fprintf(w, "  Primary Pages:       %d\n", s.Primary)
	fmt.Fprintf(w, "  Issues:              %d critical, %d high, %d medium, %d low\n",
		s.Issues[model.SeverityCritical], s.Issues[model.SeverityHigh],
		s.Issues[model.SeverityMedium], s.Issues[model.SeverityLow])
	fmt.Fprintln(w)

	if duration.Seconds() > 0 && s.PagesCrawled > 0 {
		fmt.Fprintf(w, "  Average Speed:       %.1f pages/sec\n", float64(s.PagesCrawled)/duration.Seconds())
		fmt.Fprintln(w)
	}
}

// Last returns the most recent progress passed to Update.
func (d *Display) Last() model.Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
