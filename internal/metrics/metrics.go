// Package metrics collects crawl metrics and exposes them to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openaudit"

// Collector collects and aggregates metrics. Every recorded value is kept
// as an in-process counter for Snapshot and mirrored into a Prometheus
// registry for Handler.
type Collector struct {
	// Counters
	requestsTotal   atomic.Int64
	renderedTotal   atomic.Int64
	renderFallbacks atomic.Int64
	errorsTotal     atomic.Int64
	pagesDiscovered atomic.Int64
	pagesCrawled    atomic.Int64
	statusChecks    atomic.Int64
	issuesDetected  atomic.Int64
	bytesTotal      atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Gauges
	queueDepth   atomic.Int64
	activeCrawls atomic.Int64

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time

	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	responses     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	pages         prometheus.Counter
	discovered    prometheus.Counter
	skipped       *prometheus.CounterVec
	checks        prometheus.Counter
	fallbacks     prometheus.Counter
	bytes         prometheus.Counter
	issues        prometheus.Counter
	crawls        *prometheus.CounterVec
	active        prometheus.Gauge
	frontier      prometheus.Gauge
}

// New creates a new metrics collector with its own registry.
func New() *Collector {
	c := &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
		registry:    prometheus.NewRegistry(),

		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetches_total",
			Help: "Page fetches by fetch method.",
		}, []string{"method"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_duration_seconds",
			Help:    "Time to fetch (and render) a page.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "responses_total",
			Help: "Page responses by status class.",
		}, []string{"class"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "page_errors_total",
			Help: "Failed page fetches by error kind.",
		}, []string{"kind"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_crawled_total",
			Help: "Pages stored and counted toward crawl budgets.",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "urls_enqueued_total",
			Help: "Links accepted into a crawl frontier.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "links_skipped_total",
			Help: "Links not followed, by policy.",
		}, []string{"reason"}),
		checks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_checks_total",
			Help: "Link status checks performed.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "render_fallbacks_total",
			Help: "Renders that failed and fell back to the HTTP body.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_fetched_total",
			Help: "Response body bytes read.",
		}),
		issues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "issues_detected_total",
			Help: "Issues written by the issue detector.",
		}),
		crawls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "crawls_finished_total",
			Help: "Crawls finished, by terminal status.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "crawls_active",
			Help: "Crawls currently running.",
		}),
		frontier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "frontier_depth",
			Help: "URLs waiting in the most recently updated frontier.",
		}),
	}

	c.registry.MustRegister(
		c.fetches, c.fetchDuration, c.responses, c.errors, c.pages,
		c.discovered, c.skipped, c.checks, c.fallbacks, c.bytes,
		c.issues, c.crawls, c.active, c.frontier,
	)
	return c
}

// Registry returns the Prometheus registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordFetch records a page fetch by method ("http" or "rendered") and
// how long it took.
func (c *Collector) RecordFetch(method string, d time.Duration) {
	c.requestsTotal.Add(1)
	if method == "rendered" {
		c.renderedTotal.Add(1)
	}
	c.responseTimesSum.Add(d.Milliseconds())
	c.responseTimesNum.Add(1)

	c.fetches.WithLabelValues(method).Inc()
	c.fetchDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordError records a failed page.
func (c *Collector) RecordError(kind string) {
	c.errorsTotal.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[kind] == nil {
		c.errorCounts[kind] = &atomic.Int64{}
	}
	c.errorCounts[kind].Add(1)
	c.errorMu.Unlock()

	c.errors.WithLabelValues(kind).Inc()
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()

	c.responses.WithLabelValues(statusClass(code)).Inc()
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// RecordPageCrawled increments crawled pages.
func (c *Collector) RecordPageCrawled() {
	c.pagesCrawled.Add(1)
	c.pages.Inc()
}

// RecordPageDiscovered increments URLs accepted into a frontier.
func (c *Collector) RecordPageDiscovered() {
	c.pagesDiscovered.Add(1)
	c.discovered.Inc()
}

// RecordLinkSkipped records a link left unfollowed for reason.
func (c *Collector) RecordLinkSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

// RecordStatusCheck records a link status check.
func (c *Collector) RecordStatusCheck() {
	c.statusChecks.Add(1)
	c.checks.Inc()
}

// RecordRenderFallback records a render failure that kept the HTTP body.
func (c *Collector) RecordRenderFallback() {
	c.renderFallbacks.Add(1)
	c.fallbacks.Inc()
}

// RecordBytes records transferred bytes.
func (c *Collector) RecordBytes(n int64) {
	c.bytesTotal.Add(n)
	c.bytes.Add(float64(n))
}

// RecordIssues records issues written for a crawl.
func (c *Collector) RecordIssues(n int) {
	c.issuesDetected.Add(int64(n))
	c.issues.Add(float64(n))
}

// CrawlStarted marks a crawl as running.
func (c *Collector) CrawlStarted() {
	c.activeCrawls.Add(1)
	c.active.Inc()
}

// CrawlFinished marks a running crawl as done with status.
func (c *Collector) CrawlFinished(status string) {
	c.activeCrawls.Add(-1)
	c.active.Dec()
	c.crawls.WithLabelValues(status).Inc()
}

// SetQueueDepth sets the current frontier depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Store(int64(depth))
	c.frontier.Set(float64(depth))
}

// GetAverageResponseTime returns the average fetch time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.startTime),
		RequestsTotal:       c.requestsTotal.Load(),
		RenderedTotal:       c.renderedTotal.Load(),
		RenderFallbacks:     c.renderFallbacks.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		PagesDiscovered:     c.pagesDiscovered.Load(),
		PagesCrawled:        c.pagesCrawled.Load(),
		StatusChecks:        c.statusChecks.Load(),
		IssuesDetected:      c.issuesDetected.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		QueueDepth:          c.queueDepth.Load(),
		ActiveCrawls:        c.activeCrawls.Load(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	RenderedTotal       int64            `json:"rendered_total"`
	RenderFallbacks     int64            `json:"render_fallbacks"`
	ErrorsTotal         int64            `json:"errors_total"`
	PagesDiscovered     int64            `json:"pages_discovered"`
	PagesCrawled        int64            `json:"pages_crawled"`
	StatusChecks        int64            `json:"status_checks"`
	IssuesDetected      int64            `json:"issues_detected"`
	BytesTotal          int64            `json:"bytes_total"`
	QueueDepth          int64            `json:"queue_depth"`
	ActiveCrawls        int64            `json:"active_crawls"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"rendered_total":       s.RenderedTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"pages_crawled":        s.PagesCrawled,
		"pages_discovered":     s.PagesDiscovered,
		"status_checks":        s.StatusChecks,
		"queue_depth":          s.QueueDepth,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
