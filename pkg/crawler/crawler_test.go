package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/issues"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
	"github.com/PentesterFlow/OpenAudit/internal/store"
)

// testSite serves HTML pages by lower-cased path and counts requests per
// "METHOD /path".
type testSite struct {
	*httptest.Server

	mu    sync.Mutex
	pages map[string]string
	types map[string]string
	hits  map[string]int
	order []string
	delay time.Duration
}

func newTestSite(t *testing.T, pages map[string]string) *testSite {
	t.Helper()
	s := &testSite{
		pages: pages,
		types: make(map[string]string),
		hits:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *testSite) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.ToLower(r.URL.Path)

	s.mu.Lock()
	s.hits[r.Method+" "+path]++
	if r.Method == http.MethodGet {
		s.order = append(s.order, path)
	}
	body, ok := s.pages[path]
	ctype := s.types[path]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if path == "/fail" {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "no hijack", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if ctype == "" {
		ctype = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	fmt.Fprint(w, strings.ReplaceAll(body, "BASE", s.URL))
}

// fetchOrder returns the GET paths in request order.
func (s *testSite) fetchOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *testSite) hitCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func doc(title string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html lang="en"><head><title>%s</title></head><body><h1>%s</h1><p>Some text about %s.</p>`, title, title, title)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testPolicy() model.Policy {
	p := model.DefaultPolicy()
	p.RateLimitRPS = 0
	p.RespectRobots = false
	return p
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Snapshots.Enabled = false
	return cfg
}

func newTestCrawl(t *testing.T, st *store.Memory, target string, policy model.Policy) *model.Crawl {
	t.Helper()
	crawl, err := model.NewCrawl(target, policy)
	if err != nil {
		t.Fatalf("NewCrawl() error = %v", err)
	}
	if err := st.CreateCrawl(context.Background(), crawl); err != nil {
		t.Fatalf("CreateCrawl() error = %v", err)
	}
	return crawl
}

func runCrawl(t *testing.T, st Store, crawl *model.Crawl, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig()), WithLogger(logger.Nop())}, opts...)
	c, err := New(crawl, st, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return result
}

func listPages(t *testing.T, st *store.Memory, crawlID string) []*model.Page {
	t.Helper()
	pages, err := st.ListPages(context.Background(), crawlID)
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	return pages
}

// pageByPath finds the page whose normalized URL has path; the seed is
// stored without a trailing slash and normalizes to "/".
func pageByPath(pages []*model.Page, path string) *model.Page {
	for _, p := range pages {
		key, err := scope.Normalize(p.URL)
		if err != nil {
			continue
		}
		u, err := url.Parse(key)
		if err == nil && u.Path == path {
			return p
		}
	}
	return nil
}

// =============================================================================
// New() Tests
// =============================================================================

func TestNew_Validation(t *testing.T) {
	st := store.NewMemory()
	crawl := newTestCrawl(t, st, "https://example.com", testPolicy())

	if _, err := New(nil, st); err == nil {
		t.Error("New(nil crawl) should fail")
	}
	if _, err := New(crawl, nil); err == nil {
		t.Error("New(nil store) should fail")
	}

	bad := testConfig()
	bad.LivenessInterval = 0
	if _, err := New(crawl, st, WithConfig(bad)); err == nil {
		t.Error("New() should reject an invalid config")
	}

	c, err := New(crawl, st, WithConfig(testConfig()), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.fetcher == nil || c.blacklist == nil || c.metrics == nil || c.finalizer == nil {
		t.Error("New() should fill in defaults")
	}
	if c.snapshots != nil {
		t.Error("snapshots are disabled in the test config")
	}
}

func TestCrawler_StopNotRunning(t *testing.T) {
	st := store.NewMemory()
	crawl := newTestCrawl(t, st, "https://example.com", testPolicy())
	c, err := New(crawl, st, WithConfig(testConfig()), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Stop(); err == nil {
		t.Error("Stop() on an idle crawler should fail")
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
}

// =============================================================================
// Crawl loop Tests
// =============================================================================

func TestCrawl_MaxPages(t *testing.T) {
	pages := map[string]string{}
	var links []string
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("/p%d", i)
		links = append(links, path)
		pages[path] = doc(fmt.Sprintf("Page %d", i))
	}
	pages["/"] = doc("Home", links...)
	site := newTestSite(t, pages)

	st := store.NewMemory()
	policy := testPolicy()
	policy.MaxPages = 5
	crawl := newTestCrawl(t, st, site.URL, policy)

	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 5 {
		t.Errorf("PagesCrawled = %d, want 5", result.PagesCrawled)
	}
	if result.Reason != ReasonMaxPages {
		t.Errorf("Reason = %s, want %s", result.Reason, ReasonMaxPages)
	}
	if got := len(listPages(t, st, crawl.ID)); got != 5 {
		t.Errorf("stored pages = %d, want 5", got)
	}
	if got := site.hitCount("GET /"); got != 1 {
		t.Errorf("homepage fetched %d times, want 1", got)
	}

	stored, err := st.GetCrawl(context.Background(), crawl.ID)
	if err != nil {
		t.Fatalf("GetCrawl() error = %v", err)
	}
	if stored.PagesCrawled != 5 {
		t.Errorf("crawl record PagesCrawled = %d, want 5", stored.PagesCrawled)
	}
	if stored.TotalLinks != 20 {
		t.Errorf("crawl record TotalLinks = %d, want 20", stored.TotalLinks)
	}
}

func TestCrawl_SeedIsPrimary(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":      doc("Home", "/about"),
		"/about": doc("About"),
	})

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())
	result := runCrawl(t, st, crawl)

	if result.Reason != ReasonFrontierEmpty {
		t.Errorf("Reason = %s, want %s", result.Reason, ReasonFrontierEmpty)
	}
	if !result.NavDetection {
		t.Error("NavDetection should be available when the homepage loads")
	}

	home := pageByPath(listPages(t, st, crawl.ID), "/")
	if home == nil {
		t.Fatal("homepage not stored")
	}
	if home.NavScore < 10 {
		t.Errorf("seed NavScore = %d, want >= 10", home.NavScore)
	}
	if home.Depth != 0 {
		t.Errorf("seed Depth = %d, want 0", home.Depth)
	}
	if !home.IsPrimary {
		t.Error("seed page should be primary")
	}
	if result.PrimaryPages < 1 {
		t.Errorf("PrimaryPages = %d", result.PrimaryPages)
	}
}

func TestCrawl_FailingURL(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":   doc("Home", "/ok", "/fail"),
		"/ok": doc("OK"),
	})

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())
	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 2 {
		t.Errorf("PagesCrawled = %d, want 2", result.PagesCrawled)
	}
	if result.PagesFailed != 1 {
		t.Errorf("PagesFailed = %d, want 1", result.PagesFailed)
	}

	all, err := st.ListIssues(context.Background(), crawl.ID)
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	var crawlErrors []*model.Issue
	for _, i := range all {
		if i.Type == issues.TypeCrawlError {
			crawlErrors = append(crawlErrors, i)
		}
	}
	if len(crawlErrors) != 1 {
		t.Fatalf("Crawl Error issues = %d, want 1", len(crawlErrors))
	}
	issue := crawlErrors[0]
	if issue.Severity != model.SeverityHigh {
		t.Errorf("Severity = %s, want high", issue.Severity)
	}
	if !strings.HasPrefix(issue.Message, "Failed to crawl URL: ") {
		t.Errorf("Message = %q", issue.Message)
	}

	failed := pageByPath(listPages(t, st, crawl.ID), "/fail")
	if failed == nil {
		t.Fatal("error page not stored")
	}
	if !failed.IsError() {
		t.Errorf("error page = %+v", failed)
	}
	if !strings.HasPrefix(failed.TextExcerpt, "Error: ") {
		t.Errorf("TextExcerpt = %q", failed.TextExcerpt)
	}
	if failed.IsPrimary {
		t.Error("error pages are never primary")
	}
}

func TestCrawl_NormalizedDedup(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":      doc("Home", "/About", "/about/", "/about?utm_source=news", "/about#team"),
		"/about": doc("About"),
	})

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())
	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 2 {
		t.Errorf("PagesCrawled = %d, want 2", result.PagesCrawled)
	}

	seen := make(map[string]bool)
	for _, p := range listPages(t, st, crawl.ID) {
		key, err := scope.Normalize(p.URL)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", p.URL, err)
		}
		if seen[key] {
			t.Errorf("page %s stored twice", key)
		}
		seen[key] = true
	}
	if got := site.hitCount("GET /about"); got != 1 {
		t.Errorf("/about fetched %d times, want 1", got)
	}
}

func TestCrawl_ExternalBudget(t *testing.T) {
	extA := newTestSite(t, map[string]string{"/": doc("Partner A")})
	extB := newTestSite(t, map[string]string{"/": doc("Partner B")})
	site := newTestSite(t, map[string]string{
		"/": doc("Home", extA.URL+"/", extB.URL+"/"),
	})

	st := store.NewMemory()
	policy := testPolicy()
	policy.FollowExternal = true
	policy.MaxExternalDomains = 1
	policy.MaxDepthExternal = 1
	crawl := newTestCrawl(t, st, site.URL, policy)

	result := runCrawl(t, st, crawl)

	if result.ExternalDomains != 1 {
		t.Errorf("ExternalDomains = %d, want 1", result.ExternalDomains)
	}
	if got := extA.hitCount("GET /"); got != 1 {
		t.Errorf("first external fetched %d times, want 1", got)
	}
	if got := extB.hitCount("GET /") + extB.hitCount("HEAD /"); got != 0 {
		t.Errorf("over-budget external requested %d times, want 0", got)
	}
	if result.PagesCrawled != 2 {
		t.Errorf("PagesCrawled = %d, want 2", result.PagesCrawled)
	}
}

func TestCrawl_StatusChecksUnfollowedInternalLinks(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":  doc("Home", "/a"),
		"/a": doc("A", "/deep", "/brochure.pdf"),
	})

	st := store.NewMemory()
	policy := testPolicy()
	policy.MaxDepthInternal = 1
	crawl := newTestCrawl(t, st, site.URL, policy)

	runCrawl(t, st, crawl)

	if got := site.hitCount("GET /deep"); got != 0 {
		t.Errorf("/deep crawled %d times, want 0", got)
	}
	if got := site.hitCount("HEAD /deep"); got != 1 {
		t.Errorf("/deep status checked %d times, want 1", got)
	}

	links, err := st.ListLinks(context.Background(), crawl.ID)
	if err != nil {
		t.Fatalf("ListLinks() error = %v", err)
	}
	checked := 0
	for _, l := range links {
		switch {
		case strings.HasSuffix(l.TargetURL, "/deep"), strings.HasSuffix(l.TargetURL, "/brochure.pdf"):
			checked++
			if l.StatusCode == nil || *l.StatusCode != http.StatusNotFound {
				t.Errorf("%s StatusCode = %v, want 404", l.TargetURL, l.StatusCode)
			}
			if !l.IsInternal || l.Depth != 2 {
				t.Errorf("link = %+v", l)
			}
		case strings.HasSuffix(l.TargetURL, "/a"):
			if l.StatusCode != nil {
				t.Errorf("followed links are not status checked: %+v", l)
			}
		}
	}
	if checked != 2 {
		t.Errorf("checked links = %d, want 2", checked)
	}
}

func TestCrawl_NonHTMLResource(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":          doc("Home", "/feed.json"),
		"/feed.json": `{"items": []}`,
	})
	site.types["/feed.json"] = "application/json"

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())
	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 2 {
		t.Errorf("PagesCrawled = %d, want 2", result.PagesCrawled)
	}
	feed := pageByPath(listPages(t, st, crawl.ID), "/feed.json")
	if feed == nil {
		t.Fatal("resource page not stored")
	}
	if feed.Title != "feed.json" || feed.StatusCode != 200 || feed.SizeBytes != len(`{"items": []}`) {
		t.Errorf("resource page = %+v", feed)
	}
}

func TestCrawl_Sitemap(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":            doc("Home"),
		"/hidden":      doc("Hidden"),
		"/robots.txt":  "User-agent: *\nSitemap: BASE/sitemap.xml\n",
		"/sitemap.xml": `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>BASE/hidden</loc></url><url><loc>https://elsewhere.example/x</loc></url></urlset>`,
	})
	site.types["/robots.txt"] = "text/plain"
	site.types["/sitemap.xml"] = "application/xml"

	st := store.NewMemory()
	policy := testPolicy()
	policy.RespectRobots = true
	crawl := newTestCrawl(t, st, site.URL, policy)

	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 2 {
		t.Errorf("PagesCrawled = %d, want 2", result.PagesCrawled)
	}
	hidden := pageByPath(listPages(t, st, crawl.ID), "/hidden")
	if hidden == nil {
		t.Fatal("sitemap URL not crawled")
	}
	if hidden.Depth != 0 || hidden.NavScore != 0 {
		t.Errorf("sitemap page depth/score = %d/%d, want 0/0", hidden.Depth, hidden.NavScore)
	}
}

// =============================================================================
// Rendering Tests
// =============================================================================

type fakeRenderer struct {
	html  string
	err   error
	calls atomic.Int32
}

func (f *fakeRenderer) Render(ctx context.Context, url string, timeout time.Duration) (string, time.Duration, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", 0, f.err
	}
	return f.html, 5 * time.Millisecond, nil
}

const shellPage = `<html><head><title>Shell</title></head><body><div id="app"></div></body></html>`

func TestCrawl_Rendering(t *testing.T) {
	tests := []struct {
		name       string
		renderer   *fakeRenderer
		jsForced   bool
		wantPages  int
		wantFailed int
		wantMethod model.FetchMethod
		wantTitle  string
	}{
		{"shell page rendered", &fakeRenderer{html: doc("Rendered")}, false, 1, 0, model.FetchRendered, "Rendered"},
		{"forced rendering", &fakeRenderer{html: doc("Rendered")}, true, 1, 0, model.FetchRendered, "Rendered"},
		{"render failure is a crawl error", &fakeRenderer{err: fmt.Errorf("browser crashed")}, false, 0, 1, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newTestSite(t, map[string]string{"/": shellPage})

			st := store.NewMemory()
			policy := testPolicy()
			policy.JSRendering = tt.jsForced
			crawl := newTestCrawl(t, st, site.URL, policy)

			result := runCrawl(t, st, crawl, WithRenderer(tt.renderer))

			if result.PagesCrawled != tt.wantPages || result.PagesFailed != tt.wantFailed {
				t.Fatalf("crawled/failed = %d/%d, want %d/%d",
					result.PagesCrawled, result.PagesFailed, tt.wantPages, tt.wantFailed)
			}
			if tt.renderer.calls.Load() != 1 {
				t.Errorf("Render calls = %d, want 1", tt.renderer.calls.Load())
			}

			home := listPages(t, st, crawl.ID)[0]
			if tt.wantFailed > 0 {
				if !home.IsError() || !strings.Contains(home.Error, "browser crashed") {
					t.Errorf("error page = %+v", home)
				}
				if got := countIssues(t, st, crawl.ID, issues.TypeCrawlError); got != 1 {
					t.Errorf("Crawl Error issues = %d, want 1", got)
				}
				return
			}
			if home.FetchMethod != tt.wantMethod {
				t.Errorf("FetchMethod = %s, want %s", home.FetchMethod, tt.wantMethod)
			}
			if home.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", home.Title, tt.wantTitle)
			}
		})
	}
}

// staticHome is large and block-rich enough to be used without rendering.
func staticHome(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html lang="en"><head><title>Home</title></head><body><h1>Home</h1>`)
	for i := 0; i < 12; i++ {
		b.WriteString("<p>Plain server generated paragraph describing the company and its services in detail.</p>")
	}
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestCrawl_RenderCircuitOpenKeepsHTTPBody(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":  staticHome("/a", "/b"),
		"/a": shellPage,
		"/b": shellPage,
	})

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())

	cfg := testConfig()
	cfg.Browser.Breaker = errors.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}
	renderer := &fakeRenderer{err: fmt.Errorf("browser crashed")}

	result := runCrawl(t, st, crawl, WithConfig(cfg), WithRenderer(renderer))

	// The first shell page fails and opens the breaker; the second keeps
	// its HTTP body.
	if renderer.calls.Load() != 1 {
		t.Errorf("Render calls = %d, want 1", renderer.calls.Load())
	}
	if result.PagesCrawled != 2 || result.PagesFailed != 1 {
		t.Errorf("crawled/failed = %d/%d, want 2/1", result.PagesCrawled, result.PagesFailed)
	}

	var fallback int
	for _, p := range listPages(t, st, crawl.ID) {
		if !p.IsError() && p.Title == "Shell" && p.FetchMethod == model.FetchHTTP {
			fallback++
		}
	}
	if fallback != 1 {
		t.Errorf("HTTP fallback pages = %d, want 1", fallback)
	}
}

func countIssues(t *testing.T, st *store.Memory, crawlID, issueType string) int {
	t.Helper()
	all, err := st.ListIssues(context.Background(), crawlID)
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	n := 0
	for _, i := range all {
		if i.Type == issueType {
			n++
		}
	}
	return n
}

// =============================================================================
// Child record write Tests
// =============================================================================

// flakyLinkStore fails the first InsertLinks call.
type flakyLinkStore struct {
	*store.Memory
	failed atomic.Bool
}

func (s *flakyLinkStore) InsertLinks(ctx context.Context, links []*model.Link) error {
	if s.failed.CompareAndSwap(false, true) {
		return fmt.Errorf("connection reset by peer")
	}
	return s.Memory.InsertLinks(ctx, links)
}

func TestCrawl_ChildWriteFailureKeepsPage(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":  doc("Home", "/a"),
		"/a": doc("A"),
	})

	mem := store.NewMemory()
	st := &flakyLinkStore{Memory: mem}
	crawl := newTestCrawl(t, mem, site.URL, testPolicy())

	result := runCrawl(t, st, crawl)

	if result.PagesCrawled != 2 || result.PagesFailed != 0 {
		t.Errorf("crawled/failed = %d/%d, want 2/0", result.PagesCrawled, result.PagesFailed)
	}

	perURL := make(map[string]int)
	for _, p := range listPages(t, mem, crawl.ID) {
		key, _ := scope.Normalize(p.URL)
		perURL[key]++
		if p.IsError() {
			t.Errorf("unexpected error page %s", p.URL)
		}
	}
	for key, n := range perURL {
		if n != 1 {
			t.Errorf("%s stored %d times", key, n)
		}
	}
	if got := countIssues(t, mem, crawl.ID, issues.TypeCrawlError); got != 0 {
		t.Errorf("Crawl Error issues = %d, want 0", got)
	}
	if got := site.hitCount("GET /a"); got != 1 {
		t.Errorf("/a fetched %d times, want 1", got)
	}
}

// =============================================================================
// Frontier order and runtime Tests
// =============================================================================

func TestCrawl_NavigationLinksFirst(t *testing.T) {
	site := newTestSite(t, map[string]string{
		"/":      doc("Home", "/hub", "/other"),
		"/hub":   doc("Hub", "/x1", "/x2", "/about"),
		"/other": doc("Other"),
		"/x1":    doc("X1"),
		"/x2":    doc("X2"),
		"/about": doc("About"),
	})

	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())
	runCrawl(t, st, crawl)

	// /about is a navigation link found on /hub: it goes ahead of /other,
	// queued earlier, and of the plain links listed before it.
	want := []string{"/", "/hub", "/about", "/other", "/x1", "/x2"}
	got := site.fetchOrder()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("fetch order = %v, want %v", got, want)
	}
}

func TestCrawl_RuntimeExceeded(t *testing.T) {
	site := newTestSite(t, manyPages(20))
	site.delay = 300 * time.Millisecond

	st := store.NewMemory()
	policy := testPolicy()
	policy.MaxRuntimeSeconds = 1
	crawl := newTestCrawl(t, st, site.URL, policy)

	start := time.Now()
	result := runCrawl(t, st, crawl)

	if result.Reason != ReasonRuntimeExceeded {
		t.Errorf("Reason = %s, want %s", result.Reason, ReasonRuntimeExceeded)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("crawl ran %v past a 1s budget", elapsed)
	}
	if result.PagesCrawled < 1 || result.PagesCrawled > 4 {
		t.Errorf("PagesCrawled = %d, want 1..4", result.PagesCrawled)
	}
	if result.PagesFailed != 0 {
		t.Errorf("PagesFailed = %d, an interrupted fetch is not a crawl error", result.PagesFailed)
	}

	// Primary pages are still selected after the deadline.
	if result.PrimaryPages < 1 {
		t.Errorf("PrimaryPages = %d, want >= 1", result.PrimaryPages)
	}
	home := pageByPath(listPages(t, st, crawl.ID), "/")
	if home == nil || !home.IsPrimary {
		t.Error("homepage should be primary after a timed out crawl")
	}
}

// =============================================================================
// Stop and deletion Tests
// =============================================================================

func manyPages(n int) map[string]string {
	pages := map[string]string{}
	var links []string
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/p%d", i)
		links = append(links, path)
		pages[path] = doc(fmt.Sprintf("Page %d", i))
	}
	pages["/"] = doc("Home", links...)
	return pages
}

func TestCrawl_DeletedMidRun(t *testing.T) {
	site := newTestSite(t, manyPages(10))
	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())

	deleteOnce := sync.OnceFunc(func() {
		if err := st.DeleteCrawl(context.Background(), crawl.ID); err != nil {
			t.Errorf("DeleteCrawl() error = %v", err)
		}
	})

	result := runCrawl(t, st, crawl, WithProgressFunc(func(model.Progress) { deleteOnce() }))

	if !result.Deleted || result.Reason != ReasonDeleted {
		t.Errorf("result = %+v, want deleted", result)
	}
	if result.PagesCrawled != 1 {
		t.Errorf("PagesCrawled = %d, want 1", result.PagesCrawled)
	}
	if result.PrimaryPages != 0 {
		t.Error("primary pages are not selected for a deleted crawl")
	}
}

// vanishingStore reports the crawl as gone while still accepting writes.
type vanishingStore struct {
	*store.Memory
	gone atomic.Bool
}

func (s *vanishingStore) CrawlExists(ctx context.Context, id string) (bool, error) {
	if s.gone.Load() {
		return false, nil
	}
	return s.Memory.CrawlExists(ctx, id)
}

func TestCrawl_LivenessStopsDeletedCrawl(t *testing.T) {
	site := newTestSite(t, manyPages(20))
	site.delay = 20 * time.Millisecond

	mem := store.NewMemory()
	st := &vanishingStore{Memory: mem}
	crawl := newTestCrawl(t, mem, site.URL, testPolicy())

	result := runCrawl(t, st, crawl,
		WithLivenessInterval(5*time.Millisecond),
		WithProgressFunc(func(model.Progress) { st.gone.Store(true) }),
	)

	if !result.Deleted {
		t.Errorf("result = %+v, want deleted", result)
	}
	if result.PagesCrawled >= 21 {
		t.Errorf("PagesCrawled = %d, crawl should have stopped early", result.PagesCrawled)
	}
	for _, p := range listPages(t, mem, crawl.ID) {
		if p.IsPrimary {
			t.Errorf("page %s marked primary on a deleted crawl", p.URL)
		}
	}
}

func TestCrawl_Stop(t *testing.T) {
	site := newTestSite(t, manyPages(10))
	st := store.NewMemory()
	crawl := newTestCrawl(t, st, site.URL, testPolicy())

	var c *Crawler
	stopOnce := sync.OnceFunc(func() {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	c, err := New(crawl, st,
		WithConfig(testConfig()),
		WithLogger(logger.Nop()),
		WithProgressFunc(func(model.Progress) { stopOnce() }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.Reason != ReasonStopped || result.Deleted {
		t.Errorf("result = %+v, want stopped", result)
	}
	if result.PagesCrawled != 1 {
		t.Errorf("PagesCrawled = %d, want 1", result.PagesCrawled)
	}
	if result.PrimaryPages != 1 {
		t.Errorf("PrimaryPages = %d, want 1", result.PrimaryPages)
	}
	if c.Progress().Status != string(model.StatusStopped) {
		t.Errorf("Status = %s, want stopped", c.Progress().Status)
	}

	if _, err := c.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestStopReason(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  StopReason
	}{
		{"deleted", errors.ErrJobDeleted, ReasonDeleted},
		{"runtime", errors.ErrRuntimeExceeded, ReasonRuntimeExceeded},
		{"stopped", errors.ErrStopped, ReasonStopped},
		{"plain cancel", nil, ReasonStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancelCause(context.Background())
			cancel(tt.cause)
			if got := stopReason(ctx); got != tt.want {
				t.Errorf("stopReason() = %s, want %s", got, tt.want)
			}
		})
	}

	ctx, cancel := context.WithDeadlineCause(context.Background(), time.Now().Add(-time.Second), errors.ErrRuntimeExceeded)
	defer cancel()
	if got := stopReason(ctx); got != ReasonRuntimeExceeded {
		t.Errorf("expired deadline stopReason() = %s", got)
	}
}

// =============================================================================
// Progress Tests
// =============================================================================

func TestCrawler_Progress(t *testing.T) {
	policy := testPolicy()
	policy.MaxPages = 100
	crawl, err := model.NewCrawl("https://example.com", policy)
	if err != nil {
		t.Fatalf("NewCrawl() error = %v", err)
	}

	c := &Crawler{
		crawl:        crawl,
		status:       model.StatusRunning,
		pagesCrawled: 25,
		currentURL:   "https://example.com/about",
		startTime:    time.Now().Add(-10 * time.Second),
	}

	p := c.Progress()
	if p.Percentage != 25 {
		t.Errorf("Percentage = %v, want 25", p.Percentage)
	}
	if p.TotalPages != 100 || p.PagesCrawled != 25 || p.CurrentURL != "https://example.com/about" {
		t.Errorf("Progress = %+v", p)
	}
	// 10s for 25% leaves roughly 30s.
	if p.EstimatedRemaining < 29*time.Second || p.EstimatedRemaining > 32*time.Second {
		t.Errorf("EstimatedRemaining = %v, want ~30s", p.EstimatedRemaining)
	}

	idle := &Crawler{crawl: crawl, status: model.StatusQueued}
	if got := idle.Progress(); got.Percentage != 0 || got.EstimatedRemaining != 0 || got.Elapsed != 0 {
		t.Errorf("idle Progress = %+v", got)
	}
}
