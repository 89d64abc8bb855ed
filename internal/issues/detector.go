// Package issues turns crawl data into actionable audit findings: on-page
// checks run while each page is stored, and a post-crawl detector that looks
// across the whole site.
package issues

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
)

// Issue types produced by the post-crawl detector.
const (
	TypeBrokenLink           = "Links - Broken Internal Link"
	TypeBrokenImage          = "Images - Broken Image"
	TypeLargePage            = "Performance - Large Page Size"
	TypeMissingAlt           = "Accessibility - Missing Alt Text"
	TypeThinContent          = "Content - Thin Content"
	TypeOrphanPage           = "Content - Orphan Page"
	TypeDuplicateTitle       = "SEO - Duplicate Title Tag"
	TypeDuplicateDescription = "SEO - Duplicate Meta Description"
	TypeMissingH1            = "SEO - Missing H1 Heading"
)

// Thresholds.
const (
	LargePageBytes   = 3 * 1024 * 1024
	ThinContentWords = 300
	maxExamples      = 3
)

// binaryExtensions mark resource URLs that are never treated as HTML pages.
var binaryExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".zip": true, ".rar": true, ".tar": true,
	".gz": true, ".7z": true, ".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".svg": true, ".webp": true, ".ico": true, ".bmp": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".css": true, ".js": true, ".json": true, ".xml": true, ".txt": true,
	".csv": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
}

// Store is the read/write surface the detector needs.
type Store interface {
	GetCrawl(ctx context.Context, id string) (*model.Crawl, error)
	ListPages(ctx context.Context, crawlID string) ([]*model.Page, error)
	ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error)
	ListImages(ctx context.Context, crawlID string) ([]*model.Image, error)
	ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error)
	DeleteIssues(ctx context.Context, crawlID string) error
	InsertIssues(ctx context.Context, issues []*model.Issue) error
}

// Data is everything the detector reads for one crawl.
type Data struct {
	CrawlID string
	Target  string
	Pages   []*model.Page
	Links   []*model.Link
	Images  []*model.Image
}

// Detector regenerates the issue set of a crawl.
type Detector struct {
	store Store
	log   *logger.Logger
}

// NewDetector creates a detector.
func NewDetector(store Store, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{store: store, log: log.WithComponent("issues")}
}

// Run loads the crawl's records, computes its issues and replaces the
// detector issues stored before. Issues recorded while crawling (page checks
// and crawl errors) are kept. It returns the number of detector issues
// written.
func (d *Detector) Run(ctx context.Context, crawlID string) (int, error) {
	crawl, err := d.store.GetCrawl(ctx, crawlID)
	if err != nil {
		return 0, err
	}
	data := Data{CrawlID: crawlID, Target: crawl.URL}
	if data.Pages, err = d.store.ListPages(ctx, crawlID); err != nil {
		return 0, err
	}
	if data.Links, err = d.store.ListLinks(ctx, crawlID); err != nil {
		return 0, err
	}
	if data.Images, err = d.store.ListImages(ctx, crawlID); err != nil {
		return 0, err
	}

	found, err := Detect(data)
	if err != nil {
		return 0, err
	}

	prior, err := d.store.ListIssues(ctx, crawlID)
	if err != nil {
		return 0, err
	}
	keep := crawlTimeIssues(prior)

	if err := d.store.DeleteIssues(ctx, crawlID); err != nil {
		return 0, err
	}
	if err := d.store.InsertIssues(ctx, append(keep, found...)); err != nil {
		return 0, err
	}

	d.log.WithCrawl(crawlID).Infof("Issue detection complete: %d issues", len(found))
	return len(found), nil
}

type draft struct {
	pageID   string
	typ      string
	severity model.Severity
	message  string
	pointer  string
	context  string
}

// Detect computes the issues for data. It is pure: nothing is read or written.
func Detect(data Data) ([]*model.Issue, error) {
	var drafts []draft

	pagesByID := make(map[string]*model.Page, len(data.Pages))
	for _, p := range data.Pages {
		pagesByID[p.ID] = p
	}

	// Broken internal links, one issue per link.
	for _, l := range data.Links {
		if !l.IsInternal || l.StatusCode == nil || *l.StatusCode < 400 {
			continue
		}
		source := ""
		if p := pagesByID[l.SourcePageID]; p != nil {
			source = p.URL
		}
		drafts = append(drafts, draft{
			pageID:   l.SourcePageID,
			typ:      TypeBrokenLink,
			severity: model.SeverityCritical,
			message:  fmt.Sprintf("Internal link returns %d error. Update or remove this broken link.", *l.StatusCode),
			pointer:  l.TargetURL,
			context:  source,
		})
	}

	broken := make(map[string][]string)
	missingAlt := make(map[string][]string)
	for _, img := range data.Images {
		if img.IsBroken || (img.StatusCode != nil && *img.StatusCode >= 400) {
			broken[img.PageID] = append(broken[img.PageID], img.Src)
		}
		if !img.HasAlt || strings.TrimSpace(img.Alt) == "" {
			missingAlt[img.PageID] = append(missingAlt[img.PageID], img.Src)
		}
	}

	homepage := findHomepage(data.Target, data.Pages)
	linked := linkedTargets(data.Links)

	for _, p := range data.Pages {
		if p.IsError() {
			continue
		}

		if srcs := broken[p.ID]; len(srcs) > 0 {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeBrokenImage,
				severity: model.SeverityHigh,
				message:  fmt.Sprintf("%d broken image%s on this page. Replace or remove broken images.", len(srcs), plural(len(srcs))),
				pointer:  examples(srcs),
				context:  p.URL,
			})
		}

		if p.SizeBytes > LargePageBytes {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeLargePage,
				severity: model.SeverityHigh,
				message: fmt.Sprintf("Page size is %.2fMB (recommended: < 3MB). Optimize images, minify CSS/JS, and enable compression.",
					float64(p.SizeBytes)/(1024*1024)),
				context: p.URL,
			})
		}

		if srcs := missingAlt[p.ID]; len(srcs) > 0 {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeMissingAlt,
				severity: model.SeverityHigh,
				message: fmt.Sprintf("%d image%s missing alt text. Add descriptive alt text for screen readers and accessibility compliance.",
					len(srcs), plural(len(srcs))),
				pointer: examples(srcs),
				context: p.URL,
			})
		}

		if !IsHTMLPage(p) {
			continue
		}

		if p.WordCount < ThinContentWords {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeThinContent,
				severity: model.SeverityMedium,
				message: fmt.Sprintf("Page has only %d words (recommended: 300+ words). Expand content with valuable information to improve SEO and user engagement.",
					p.WordCount),
				context: p.URL,
			})
		}

		if p != homepage && !linked[normalized(p.URL)] {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeOrphanPage,
				severity: model.SeverityMedium,
				message:  "Page has no internal links pointing to it. Add internal links from related pages to improve discoverability and SEO.",
				context:  p.URL,
			})
		}

		if !hasH1(p) {
			drafts = append(drafts, draft{
				pageID:   p.ID,
				typ:      TypeMissingH1,
				severity: model.SeverityMedium,
				message:  "Page is missing an H1 heading. Add a descriptive H1 that clearly describes the page content for better SEO and accessibility.",
				context:  p.URL,
			})
		}
	}

	unique := dedupePages(data.Pages)

	for _, g := range groupBy(unique, func(p *model.Page) string { return p.Title }) {
		drafts = append(drafts, draft{
			typ:      TypeDuplicateTitle,
			severity: model.SeverityHigh,
			message: fmt.Sprintf("Title '%s' is used on %d pages. Create unique, descriptive titles for each page to improve search rankings.",
				g.key, len(g.urls)),
			pointer: g.key,
			context: examples(g.urls),
		})
	}

	for _, g := range groupBy(unique, func(p *model.Page) string { return p.MetaDescription }) {
		shown := g.key
		if len([]rune(shown)) > 50 {
			shown = string([]rune(shown)[:50]) + "..."
		}
		drafts = append(drafts, draft{
			typ:      TypeDuplicateDescription,
			severity: model.SeverityMedium,
			message: fmt.Sprintf("Meta description '%s' is used on %d pages. Write unique, compelling descriptions to improve click-through rates.",
				shown, len(g.urls)),
			pointer: g.key,
			context: examples(g.urls),
		})
	}

	out := make([]*model.Issue, 0, len(drafts))
	for _, d := range drafts {
		rec := model.Issue{
			CrawlID:  data.CrawlID,
			Type:     d.typ,
			Severity: d.severity,
			Message:  d.message,
			Pointer:  d.pointer,
			Context:  d.context,
		}
		if d.pageID != "" {
			rec.PageID = model.StringPtr(d.pageID)
		}
		issue, err := model.NewIssue(rec)
		if err != nil {
			return nil, errors.NewAuditError(errors.Unknown, "", "detect issues", "invalid issue", err)
		}
		out = append(out, issue)
	}
	return out, nil
}

// crawlTimeIssues returns the issues written by the crawl loop itself.
func crawlTimeIssues(all []*model.Issue) []*model.Issue {
	var out []*model.Issue
	for _, i := range all {
		switch i.Type {
		case TypeSEO, TypeTechnical, TypeCrawlError:
			out = append(out, i)
		}
	}
	return out
}

// IsHTMLPage reports whether p is an HTML document rather than a resource
// such as a PDF or an image, judged by content type and URL extension.
func IsHTMLPage(p *model.Page) bool {
	if p.IsError() {
		return false
	}
	if !strings.Contains(strings.ToLower(p.ContentType), "html") {
		return false
	}
	if u, err := url.Parse(p.URL); err == nil {
		if binaryExtensions[strings.ToLower(path.Ext(u.Path))] {
			return false
		}
	}
	return true
}

func hasH1(p *model.Page) bool {
	for _, h := range p.H1 {
		if strings.TrimSpace(h) != "" {
			return true
		}
	}
	return false
}

// findHomepage returns the page whose normalized URL equals the crawl
// target's, else the first page.
func findHomepage(target string, pages []*model.Page) *model.Page {
	if len(pages) == 0 {
		return nil
	}
	want := normalized(target)
	for _, p := range pages {
		if normalized(p.URL) == want {
			return p
		}
	}
	return pages[0]
}

func linkedTargets(links []*model.Link) map[string]bool {
	out := make(map[string]bool)
	for _, l := range links {
		if l.IsInternal {
			out[normalized(l.TargetURL)] = true
		}
	}
	return out
}

func normalized(raw string) string {
	n, err := scope.Normalize(raw)
	if err != nil {
		return raw
	}
	return n
}

// pageKey identifies the underlying page behind URL variants: normalized,
// without "www." and without a trailing slash.
func pageKey(raw string) string {
	n := normalized(raw)
	u, err := url.Parse(n)
	if err != nil {
		return strings.TrimSuffix(n, "/")
	}
	u.Host = scope.StripWWW(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

// dedupePages keeps the first HTML page of every page key.
func dedupePages(pages []*model.Page) []*model.Page {
	seen := make(map[string]bool)
	out := make([]*model.Page, 0, len(pages))
	for _, p := range pages {
		if !IsHTMLPage(p) {
			continue
		}
		key := pageKey(p.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

type group struct {
	key  string
	urls []string
}

// groupBy returns the groups of two or more pages sharing a non-empty key,
// in order of first appearance.
func groupBy(pages []*model.Page, key func(*model.Page) string) []group {
	index := make(map[string]int)
	var groups []group
	for _, p := range pages {
		k := strings.TrimSpace(key(p))
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{key: k})
		}
		groups[i].urls = append(groups[i].urls, p.URL)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.urls) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// examples joins up to three values, adding "..." when there are more.
func examples(values []string) string {
	if len(values) <= maxExamples {
		return strings.Join(values, ", ")
	}
	return strings.Join(values[:maxExamples], ", ") + "..."
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
