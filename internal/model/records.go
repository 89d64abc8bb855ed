package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FetchMethod records how a page body was obtained.
type FetchMethod string

// Fetch methods.
const (
	FetchHTTP     FetchMethod = "http"
	FetchRendered FetchMethod = "rendered"
)

// Severity ranks an issue.
type Severity string

// Issue severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// ContentTypeError marks the synthetic page stored for a failed fetch.
const ContentTypeError = "error"

// ExcerptLimit caps the stored page text.
const ExcerptLimit = 5000

// Page is one fetched URL.
type Page struct {
	ID              string      `json:"id"`
	CrawlID         string      `json:"crawl_id"`
	URL             string      `json:"url"`
	FinalURL        string      `json:"final_url"`
	StatusCode      int         `json:"status_code"`
	ContentType     string      `json:"content_type"`
	FetchMethod     FetchMethod `json:"fetch_method"`
	RenderMS        int64       `json:"render_ms"`
	ContentHash     string      `json:"content_hash"`
	WordCount       int         `json:"word_count"`
	SizeBytes       int         `json:"size_bytes"`
	NavScore        int         `json:"nav_score"`
	IsPrimary       bool        `json:"is_primary"`
	Depth           int         `json:"depth"`
	Title           string      `json:"title"`
	MetaDescription string      `json:"meta_description"`
	H1              []string    `json:"h1_tags"`
	H2              []string    `json:"h2_tags"`
	TextExcerpt     string      `json:"text_excerpt"`
	InternalLinks   int         `json:"internal_links_count"`
	ExternalLinks   int         `json:"external_links_count"`
	ImagesCount     int         `json:"images_count"`
	SEOScore        int         `json:"seo_score"`
	SnapshotPath    string      `json:"snapshot_path,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewPage validates p, assigns an ID and timestamps it.
func NewPage(p Page) (*Page, error) {
	if p.CrawlID == "" {
		return nil, fmt.Errorf("page: crawl_id is required")
	}
	if p.URL == "" {
		return nil, fmt.Errorf("page: url is required")
	}
	if p.NavScore < 0 {
		return nil, fmt.Errorf("page: nav_score must be >= 0, got %d", p.NavScore)
	}
	if p.Depth < 0 {
		return nil, fmt.Errorf("page: depth must be >= 0, got %d", p.Depth)
	}
	switch p.FetchMethod {
	case "":
		p.FetchMethod = FetchHTTP
	case FetchHTTP, FetchRendered:
	default:
		return nil, fmt.Errorf("page: unknown fetch method %q", p.FetchMethod)
	}
	if p.FinalURL == "" {
		p.FinalURL = p.URL
	}
	if len(p.TextExcerpt) > ExcerptLimit {
		p.TextExcerpt = p.TextExcerpt[:ExcerptLimit]
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	return &p, nil
}

// IsError reports whether p is the synthetic record of a failed fetch.
func (p *Page) IsError() bool {
	return p.StatusCode == 0 && p.ContentType == ContentTypeError
}

// SEOMetadata holds the search-facing signals of one page.
type SEOMetadata struct {
	ID                    string            `json:"id"`
	CrawlID               string            `json:"crawl_id"`
	PageID                string            `json:"page_id"`
	Title                 string            `json:"title"`
	TitleLength           int               `json:"title_length"`
	MetaDescription       string            `json:"meta_description"`
	MetaDescriptionLength int               `json:"meta_description_length"`
	H1                    string            `json:"h1"`
	H2                    []string          `json:"h2"`
	RobotsMeta            string            `json:"robots_meta"`
	Canonical             string            `json:"canonical"`
	Hreflang              map[string]string `json:"hreflang,omitempty"`
	OGTags                map[string]string `json:"og_tags,omitempty"`
	TwitterTags           map[string]string `json:"twitter_tags,omitempty"`
	JSONLD                map[string]any    `json:"json_ld,omitempty"`
	ImageAltMissingCount  int               `json:"image_alt_missing_count"`
	InternalLinks         int               `json:"internal_links"`
	ExternalLinks         int               `json:"external_links"`
}

// NewSEOMetadata validates m and assigns an ID.
func NewSEOMetadata(m SEOMetadata) (*SEOMetadata, error) {
	if m.PageID == "" {
		return nil, fmt.Errorf("seo metadata: page_id is required")
	}
	m.TitleLength = len([]rune(m.Title))
	m.MetaDescriptionLength = len([]rune(m.MetaDescription))
	if len(m.H2) > 5 {
		m.H2 = m.H2[:5]
	}
	m.ID = uuid.NewString()
	return &m, nil
}

// AnchorTextLimit caps stored anchor text and image alt text.
const AnchorTextLimit = 500

// Link is one anchor discovered on a page.
type Link struct {
	ID           string    `json:"id"`
	CrawlID      string    `json:"crawl_id"`
	SourcePageID string    `json:"source_page_id"`
	TargetURL    string    `json:"target_url"`
	IsInternal   bool      `json:"is_internal"`
	Depth        int       `json:"depth"`
	NavScore     int       `json:"nav_score"`
	IsNavigation bool      `json:"is_navigation"`
	StatusCode   *int      `json:"status_code,omitempty"`
	AnchorText   string    `json:"anchor_text"`
	IsNofollow   bool      `json:"is_nofollow"`
	LatencyMS    int64     `json:"latency_ms,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewLink validates l and assigns an ID.
func NewLink(l Link) (*Link, error) {
	if l.CrawlID == "" || l.SourcePageID == "" {
		return nil, fmt.Errorf("link: crawl_id and source_page_id are required")
	}
	if l.TargetURL == "" {
		return nil, fmt.Errorf("link: target_url is required")
	}
	if l.NavScore < 0 {
		return nil, fmt.Errorf("link: nav_score must be >= 0, got %d", l.NavScore)
	}
	if l.Depth < 0 {
		return nil, fmt.Errorf("link: depth must be >= 0, got %d", l.Depth)
	}
	l.AnchorText = truncateRunes(l.AnchorText, AnchorTextLimit)
	if len(l.Error) > 500 {
		l.Error = l.Error[:500]
	}
	l.ID = uuid.NewString()
	l.CreatedAt = time.Now().UTC()
	return &l, nil
}

// Image is one <img> found on a page.
type Image struct {
	ID         string `json:"id"`
	CrawlID    string `json:"crawl_id"`
	PageID     string `json:"page_id"`
	Src        string `json:"src"`
	Alt        string `json:"alt"`
	Title      string `json:"title"`
	HasAlt     bool   `json:"has_alt"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
	IsBroken   bool   `json:"is_broken"`
	StatusCode *int   `json:"status_code,omitempty"`
}

// NewImage validates img and assigns an ID.
func NewImage(img Image) (*Image, error) {
	if img.CrawlID == "" || img.PageID == "" {
		return nil, fmt.Errorf("image: crawl_id and page_id are required")
	}
	if img.Src == "" {
		return nil, fmt.Errorf("image: src is required")
	}
	img.Alt = truncateRunes(img.Alt, AnchorTextLimit)
	img.Title = truncateRunes(img.Title, AnchorTextLimit)
	img.ID = uuid.NewString()
	return &img, nil
}

// Issue is one actionable finding.
type Issue struct {
	ID        string    `json:"id"`
	CrawlID   string    `json:"crawl_id"`
	PageID    *string   `json:"page_id,omitempty"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Pointer   string    `json:"pointer,omitempty"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewIssue validates i and assigns an ID.
func NewIssue(i Issue) (*Issue, error) {
	if i.CrawlID == "" {
		return nil, fmt.Errorf("issue: crawl_id is required")
	}
	if i.Type == "" || i.Message == "" {
		return nil, fmt.Errorf("issue: type and message are required")
	}
	if !i.Severity.Valid() {
		return nil, fmt.Errorf("issue: unknown severity %q", i.Severity)
	}
	i.ID = uuid.NewString()
	i.CreatedAt = time.Now().UTC()
	return &i, nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
