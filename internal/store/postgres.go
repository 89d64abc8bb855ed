package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// Postgres implements Store on PostgreSQL. Column names live only in this
// file; the row types below translate between them and the model records.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.NewStorageError("connect", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS crawls (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		internal_depth INTEGER NOT NULL,
		external_depth INTEGER NOT NULL,
		max_pages INTEGER NOT NULL,
		max_runtime_sec INTEGER NOT NULL,
		rate_limit DOUBLE PRECISION NOT NULL,
		follow_external BOOLEAN NOT NULL,
		max_external_domains INTEGER NOT NULL,
		respect_robots_txt BOOLEAN NOT NULL,
		js_rendering BOOLEAN NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		pages_crawled INTEGER NOT NULL DEFAULT 0,
		total_links INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		final_url TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		render_ms BIGINT NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		word_count INTEGER NOT NULL DEFAULT 0,
		page_size_bytes INTEGER NOT NULL DEFAULT 0,
		nav_score INTEGER NOT NULL DEFAULT 0 CHECK (nav_score >= 0),
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		depth INTEGER NOT NULL CHECK (depth >= 0),
		title TEXT NOT NULL DEFAULT '',
		meta_description TEXT NOT NULL DEFAULT '',
		h1_tags TEXT[] NOT NULL DEFAULT '{}',
		h2_tags TEXT[] NOT NULL DEFAULT '{}',
		text_excerpt TEXT NOT NULL DEFAULT '',
		internal_links_count INTEGER NOT NULL DEFAULT 0,
		external_links_count INTEGER NOT NULL DEFAULT 0,
		images_count INTEGER NOT NULL DEFAULT 0,
		seo_score INTEGER NOT NULL DEFAULT 0,
		html_storage_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pages_crawl_id_idx ON pages (crawl_id, seq)`,
	`CREATE TABLE IF NOT EXISTS seo_metadata (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		title_length INTEGER NOT NULL DEFAULT 0,
		meta_description TEXT NOT NULL DEFAULT '',
		meta_description_length INTEGER NOT NULL DEFAULT 0,
		h1 TEXT NOT NULL DEFAULT '',
		h2 TEXT[] NOT NULL DEFAULT '{}',
		robots_meta TEXT NOT NULL DEFAULT '',
		canonical TEXT NOT NULL DEFAULT '',
		hreflang JSONB,
		og_tags JSONB,
		twitter_tags JSONB,
		json_ld JSONB,
		image_alt_missing_count INTEGER NOT NULL DEFAULT 0,
		internal_links INTEGER NOT NULL DEFAULT 0,
		external_links INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		source_page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		is_internal BOOLEAN NOT NULL,
		depth INTEGER NOT NULL,
		nav_score INTEGER NOT NULL DEFAULT 0,
		is_navigation BOOLEAN NOT NULL DEFAULT FALSE,
		status_code INTEGER,
		anchor_text TEXT NOT NULL DEFAULT '',
		is_nofollow BOOLEAN NOT NULL DEFAULT FALSE,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS links_crawl_id_idx ON links (crawl_id, seq)`,
	`CREATE TABLE IF NOT EXISTS images (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
		src TEXT NOT NULL,
		alt TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		has_alt BOOLEAN NOT NULL DEFAULT FALSE,
		width INTEGER,
		height INTEGER,
		is_broken BOOLEAN NOT NULL DEFAULT FALSE,
		status_code INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS issues (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		page_id TEXT REFERENCES pages(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		pointer TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageError("migrate", err)
		}
	}
	return nil
}

// mapErr turns a foreign key violation into ErrJobDeleted and anything else
// into a storage error.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == foreignKeyViolation {
		return fmt.Errorf("%s: %w", op, errors.ErrJobDeleted)
	}
	return errors.NewStorageError(op, err)
}

// ---- rows ----

type crawlRow struct {
	ID                 string     `db:"id"`
	URL                string     `db:"url"`
	Name               string     `db:"name"`
	InternalDepth      int        `db:"internal_depth"`
	ExternalDepth      int        `db:"external_depth"`
	MaxPages           int        `db:"max_pages"`
	MaxRuntimeSec      int        `db:"max_runtime_sec"`
	RateLimit          float64    `db:"rate_limit"`
	FollowExternal     bool       `db:"follow_external"`
	MaxExternalDomains int        `db:"max_external_domains"`
	RespectRobots      bool       `db:"respect_robots_txt"`
	JSRendering        bool       `db:"js_rendering"`
	UserAgent          string     `db:"user_agent"`
	Status             string     `db:"status"`
	Error              string     `db:"error"`
	PagesCrawled       int        `db:"pages_crawled"`
	TotalLinks         int        `db:"total_links"`
	CreatedAt          time.Time  `db:"created_at"`
	StartedAt          *time.Time `db:"started_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

const crawlColumns = `id, url, name, internal_depth, external_depth, max_pages, max_runtime_sec,
	rate_limit, follow_external, max_external_domains, respect_robots_txt, js_rendering,
	user_agent, status, error, pages_crawled, total_links, created_at, started_at,
	completed_at, updated_at`

func toCrawlRow(c *model.Crawl) crawlRow {
	return crawlRow{
		ID:                 c.ID,
		URL:                c.URL,
		Name:               c.Name,
		InternalDepth:      c.Policy.MaxDepthInternal,
		ExternalDepth:      c.Policy.MaxDepthExternal,
		MaxPages:           c.Policy.MaxPages,
		MaxRuntimeSec:      c.Policy.MaxRuntimeSeconds,
		RateLimit:          c.Policy.RateLimitRPS,
		FollowExternal:     c.Policy.FollowExternal,
		MaxExternalDomains: c.Policy.MaxExternalDomains,
		RespectRobots:      c.Policy.RespectRobots,
		JSRendering:        c.Policy.JSRendering,
		UserAgent:          c.Policy.UserAgent,
		Status:             string(c.Status),
		Error:              c.Error,
		PagesCrawled:       c.PagesCrawled,
		TotalLinks:         c.TotalLinks,
		CreatedAt:          c.CreatedAt,
		StartedAt:          c.StartedAt,
		CompletedAt:        c.CompletedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (r crawlRow) model() *model.Crawl {
	return &model.Crawl{
		ID:   r.ID,
		URL:  r.URL,
		Name: r.Name,
		Policy: model.Policy{
			MaxDepthInternal:   r.InternalDepth,
			MaxDepthExternal:   r.ExternalDepth,
			MaxPages:           r.MaxPages,
			MaxRuntimeSeconds:  r.MaxRuntimeSec,
			RateLimitRPS:       r.RateLimit,
			FollowExternal:     r.FollowExternal,
			MaxExternalDomains: r.MaxExternalDomains,
			RespectRobots:      r.RespectRobots,
			JSRendering:        r.JSRendering,
			UserAgent:          r.UserAgent,
		},
		Status:       model.Status(r.Status),
		Error:        r.Error,
		PagesCrawled: r.PagesCrawled,
		TotalLinks:   r.TotalLinks,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type pageRow struct {
	ID              string         `db:"id"`
	CrawlID         string         `db:"crawl_id"`
	URL             string         `db:"url"`
	FinalURL        string         `db:"final_url"`
	StatusCode      int            `db:"status_code"`
	ContentType     string         `db:"content_type"`
	Method          string         `db:"method"`
	RenderMS        int64          `db:"render_ms"`
	ContentHash     string         `db:"content_hash"`
	WordCount       int            `db:"word_count"`
	SizeBytes       int            `db:"page_size_bytes"`
	NavScore        int            `db:"nav_score"`
	IsPrimary       bool           `db:"is_primary"`
	Depth           int            `db:"depth"`
	Title           string         `db:"title"`
	MetaDescription string         `db:"meta_description"`
	H1              pq.StringArray `db:"h1_tags"`
	H2              pq.StringArray `db:"h2_tags"`
	TextExcerpt     string         `db:"text_excerpt"`
	InternalLinks   int            `db:"internal_links_count"`
	ExternalLinks   int            `db:"external_links_count"`
	ImagesCount     int            `db:"images_count"`
	SEOScore        int            `db:"seo_score"`
	SnapshotPath    string         `db:"html_storage_path"`
	Error           string         `db:"error"`
	CreatedAt       time.Time      `db:"created_at"`
}

const pageColumns = `id, crawl_id, url, final_url, status_code, content_type, method, render_ms,
	content_hash, word_count, page_size_bytes, nav_score, is_primary, depth, title,
	meta_description, h1_tags, h2_tags, text_excerpt, internal_links_count,
	external_links_count, images_count, seo_score, html_storage_path, error, created_at`

func toPageRow(p *model.Page) pageRow {
	return pageRow{
		ID: p.ID, CrawlID: p.CrawlID, URL: p.URL, FinalURL: p.FinalURL,
		StatusCode: p.StatusCode, ContentType: p.ContentType, Method: string(p.FetchMethod),
		RenderMS: p.RenderMS, ContentHash: p.ContentHash, WordCount: p.WordCount,
		SizeBytes: p.SizeBytes, NavScore: p.NavScore, IsPrimary: p.IsPrimary, Depth: p.Depth,
		Title: p.Title, MetaDescription: p.MetaDescription,
		H1: pq.StringArray(nonNil(p.H1)), H2: pq.StringArray(nonNil(p.H2)),
		TextExcerpt: p.TextExcerpt, InternalLinks: p.InternalLinks, ExternalLinks: p.ExternalLinks,
		ImagesCount: p.ImagesCount, SEOScore: p.SEOScore, SnapshotPath: p.SnapshotPath,
		Error: p.Error, CreatedAt: p.CreatedAt,
	}
}

func (r pageRow) model() *model.Page {
	return &model.Page{
		ID: r.ID, CrawlID: r.CrawlID, URL: r.URL, FinalURL: r.FinalURL,
		StatusCode: r.StatusCode, ContentType: r.ContentType, FetchMethod: model.FetchMethod(r.Method),
		RenderMS: r.RenderMS, ContentHash: r.ContentHash, WordCount: r.WordCount,
		SizeBytes: r.SizeBytes, NavScore: r.NavScore, IsPrimary: r.IsPrimary, Depth: r.Depth,
		Title: r.Title, MetaDescription: r.MetaDescription, H1: []string(r.H1), H2: []string(r.H2),
		TextExcerpt: r.TextExcerpt, InternalLinks: r.InternalLinks, ExternalLinks: r.ExternalLinks,
		ImagesCount: r.ImagesCount, SEOScore: r.SEOScore, SnapshotPath: r.SnapshotPath,
		Error: r.Error, CreatedAt: r.CreatedAt,
	}
}

type seoRow struct {
	ID                    string         `db:"id"`
	CrawlID               string         `db:"crawl_id"`
	PageID                string         `db:"page_id"`
	Title                 string         `db:"title"`
	TitleLength           int            `db:"title_length"`
	MetaDescription       string         `db:"meta_description"`
	MetaDescriptionLength int            `db:"meta_description_length"`
	H1                    string         `db:"h1"`
	H2                    pq.StringArray `db:"h2"`
	RobotsMeta            string         `db:"robots_meta"`
	Canonical             string         `db:"canonical"`
	Hreflang              jsonb          `db:"hreflang"`
	OGTags                jsonb          `db:"og_tags"`
	TwitterTags           jsonb          `db:"twitter_tags"`
	JSONLD                jsonb          `db:"json_ld"`
	ImageAltMissingCount  int            `db:"image_alt_missing_count"`
	InternalLinks         int            `db:"internal_links"`
	ExternalLinks         int            `db:"external_links"`
}

const seoColumns = `id, crawl_id, page_id, title, title_length, meta_description,
	meta_description_length, h1, h2, robots_meta, canonical, hreflang, og_tags,
	twitter_tags, json_ld, image_alt_missing_count, internal_links, external_links`

// jsonb is a nullable JSONB column. lib/pq sends []byte as bytea, so the
// value goes out as text.
type jsonb []byte

// Value implements driver.Valuer.
func (j jsonb) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *jsonb) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = jsonb(v)
	default:
		return fmt.Errorf("cannot scan %T into jsonb", src)
	}
	return nil
}

func jsonColumn(v any) (jsonb, error) {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(m) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func toSEORow(m *model.SEOMetadata) (seoRow, error) {
	row := seoRow{
		ID: m.ID, CrawlID: m.CrawlID, PageID: m.PageID, Title: m.Title, TitleLength: m.TitleLength,
		MetaDescription: m.MetaDescription, MetaDescriptionLength: m.MetaDescriptionLength,
		H1: m.H1, H2: pq.StringArray(nonNil(m.H2)), RobotsMeta: m.RobotsMeta, Canonical: m.Canonical,
		ImageAltMissingCount: m.ImageAltMissingCount, InternalLinks: m.InternalLinks,
		ExternalLinks: m.ExternalLinks,
	}
	var err error
	if row.Hreflang, err = jsonColumn(m.Hreflang); err != nil {
		return row, err
	}
	if row.OGTags, err = jsonColumn(m.OGTags); err != nil {
		return row, err
	}
	if row.TwitterTags, err = jsonColumn(m.TwitterTags); err != nil {
		return row, err
	}
	if row.JSONLD, err = jsonColumn(m.JSONLD); err != nil {
		return row, err
	}
	return row, nil
}

func (r seoRow) model() (*model.SEOMetadata, error) {
	m := &model.SEOMetadata{
		ID: r.ID, CrawlID: r.CrawlID, PageID: r.PageID, Title: r.Title, TitleLength: r.TitleLength,
		MetaDescription: r.MetaDescription, MetaDescriptionLength: r.MetaDescriptionLength,
		H1: r.H1, H2: []string(r.H2), RobotsMeta: r.RobotsMeta, Canonical: r.Canonical,
		ImageAltMissingCount: r.ImageAltMissingCount, InternalLinks: r.InternalLinks,
		ExternalLinks: r.ExternalLinks,
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{r.Hreflang, &m.Hreflang},
		{r.OGTags, &m.OGTags},
		{r.TwitterTags, &m.TwitterTags},
		{r.JSONLD, &m.JSONLD},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type linkRow struct {
	ID           string    `db:"id"`
	CrawlID      string    `db:"crawl_id"`
	SourcePageID string    `db:"source_page_id"`
	URL          string    `db:"url"`
	IsInternal   bool      `db:"is_internal"`
	Depth        int       `db:"depth"`
	NavScore     int       `db:"nav_score"`
	IsNavigation bool      `db:"is_navigation"`
	StatusCode   *int      `db:"status_code"`
	AnchorText   string    `db:"anchor_text"`
	IsNofollow   bool      `db:"is_nofollow"`
	LatencyMS    int64     `db:"latency_ms"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
}

const linkColumns = `id, crawl_id, source_page_id, url, is_internal, depth, nav_score,
	is_navigation, status_code, anchor_text, is_nofollow, latency_ms, error_message, created_at`

func toLinkRow(l *model.Link) linkRow {
	return linkRow{
		ID: l.ID, CrawlID: l.CrawlID, SourcePageID: l.SourcePageID, URL: l.TargetURL,
		IsInternal: l.IsInternal, Depth: l.Depth, NavScore: l.NavScore, IsNavigation: l.IsNavigation,
		StatusCode: l.StatusCode, AnchorText: l.AnchorText, IsNofollow: l.IsNofollow,
		LatencyMS: l.LatencyMS, ErrorMessage: l.Error, CreatedAt: l.CreatedAt,
	}
}

func (r linkRow) model() *model.Link {
	return &model.Link{
		ID: r.ID, CrawlID: r.CrawlID, SourcePageID: r.SourcePageID, TargetURL: r.URL,
		IsInternal: r.IsInternal, Depth: r.Depth, NavScore: r.NavScore, IsNavigation: r.IsNavigation,
		StatusCode: r.StatusCode, AnchorText: r.AnchorText, IsNofollow: r.IsNofollow,
		LatencyMS: r.LatencyMS, Error: r.ErrorMessage, CreatedAt: r.CreatedAt,
	}
}

type imageRow struct {
	ID         string `db:"id"`
	CrawlID    string `db:"crawl_id"`
	PageID     string `db:"page_id"`
	Src        string `db:"src"`
	Alt        string `db:"alt"`
	Title      string `db:"title"`
	HasAlt     bool   `db:"has_alt"`
	Width      *int   `db:"width"`
	Height     *int   `db:"height"`
	IsBroken   bool   `db:"is_broken"`
	StatusCode *int   `db:"status_code"`
}

const imageColumns = `id, crawl_id, page_id, src, alt, title, has_alt, width, height,
	is_broken, status_code`

type issueRow struct {
	ID        string    `db:"id"`
	CrawlID   string    `db:"crawl_id"`
	PageID    *string   `db:"page_id"`
	Type      string    `db:"type"`
	Severity  string    `db:"severity"`
	Message   string    `db:"message"`
	Pointer   string    `db:"pointer"`
	Context   string    `db:"context"`
	CreatedAt time.Time `db:"created_at"`
}

const issueColumns = `id, crawl_id, page_id, type, severity, message, pointer, context, created_at`

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func namedInsert(table, columns string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, namedParams(columns))
}

// namedParams turns "a, b" into ":a, :b".
func namedParams(columns string) string {
	out := make([]byte, 0, len(columns)*2)
	start := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		if start && c != ' ' && c != '\n' && c != '\t' {
			out = append(out, ':')
			start = false
		}
		out = append(out, c)
		if c == ',' {
			start = true
		}
	}
	return string(out)
}

// ---- crawls ----

// CreateCrawl stores a new crawl.
func (s *Postgres) CreateCrawl(ctx context.Context, crawl *model.Crawl) error {
	_, err := s.db.NamedExecContext(ctx, namedInsert("crawls", crawlColumns), toCrawlRow(crawl))
	return mapErr("create crawl", err)
}

// GetCrawl loads a crawl.
func (s *Postgres) GetCrawl(ctx context.Context, id string) (*model.Crawl, error) {
	var row crawlRow
	err := s.db.GetContext(ctx, &row, "SELECT "+crawlColumns+" FROM crawls WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, mapErr("get crawl", err)
	}
	return row.model(), nil
}

// CrawlExists reports whether the crawl is present.
func (s *Postgres) CrawlExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM crawls WHERE id = $1)", id)
	if err != nil {
		return false, mapErr("crawl exists", err)
	}
	return exists, nil
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// UpdateProgress records crawl progress.
func (s *Postgres) UpdateProgress(ctx context.Context, id string, pagesCrawled, totalLinks int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE crawls SET pages_crawled = $2, total_links = $3, updated_at = $4 WHERE id = $1",
		id, pagesCrawled, totalLinks, time.Now().UTC())
	if err != nil {
		return mapErr("update progress", err)
	}
	return affected(res, id)
}

// UpdateStatus moves the crawl to status.
func (s *Postgres) UpdateStatus(ctx context.Context, id string, status model.Status, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE crawls SET
		status = $2,
		error = $3,
		updated_at = $4,
		started_at = CASE WHEN $5 AND started_at IS NULL THEN $4 ELSE started_at END,
		completed_at = CASE WHEN $6 THEN $4 ELSE completed_at END
		WHERE id = $1`,
		id, string(status), errMsg, now, status == model.StatusRunning, status.Terminal())
	if err != nil {
		return mapErr("update status", err)
	}
	return affected(res, id)
}

// ListCrawlsByStatus returns crawls in any of statuses, oldest first.
func (s *Postgres) ListCrawlsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Crawl, error) {
	var rows []crawlRow
	var err error
	if len(statuses) == 0 {
		err = s.db.SelectContext(ctx, &rows, "SELECT "+crawlColumns+" FROM crawls ORDER BY created_at")
	} else {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		err = s.db.SelectContext(ctx, &rows,
			"SELECT "+crawlColumns+" FROM crawls WHERE status = ANY($1) ORDER BY created_at",
			pq.Array(names))
	}
	if err != nil {
		return nil, mapErr("list crawls", err)
	}
	out := make([]*model.Crawl, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// DeleteCrawl removes the crawl; the schema cascades to its records.
func (s *Postgres) DeleteCrawl(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM crawls WHERE id = $1", id)
	if err != nil {
		return mapErr("delete crawl", err)
	}
	return affected(res, id)
}

// ---- pages ----

// InsertPage stores a page.
func (s *Postgres) InsertPage(ctx context.Context, page *model.Page) error {
	_, err := s.db.NamedExecContext(ctx, namedInsert("pages", pageColumns), toPageRow(page))
	return mapErr("insert page", err)
}

// UpdateImagesCount sets a page's image count.
func (s *Postgres) UpdateImagesCount(ctx context.Context, pageID string, count int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE pages SET images_count = $2 WHERE id = $1", pageID, count)
	if err != nil {
		return mapErr("update images count", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return deleted("update page", pageID)
	}
	return nil
}

// ListPages returns a crawl's pages in insertion order.
func (s *Postgres) ListPages(ctx context.Context, crawlID string) ([]*model.Page, error) {
	var rows []pageRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+pageColumns+" FROM pages WHERE crawl_id = $1 ORDER BY seq", crawlID)
	if err != nil {
		return nil, mapErr("list pages", err)
	}
	out := make([]*model.Page, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// SetPrimary marks primaryIDs primary and every other page not primary.
func (s *Postgres) SetPrimary(ctx context.Context, crawlID string, primaryIDs []string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pages SET is_primary = (id = ANY($2)) WHERE crawl_id = $1",
		crawlID, pq.Array(nonNil(primaryIDs)))
	return mapErr("set primary", err)
}

// InsertSEOMetadata stores a page's SEO metadata.
func (s *Postgres) InsertSEOMetadata(ctx context.Context, meta *model.SEOMetadata) error {
	row, err := toSEORow(meta)
	if err != nil {
		return errors.NewStorageError("encode seo metadata", err)
	}
	_, err = s.db.NamedExecContext(ctx, namedInsert("seo_metadata", seoColumns), row)
	return mapErr("insert seo metadata", err)
}

// ListSEOMetadata returns a crawl's SEO metadata.
func (s *Postgres) ListSEOMetadata(ctx context.Context, crawlID string) ([]*model.SEOMetadata, error) {
	var rows []seoRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+seoColumns+" FROM seo_metadata WHERE crawl_id = $1 ORDER BY seq", crawlID)
	if err != nil {
		return nil, mapErr("list seo metadata", err)
	}
	out := make([]*model.SEOMetadata, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, errors.NewStorageError("decode seo metadata", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ---- links, images, issues ----

// insertAll runs one named insert per row inside a transaction.
func insertAll[R any](ctx context.Context, db *sqlx.DB, op, query string, rows []R) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr(op, err)
	}
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			tx.Rollback()
			return mapErr(op, err)
		}
	}
	return mapErr(op, tx.Commit())
}

// InsertLinks stores links in one transaction.
func (s *Postgres) InsertLinks(ctx context.Context, links []*model.Link) error {
	rows := make([]linkRow, len(links))
	for i, l := range links {
		rows[i] = toLinkRow(l)
	}
	return insertAll(ctx, s.db, "insert links", namedInsert("links", linkColumns), rows)
}

// ListLinks returns a crawl's links.
func (s *Postgres) ListLinks(ctx context.Context, crawlID string) ([]*model.Link, error) {
	var rows []linkRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+linkColumns+" FROM links WHERE crawl_id = $1 ORDER BY seq", crawlID)
	if err != nil {
		return nil, mapErr("list links", err)
	}
	out := make([]*model.Link, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// InsertImages stores images in one transaction.
func (s *Postgres) InsertImages(ctx context.Context, images []*model.Image) error {
	rows := make([]imageRow, len(images))
	for i, img := range images {
		rows[i] = imageRow(*img)
	}
	return insertAll(ctx, s.db, "insert images", namedInsert("images", imageColumns), rows)
}

// ListImages returns a crawl's images.
func (s *Postgres) ListImages(ctx context.Context, crawlID string) ([]*model.Image, error) {
	var rows []imageRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+imageColumns+" FROM images WHERE crawl_id = $1 ORDER BY seq", crawlID)
	if err != nil {
		return nil, mapErr("list images", err)
	}
	out := make([]*model.Image, len(rows))
	for i, r := range rows {
		img := model.Image(r)
		out[i] = &img
	}
	return out, nil
}

// InsertIssues stores issues in one transaction.
func (s *Postgres) InsertIssues(ctx context.Context, issues []*model.Issue) error {
	rows := make([]issueRow, len(issues))
	for i, is := range issues {
		rows[i] = issueRow{
			ID: is.ID, CrawlID: is.CrawlID, PageID: is.PageID, Type: is.Type,
			Severity: string(is.Severity), Message: is.Message, Pointer: is.Pointer,
			Context: is.Context, CreatedAt: is.CreatedAt,
		}
	}
	return insertAll(ctx, s.db, "insert issues", namedInsert("issues", issueColumns), rows)
}

// DeleteIssues removes every issue of a crawl.
func (s *Postgres) DeleteIssues(ctx context.Context, crawlID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE crawl_id = $1", crawlID)
	return mapErr("delete issues", err)
}

// ListIssues returns a crawl's issues.
func (s *Postgres) ListIssues(ctx context.Context, crawlID string) ([]*model.Issue, error) {
	var rows []issueRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+issueColumns+" FROM issues WHERE crawl_id = $1 ORDER BY seq", crawlID)
	if err != nil {
		return nil, mapErr("list issues", err)
	}
	out := make([]*model.Issue, len(rows))
	for i, r := range rows {
		out[i] = &model.Issue{
			ID: r.ID, CrawlID: r.CrawlID, PageID: r.PageID, Type: r.Type,
			Severity: model.Severity(r.Severity), Message: r.Message, Pointer: r.Pointer,
			Context: r.Context, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}
