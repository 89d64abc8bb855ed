package parser

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>  Acme Widgets | Home  </title>
  <meta name="description" content="We build widgets.">
  <meta name="viewport" content="width=device-width">
  <meta name="robots" content="index,follow">
  <meta property="og:title" content="Acme">
  <meta name="twitter:card" content="summary">
  <link rel="canonical" href="https://example.com/">
  <link rel="alternate" hreflang="de" href="/de/">
  <script type="application/ld+json">{"@type": "Organization", "name": "Acme"}</script>
  <script type="application/ld+json">not json</script>
  <style>.x { color: red }</style>
</head>
<body>
  <nav><a href="/about">About   us</a><a href="https://www.example.com/pricing" title="Prices">Pricing</a></nav>
  <h1>Widgets for everyone</h1>
  <h2>Fast</h2>
  <h3>Details</h3>
  <h2>Cheap</h2>
  <p>Our widgets are fast and cheap.</p>
  <p style="display: none">Secret hidden text</p>
  <p class="sr-only">Screen reader only</p>
  <a href="https://partner.org/x" rel="nofollow sponsored">Partner</a>
  <a href="#top">Top</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a href="javascript:void(0)">JS</a>
  <a href="tel:123">Call</a>
  <img src="/img/logo.png" alt="Logo" width="120" height="abc">
  <img src="hero.jpg">
  <img src="spacer.gif" alt="   ">
  <img alt="no src">
  <script>var hidden = "should not appear";</script>
</body>
</html>`

// =============================================================================
// HTMLParser Tests
// =============================================================================

func TestNewHTMLParser(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid URL", "https://example.com", false},
		{"URL with path", "https://example.com/path/to/page", false},
		{"invalid URL", "://invalid", true},
		{"relative URL", "/just/a/path", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewHTMLParser(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewHTMLParser() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && p == nil {
				t.Error("NewHTMLParser() returned nil parser")
			}
		})
	}
}

func TestExtract_SEO(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	seo := ext.SEO

	if seo.Title != "Acme Widgets | Home" {
		t.Errorf("Title = %q", seo.Title)
	}
	if seo.TitleLength != len("Acme Widgets | Home") {
		t.Errorf("TitleLength = %d", seo.TitleLength)
	}
	if seo.MetaDescription != "We build widgets." || seo.DescriptionLength != 17 {
		t.Errorf("MetaDescription = %q (%d)", seo.MetaDescription, seo.DescriptionLength)
	}
	if seo.Canonical != "https://example.com/" {
		t.Errorf("Canonical = %q", seo.Canonical)
	}
	if seo.Robots != "index,follow" {
		t.Errorf("Robots = %q", seo.Robots)
	}
	if seo.OGTags["og:title"] != "Acme" {
		t.Errorf("OGTags = %v", seo.OGTags)
	}
	if seo.TwitterTags["twitter:card"] != "summary" {
		t.Errorf("TwitterTags = %v", seo.TwitterTags)
	}
	if seo.Hreflang["de"] != "https://example.com/de/" {
		t.Errorf("Hreflang = %v", seo.Hreflang)
	}
	if len(seo.JSONLD) != 1 || ext.FirstJSONLD()["name"] != "Acme" {
		t.Errorf("JSONLD = %v", seo.JSONLD)
	}
}

func TestExtract_MetaTitleWins(t *testing.T) {
	html := `<html><head><meta name="title" content="From meta"><title>From tag</title></head></html>`
	ext, err := Extract(html, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ext.SEO.Title != "From meta" {
		t.Errorf("Title = %q, want From meta", ext.SEO.Title)
	}
}

func TestExtract_Links(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(ext.Links) != 3 {
		t.Fatalf("Links = %d, want 3: %+v", len(ext.Links), ext.Links)
	}

	about := ext.Links[0]
	if about.URL != "https://example.com/about" || about.Text != "About us" || !about.Internal {
		t.Errorf("about = %+v", about)
	}

	pricing := ext.Links[1]
	if !pricing.Internal || pricing.Title != "Prices" {
		t.Errorf("www link should be internal: %+v", pricing)
	}

	partner := ext.Links[2]
	if partner.Internal || !partner.NoFollow || partner.Rel != "nofollow sponsored" {
		t.Errorf("partner = %+v", partner)
	}

	if ext.Technical.InternalLinks != 2 || ext.Technical.ExternalLinks != 1 {
		t.Errorf("internal/external = %d/%d", ext.Technical.InternalLinks, ext.Technical.ExternalLinks)
	}
}

func TestExtract_Images(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/section/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(ext.Images) != 3 {
		t.Fatalf("Images = %d, want 3", len(ext.Images))
	}

	logo := ext.Images[0]
	if logo.Src != "https://example.com/img/logo.png" || !logo.HasAlt {
		t.Errorf("logo = %+v", logo)
	}
	if logo.Width == nil || *logo.Width != 120 {
		t.Errorf("Width = %v, want 120", logo.Width)
	}
	if logo.Height != nil {
		t.Errorf("non-numeric height should be nil, got %d", *logo.Height)
	}

	if ext.Images[1].Src != "https://example.com/section/hero.jpg" || ext.Images[1].HasAlt {
		t.Errorf("hero = %+v", ext.Images[1])
	}
	if ext.Images[2].HasAlt {
		t.Error("whitespace alt does not count as alt text")
	}

	if ext.Technical.ImageCount != 4 {
		t.Errorf("ImageCount = %d, want 4", ext.Technical.ImageCount)
	}
	if ext.Technical.ImagesWithoutAlt != 1 {
		t.Errorf("ImagesWithoutAlt = %d, want 1", ext.Technical.ImagesWithoutAlt)
	}
}

func TestExtract_Technical(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	tech := ext.Technical

	if tech.H1Count != 1 || tech.H2Count != 2 || tech.H3Count != 1 {
		t.Errorf("heading counts = %d/%d/%d", tech.H1Count, tech.H2Count, tech.H3Count)
	}
	if !tech.HasViewport || !tech.HasLang {
		t.Errorf("viewport=%v lang=%v", tech.HasViewport, tech.HasLang)
	}
	if tech.PageSizeKB <= 0 {
		t.Errorf("PageSizeKB = %v", tech.PageSizeKB)
	}

	bare, _ := Extract(`<html><body><p>x</p></body></html>`, "https://example.com/")
	if bare.Technical.HasViewport || bare.Technical.HasLang {
		t.Error("bare page has neither viewport nor lang")
	}
}

func TestExtract_Headings(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []Heading{
		{1, "Widgets for everyone"},
		{2, "Fast"},
		{2, "Cheap"},
		{3, "Details"},
	}
	if len(ext.Content.Headings) != len(want) {
		t.Fatalf("Headings = %+v", ext.Content.Headings)
	}
	for i, h := range want {
		if ext.Content.Headings[i] != h {
			t.Errorf("Headings[%d] = %+v, want %+v", i, ext.Content.Headings[i], h)
		}
	}
	if ext.H1() != "Widgets for everyone" {
		t.Errorf("H1() = %q", ext.H1())
	}
	if got := ext.HeadingTexts(2); len(got) != 2 || got[1] != "Cheap" {
		t.Errorf("HeadingTexts(2) = %v", got)
	}
}

func TestExtract_Text(t *testing.T) {
	ext, err := Extract(samplePage, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	full := ext.Content.FullPageText

	if !strings.Contains(full, "Our widgets are fast and cheap.") {
		t.Errorf("FullPageText missing paragraph: %q", full)
	}
	for _, hidden := range []string{"Secret hidden text", "Screen reader only", "should not appear", "color: red"} {
		if strings.Contains(full, hidden) {
			t.Errorf("FullPageText contains %q", hidden)
		}
	}
	if strings.Count(full, "Widgets for everyone") != 1 {
		t.Errorf("duplicate blocks should be dropped: %q", full)
	}
	if ext.Content.WordCount != len(strings.Fields(ext.Content.Text)) {
		t.Errorf("WordCount = %d", ext.Content.WordCount)
	}
	if ext.Content.ReadingTime != 1 {
		t.Errorf("ReadingTime = %d, want 1", ext.Content.ReadingTime)
	}
}

func TestExtract_ReadingTime(t *testing.T) {
	body := "<html><body><p>" + strings.Repeat("word ", 650) + "</p></body></html>"
	ext, err := Extract(body, "https://example.com/")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ext.Content.WordCount < 650 {
		t.Errorf("WordCount = %d, want >= 650", ext.Content.WordCount)
	}
	if ext.Content.ReadingTime != ext.Content.WordCount/200 {
		t.Errorf("ReadingTime = %d", ext.Content.ReadingTime)
	}
}

// =============================================================================
// Excerpt Tests
// =============================================================================

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 8, "truncate"},
		{"héllo wörld", 5, "héllo"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		if got := Excerpt(tt.in, tt.limit); got != tt.want {
			t.Errorf("Excerpt(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
