// Package parser extracts SEO signals, links, images and visible text from
// HTML pages.
package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/OpenAudit/internal/scope"
)

// HTMLParser parses HTML documents fetched from one URL.
type HTMLParser struct {
	baseURL *url.URL
	raw     string
}

// NewHTMLParser creates a new HTML parser for pages fetched from baseURL.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}
	return &HTMLParser{baseURL: u, raw: baseURL}, nil
}

// Extract parses html fetched from pageURL.
func Extract(html, pageURL string) (*Extraction, error) {
	p, err := NewHTMLParser(pageURL)
	if err != nil {
		return nil, err
	}
	return p.Parse(html)
}

// Parse parses an HTML document.
func (p *HTMLParser) Parse(html string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	result := &Extraction{URL: p.raw}
	result.SEO = p.parseSEO(doc)
	result.Links = p.parseLinks(doc)
	result.Images = p.parseImages(doc)
	result.Content.Headings = parseHeadings(doc)

	tech := &result.Technical
	tech.H1Count = doc.Find("h1").Length()
	tech.H2Count = doc.Find("h2").Length()
	tech.H3Count = doc.Find("h3").Length()
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		tech.ImageCount++
		if alt, _ := s.Attr("alt"); alt == "" {
			tech.ImagesWithoutAlt++
		}
	})
	for _, l := range result.Links {
		if l.Internal {
			tech.InternalLinks++
		} else {
			tech.ExternalLinks++
		}
	}
	tech.PageSizeKB = float64(len(html)) / 1024
	tech.HasViewport = doc.Find(`meta[name="viewport"]`).Length() > 0
	tech.HasLang = doc.Find("html[lang]").Length() > 0

	// Text extraction removes nodes from doc, so it runs last.
	result.Content.FullPageText = fullPageText(doc)
	mainText := mainContentText(html)

	text := result.Content.FullPageText
	if len(mainText) > len(text) {
		text = mainText
	}
	result.Content.Text = text
	result.Content.WordCount = len(strings.Fields(text))
	result.Content.ReadingTime = max(1, result.Content.WordCount/200)

	return result, nil
}

func (p *HTMLParser) parseSEO(doc *goquery.Document) SEO {
	seo := SEO{
		OGTags:      make(map[string]string),
		TwitterTags: make(map[string]string),
		Hreflang:    make(map[string]string),
	}

	seo.Title = metaContent(doc, "title")
	if seo.Title == "" {
		seo.Title = collapse(doc.Find("title").First().Text())
	}
	seo.MetaDescription = metaContent(doc, "description")
	seo.Keywords = metaContent(doc, "keywords")
	seo.Robots = metaContent(doc, "robots")
	seo.TitleLength = utf8.RuneCountInString(seo.Title)
	seo.DescriptionLength = utf8.RuneCountInString(seo.MetaDescription)

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		seo.Canonical = strings.TrimSpace(href)
	}

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		switch {
		case strings.HasPrefix(key, "og:"):
			if _, seen := seo.OGTags[key]; !seen {
				seo.OGTags[key] = content
			}
		case strings.HasPrefix(key, "twitter:"):
			if _, seen := seo.TwitterTags[key]; !seen {
				seo.TwitterTags[key] = content
			}
		}
	})

	doc.Find(`link[rel="alternate"][hreflang]`).Each(func(i int, s *goquery.Selection) {
		lang, _ := s.Attr("hreflang")
		href, _ := s.Attr("href")
		if lang != "" && href != "" {
			seo.Hreflang[lang] = p.resolveURL(href)
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		var block map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &block); err == nil {
			seo.JSONLD = append(seo.JSONLD, block)
		}
	})

	return seo
}

// metaContent returns the content of the first meta tag whose name, then
// property, equals name.
func metaContent(doc *goquery.Document, name string) string {
	for _, attr := range []string{"name", "property"} {
		sel := doc.Find(fmt.Sprintf(`meta[%s=%q]`, attr, name)).First()
		if sel.Length() > 0 {
			content, _ := sel.Attr("content")
			return strings.TrimSpace(content)
		}
	}
	return ""
}

func (p *HTMLParser) parseLinks(doc *goquery.Document) []Link {
	links := make([]Link, 0)

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := p.resolveURL(href)
		if resolved == "" {
			return
		}

		link := Link{
			URL:      resolved,
			Text:     collapse(s.Text()),
			Internal: scope.IsInternal(resolved, p.raw),
		}
		link.Title, _ = s.Attr("title")
		if rel, exists := s.Attr("rel"); exists {
			link.Rel = rel
			link.NoFollow = strings.Contains(strings.ToLower(rel), "nofollow")
		}

		links = append(links, link)
	})

	return links
}

func (p *HTMLParser) parseImages(doc *goquery.Document) []Image {
	images := make([]Image, 0)

	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		ref, err := url.Parse(src)
		if err != nil {
			return
		}

		img := Image{Src: p.baseURL.ResolveReference(ref).String()}
		img.Alt, _ = s.Attr("alt")
		img.Title, _ = s.Attr("title")
		img.Loading, _ = s.Attr("loading")
		img.HasAlt = strings.TrimSpace(img.Alt) != ""
		img.Width = dimension(s, "width")
		img.Height = dimension(s, "height")

		images = append(images, img)
	})

	return images
}

func dimension(s *goquery.Selection, attr string) *int {
	v, ok := s.Attr(attr)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func parseHeadings(doc *goquery.Document) []Heading {
	var headings []Heading
	for level := 1; level <= 6; level++ {
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(i int, s *goquery.Selection) {
			headings = append(headings, Heading{Level: level, Text: collapse(s.Text())})
		})
	}
	return headings
}

// resolveURL resolves href against the base URL. It returns "" for
// fragment-only, javascript:, mailto:, tel: and data: references and for
// anything that does not resolve to http(s).
func (p *HTMLParser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// collapse trims s and folds whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
