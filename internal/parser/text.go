package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"
)

const blockSelector = "p, div, section, article, main, header, footer, " +
	"h1, h2, h3, h4, h5, h6, li, td, th, blockquote, figcaption, address"

var (
	hiddenStyle = regexp.MustCompile(`(?i)display\s*:\s*none`)
	hiddenClass = regexp.MustCompile(`(?i)hidden|visually-hidden|sr-only`)
)

// fullPageText returns every visible block of text in the body, deduplicated
// and separated by blank lines. It strips non-content and hidden nodes from
// doc.
func fullPageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, svg, iframe, [hidden]").Remove()
	doc.Find("[style]").FilterFunction(func(i int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		return hiddenStyle.MatchString(style)
	}).Remove()
	doc.Find("[class]").FilterFunction(func(i int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return hiddenClass.MatchString(class)
	}).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	seen := make(map[string]bool)
	var parts []string
	root.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		text := spacedText(s)
		if len(text) <= 2 || seen[text] {
			return
		}
		seen[text] = true
		parts = append(parts, text)
	})

	return strings.Join(parts, "\n\n")
}

// spacedText joins the text nodes under s with single spaces.
func spacedText(s *goquery.Selection) string {
	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}

// mainContentText returns the main article text found by trafilatura, or ""
// when it finds none.
func mainContentText(raw string) string {
	result, err := trafilatura.Extract(strings.NewReader(raw), trafilatura.Options{
		ExcludeComments: true,
	})
	if err != nil || result == nil {
		return ""
	}
	return strings.TrimSpace(result.ContentText)
}

// Excerpt returns at most limit characters of text.
func Excerpt(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
