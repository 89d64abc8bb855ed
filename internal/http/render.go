package http

import (
	"bytes"

	"golang.org/x/net/html"
)

// Thresholds for the render heuristic.
const (
	MinStaticBodyBytes = 1000
	MinContentBlocks   = 5
)

var frameworkMarkers = [][]byte{
	[]byte("vue"),
	[]byte("react"),
	[]byte("angular"),
	[]byte("ember"),
	[]byte("backbone"),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("v-app"),
}

// NeedsRendering reports whether an HTML body is likely a client-rendered
// shell: tiny, framework-marked, or nearly free of content blocks. Non-HTML
// bodies never need rendering.
func NeedsRendering(body []byte, contentType string) bool {
	if !IsHTMLContentType(contentType) {
		return false
	}
	if len(body) < MinStaticBodyBytes {
		return true
	}

	lower := bytes.ToLower(body)
	for _, marker := range frameworkMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}

	return countContentBlocks(body, MinContentBlocks) < MinContentBlocks
}

// countContentBlocks counts p, div, section and article start tags, stopping
// once limit is reached.
func countContentBlocks(body []byte, limit int) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	count := 0
	for count < limit {
		switch z.Next() {
		case html.ErrorToken:
			return count
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "section", "article":
				count++
			}
		}
	}
	return count
}
