package scope

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are dropped from the query during normalization.
var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
}

// skipExtensions are resource types the auditor never fetches as pages.
var skipExtensions = []string{
	".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx",
	".zip", ".rar", ".tar", ".gz",
	".jpg", ".jpeg", ".png", ".gif",
	".mp3", ".mp4", ".avi", ".mov", ".wmv", ".flv",
	".css", ".js",
}

// Normalize canonicalizes an absolute URL for dedup. It lower-cases scheme,
// host and path, strips default ports, drops the fragment and tracking
// parameters, trims a trailing slash on non-root paths and maps an empty
// path to "/". Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("normalize %q: not an absolute URL", rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := canonicalHost(scheme, parsed.Host)

	path := strings.ToLower(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if q := stripTracking(parsed.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

// canonicalHost lower-cases host and removes the scheme's default port.
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}

// stripTracking removes utm_*, fbclid and gclid while keeping the order of
// the remaining parameters.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		key := p
		if i := strings.IndexByte(p, '='); i >= 0 {
			key = p[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		key = strings.ToLower(key)
		if strings.HasPrefix(key, "utm_") {
			continue
		}
		if _, ok := trackingParams[key]; ok {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

// Resolve resolves ref against base.
func Resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// Host returns the lower-cased host[:port] of rawURL with default ports and
// a leading "www." removed.
func Host(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return StripWWW(canonicalHost(strings.ToLower(parsed.Scheme), parsed.Host)), nil
}

// StripWWW removes a leading "www." from host.
func StripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// IsInternal reports whether target is on the same site as base. Hosts are
// compared after removing "www.".
func IsInternal(target, base string) bool {
	th, err := Host(target)
	if err != nil || th == "" {
		return false
	}
	bh, err := Host(base)
	if err != nil {
		return false
	}
	return th == bh
}

// IsCrawlable reports whether rawURL is an http(s) URL that does not point
// at a binary or static asset.
func IsCrawlable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}

	path := strings.ToLower(parsed.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// Origin returns scheme://host/ for rawURL.
func Origin(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin %q: not an absolute URL", rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host + "/", nil
}
