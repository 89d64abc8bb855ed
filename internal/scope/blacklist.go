package scope

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Reason explains why a URL was blacklisted.
type Reason string

// Blacklist reasons. Category reasons match Category names.
const (
	ReasonNone       Reason = ""
	ReasonParseError Reason = "parse_error"
	ReasonCustom     Reason = "custom"
)

// Category is one group of the built-in blacklist.
type Category struct {
	Name    string
	Domains []string
}

// DefaultCategories is the built-in blacklist. Entries with a path part
// match against host+path.
var DefaultCategories = []Category{
	{"social_media", []string{
		"facebook.com", "fb.com", "twitter.com", "x.com", "instagram.com",
		"linkedin.com", "youtube.com", "youtu.be", "tiktok.com", "pinterest.com",
		"snapchat.com", "reddit.com", "tumblr.com", "whatsapp.com", "telegram.org",
		"discord.com", "twitch.tv", "vimeo.com", "flickr.com",
	}},
	{"analytics", []string{
		"google-analytics.com", "googletagmanager.com", "doubleclick.net",
		"facebook.net", "analytics.google.com", "facebook.com/tr",
		"connect.facebook.net", "pixel.facebook.com", "amplitude.com",
		"segment.com", "segment.io", "hotjar.com", "fullstory.com",
		"mixpanel.com", "quantcast.com", "scorecardresearch.com", "chartbeat.com",
	}},
	{"ads", []string{
		"googlesyndication.com", "googleadservices.com", "adroll.com",
		"advertising.com", "adsense.google.com", "ads.google.com", "taboola.com",
		"outbrain.com", "criteo.com", "adform.com", "openx.net",
		"rubiconproject.com", "pubmatic.com",
	}},
	{"cdn", []string{
		"cloudflare.com", "cloudfront.net", "akamai.net", "fastly.net",
		"jsdelivr.net", "unpkg.com", "cdnjs.cloudflare.com",
		"fonts.googleapis.com", "fonts.gstatic.com",
	}},
	{"authentication", []string{
		"accounts.google.com", "login.microsoftonline.com", "id.apple.com",
		"auth.amazon.com", "github.com/login", "gitlab.com/users/sign_in",
	}},
	{"search_engine", []string{
		"google.com/search", "bing.com/search", "yahoo.com/search",
		"duckduckgo.com", "baidu.com", "yandex.com", "ask.com",
	}},
	{"ecommerce", []string{
		"amazon.com", "ebay.com", "alibaba.com", "aliexpress.com",
		"walmart.com", "target.com", "shopify.com",
	}},
	{"file_sharing", []string{
		"drive.google.com", "dropbox.com", "onedrive.live.com", "box.com",
		"mega.nz", "mediafire.com", "wetransfer.com",
	}},
	{"adult_content", []string{
		"pornhub.com", "xvideos.com", "xnxx.com", "redtube.com", "youporn.com",
		"xhamster.com", "tube8.com", "spankbang.com", "txxx.com", "eporner.com",
		"hqporner.com", "tnaflix.com", "drtuber.com", "keezmovies.com",
		"porntrex.com", "4tube.com", "faphouse.com", "onlyfans.com",
		"manyvids.com", "chaturbate.com", "stripchat.com", "cam4.com",
		"bongacams.com", "livejasmin.com", "myfreecams.com", "camsoda.com",
		"adultfriendfinder.com", "ashley-madison.com", "fling.com", "alt.com",
	}},
}

// Blacklist decides whether an external URL may be fetched. The built-in
// set is immutable; the custom set is copy-on-write so Check never locks.
type Blacklist struct {
	base    map[string]Reason
	ordered []baseEntry // base in DefaultCategories order
	custom atomic.Pointer[map[string]struct{}]
	mu     sync.Mutex // serializes writers of custom
}

type baseEntry struct {
	domain string
	reason Reason
}

// NewBlacklist creates a blacklist from the built-in categories plus extra
// custom domains.
func NewBlacklist(custom ...string) *Blacklist {
	bl := &Blacklist{base: make(map[string]Reason)}
	for _, cat := range DefaultCategories {
		for _, d := range cat.Domains {
			if _, ok := bl.base[d]; !ok {
				bl.base[d] = Reason(cat.Name)
				bl.ordered = append(bl.ordered, baseEntry{d, Reason(cat.Name)})
			}
		}
	}
	empty := make(map[string]struct{})
	bl.custom.Store(&empty)
	for _, d := range custom {
		bl.Add(d)
	}
	return bl
}

// Add puts domain on the custom list.
func (bl *Blacklist) Add(domain string) {
	domain = StripWWW(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()

	cur := *bl.custom.Load()
	if _, ok := cur[domain]; ok {
		return
	}
	next := make(map[string]struct{}, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[domain] = struct{}{}
	bl.custom.Store(&next)
}

// Remove takes domain off the custom list. Built-in entries stay.
func (bl *Blacklist) Remove(domain string) {
	domain = StripWWW(strings.TrimSpace(domain))
	bl.mu.Lock()
	defer bl.mu.Unlock()

	cur := *bl.custom.Load()
	if _, ok := cur[domain]; !ok {
		return
	}
	next := make(map[string]struct{}, len(cur))
	for k := range cur {
		if k != domain {
			next[k] = struct{}{}
		}
	}
	bl.custom.Store(&next)
}

// Custom returns the custom domains, sorted.
func (bl *Blacklist) Custom() []string {
	cur := *bl.custom.Load()
	out := make([]string, 0, len(cur))
	for k := range cur {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check reports whether rawURL is blacklisted and why. A URL that cannot be
// parsed is treated as blacklisted.
func (bl *Blacklist) Check(rawURL string) (bool, Reason) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true, ReasonParseError
	}
	host := StripWWW(parsed.Hostname())
	hostPath := host + strings.ToLower(parsed.EscapedPath())

	if r, ok := bl.base[host]; ok {
		return true, r
	}
	if _, ok := (*bl.custom.Load())[host]; ok {
		return true, ReasonCustom
	}

	// First match in category order wins.
	for _, e := range bl.ordered {
		if matches(host, hostPath, e.domain) {
			return true, e.reason
		}
	}
	for entry := range *bl.custom.Load() {
		if matches(host, hostPath, entry) {
			return true, ReasonCustom
		}
	}
	return false, ReasonNone
}

// IsBlacklisted is Check without the reason.
func (bl *Blacklist) IsBlacklisted(rawURL string) bool {
	blocked, _ := bl.Check(rawURL)
	return blocked
}

// matches applies suffix and substring matching on label boundaries, so
// m.facebook.com matches facebook.com but netflix.com does not match x.com.
func matches(host, hostPath, entry string) bool {
	if strings.Contains(entry, "/") {
		return containsAligned(hostPath, entry)
	}
	if strings.HasSuffix(host, "."+entry) {
		return true
	}
	return containsAligned(host, entry)
}

func containsAligned(s, sub string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(sub)
		startOK := i == 0 || s[i-1] == '.'
		endOK := end == len(s) || s[end] == '.' || s[end] == '/' || sub[len(sub)-1] == '/'
		if startOK && endOK {
			return true
		}
		from = i + 1
	}
	return false
}

// Stats returns the number of domains per category plus totals.
func (bl *Blacklist) Stats() map[string]int {
	stats := make(map[string]int, len(DefaultCategories)+2)
	for _, cat := range DefaultCategories {
		stats[cat.Name] = len(cat.Domains)
	}
	custom := len(*bl.custom.Load())
	stats["custom"] = custom
	stats["total_domains"] = len(bl.base) + custom
	return stats
}
