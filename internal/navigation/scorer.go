package navigation

import (
	"net/url"
	"regexp"
	"strings"
)

// SeedMinScore is the floor applied to the crawl seed.
const SeedMinScore = 10

const (
	mainPageBonus      = 5
	contentPenalty     = 10
	utilityPagePenalty = 15
)

var depthBonus = [...]int{10, 8, 4}

var contentPatterns = compileAll(
	`^/blog/.+`,
	`^/news/.+`,
	`/\d{4}/\d{2}`,
	`/tag/`,
	`/tags/`,
	`/category/`,
	`/page/\d+`,
)

var utilityPatterns = compileAll(
	`privacy`,
	`terms`,
	`cookie`,
	`legal`,
	`login`,
	`signin`,
	`sign-in`,
	`signup`,
	`sign-up`,
	`register`,
	`logout`,
	`account`,
	`cart`,
	`checkout`,
	`password`,
)

var paginationQuery = regexp.MustCompile(`(?i)(^|&)page=\d+`)

// Scorer computes per-link navigation scores. Without a structural pass it
// runs in pattern-only mode and Available reports false.
type Scorer struct {
	detection *Detection
}

// NewScorer creates a scorer backed by d. A nil d yields pattern-only mode.
func NewScorer(d *Detection) *Scorer {
	return &Scorer{detection: d}
}

// Available reports whether homepage navigation data backs the scores.
func (s *Scorer) Available() bool {
	return s.detection != nil
}

// Detection returns the structural pass, nil in pattern-only mode.
func (s *Scorer) Detection() *Detection {
	return s.detection
}

// Structural returns the homepage score of rawURL.
func (s *Scorer) Structural(rawURL string) int {
	return s.detection.Score(rawURL)
}

// Score returns structural + depth bonus + pattern bonus - penalty, never
// below zero.
func (s *Scorer) Score(rawURL string, depth int) int {
	score := s.Structural(rawURL) + DepthBonus(depth)

	path, query := splitKey(rawURL)
	if IsPrimaryPagePath(path) {
		score += mainPageBonus
	}
	score -= Penalty(path, query)

	if score < 0 {
		return 0
	}
	return score
}

// IsNavigation reports whether a link with score counts as navigation.
func (s *Scorer) IsNavigation(rawURL string, score int) bool {
	return s.detection.IsPrimary(rawURL) || score >= PrimaryThreshold
}

// DepthBonus is 10, 8 and 4 for depths 0 to 2 and 0 beyond.
func DepthBonus(depth int) int {
	if depth < 0 || depth >= len(depthBonus) {
		return 0
	}
	return depthBonus[depth]
}

// Penalty returns the larger applicable penalty for path and query.
func Penalty(path, query string) int {
	for _, re := range utilityPatterns {
		if re.MatchString(path) {
			return utilityPagePenalty
		}
	}
	for _, re := range contentPatterns {
		if re.MatchString(path) {
			return contentPenalty
		}
	}
	if paginationQuery.MatchString(query) {
		return contentPenalty
	}
	return 0
}

func splitKey(rawURL string) (path, query string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/", ""
	}
	path = strings.ToLower(u.Path)
	if path == "" {
		path = "/"
	}
	return path, u.RawQuery
}
