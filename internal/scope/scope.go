// Package scope canonicalizes URLs and decides which discovered links a
// crawl may follow: depth limits, the external-link policy, the domain
// blacklist and the external-domain budget.
package scope

import (
	"fmt"
	"net/url"

	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Skip reasons reported by Checker.Decide.
const (
	SkipInternalDepth    = "internal_depth"
	SkipExternalDisabled = "external_disabled"
	SkipExternalDepth    = "external_depth"
	SkipBlacklisted      = "blacklisted"
	SkipExternalBudget   = "external_budget"
	SkipResource         = "resource"
)

// Decision is the outcome of a follow check.
type Decision struct {
	Follow   bool
	Internal bool
	Reason   string // set when Follow is false
	Detail   string // blacklist reason, if any
}

// Checker applies a crawl's link-following policy. It holds the external
// budget, so one Checker belongs to one crawl loop.
type Checker struct {
	base      string
	policy    model.Policy
	blacklist *Blacklist
	budget    *ExternalBudget
}

// NewChecker creates a checker for a crawl of targetURL.
func NewChecker(targetURL string, policy model.Policy, blacklist *Blacklist) (*Checker, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("target %q has no host", targetURL)
	}
	if blacklist == nil {
		blacklist = NewBlacklist()
	}
	return &Checker{
		base:      targetURL,
		policy:    policy,
		blacklist: blacklist,
		budget:    NewExternalBudget(policy.MaxExternalDomains),
	}, nil
}

// IsInternal reports whether target belongs to the crawled site.
func (c *Checker) IsInternal(target string) bool {
	return IsInternal(target, c.base)
}

// Decide reports whether the link target at childDepth should be queued.
// The external budget is only charged once every other rule has passed.
func (c *Checker) Decide(target string, childDepth int) Decision {
	internal := c.IsInternal(target)
	if !IsCrawlable(target) {
		return Decision{Internal: internal, Reason: SkipResource}
	}

	if internal {
		if childDepth > c.policy.MaxDepthInternal {
			return Decision{Internal: true, Reason: SkipInternalDepth}
		}
		return Decision{Follow: true, Internal: true}
	}

	if !c.policy.FollowExternal {
		return Decision{Reason: SkipExternalDisabled}
	}
	if childDepth > c.policy.MaxDepthExternal {
		return Decision{Reason: SkipExternalDepth}
	}
	if blocked, reason := c.blacklist.Check(target); blocked {
		return Decision{Reason: SkipBlacklisted, Detail: string(reason)}
	}
	host, err := Host(target)
	if err != nil {
		return Decision{Reason: SkipBlacklisted, Detail: string(ReasonParseError)}
	}
	if !c.budget.ShouldFollow(host) {
		return Decision{Reason: SkipExternalBudget}
	}
	return Decision{Follow: true}
}

// ExternalDomains returns the number of external hosts accepted so far.
func (c *Checker) ExternalDomains() int {
	return c.budget.Seen()
}
