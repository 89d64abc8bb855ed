package scope

// ExternalBudget caps the distinct external hosts a crawl may fetch from.
// It is owned by one crawl loop and is not safe for concurrent use.
type ExternalBudget struct {
	max  int
	seen map[string]struct{}
}

// NewExternalBudget creates a budget allowing max distinct hosts.
func NewExternalBudget(max int) *ExternalBudget {
	return &ExternalBudget{max: max, seen: make(map[string]struct{})}
}

// ShouldFollow returns true if host was already accepted or there is room
// for one more. An accepted host is recorded before returning.
func (b *ExternalBudget) ShouldFollow(host string) bool {
	host = StripWWW(host)
	if _, ok := b.seen[host]; ok {
		return true
	}
	if len(b.seen) >= b.max {
		return false
	}
	b.seen[host] = struct{}{}
	return true
}

// Seen returns the number of accepted hosts.
func (b *ExternalBudget) Seen() int {
	return len(b.seen)
}
