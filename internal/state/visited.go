// Package state holds per-crawl bookkeeping: the set of visited URLs and
// page content fingerprints.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Visited is the set of normalized URLs a crawl has fetched. A Bloom filter
// answers most negative lookups; the exact set resolves its false positives.
type Visited struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	fpRate float64
}

// NewVisited creates a visited set sized for estimatedItems URLs.
func NewVisited(estimatedItems int) *Visited {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	fpRate := 0.001

	return &Visited{
		filter: bloom.NewWithEstimates(uint(estimatedItems), fpRate),
		exact:  make(map[string]struct{}),
		fpRate: fpRate,
	}
}

// Add marks url visited. It returns false if url was already present.
func (v *Visited) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.exact[url]; exists {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	return true
}

// Has reports whether url was visited.
func (v *Visited) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}

// Len returns the number of visited URLs.
func (v *Visited) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.exact)
}

// URLs returns every visited URL in no particular order.
func (v *Visited) URLs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	urls := make([]string, 0, len(v.exact))
	for url := range v.exact {
		urls = append(urls, url)
	}
	return urls
}

// Reset empties the set.
func (v *Visited) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.filter.ClearAll()
	v.exact = make(map[string]struct{})
}

// FalsePositiveRate returns the filter's configured false positive rate.
func (v *Visited) FalsePositiveRate() float64 {
	return v.fpRate
}
