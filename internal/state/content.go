package state

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// ContentHash returns the hex sha256 of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ContentIndex remembers the first URL seen for each content hash, so pages
// served under several URLs can be reported.
type ContentIndex struct {
	mu    sync.Mutex
	first map[string]string
	dupes int
}

// NewContentIndex creates an empty index.
func NewContentIndex() *ContentIndex {
	return &ContentIndex{first: make(map[string]string)}
}

// Record stores hash for url. If another URL already carried the same
// content it is returned with ok set.
func (c *ContentIndex) Record(hash, url string) (original string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, exists := c.first[hash]; exists && prev != url {
		c.dupes++
		return prev, true
	}
	c.first[hash] = url
	return "", false
}

// Duplicates returns how many recorded URLs repeated earlier content.
func (c *ContentIndex) Duplicates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dupes
}
