// Package queue provides the crawl frontier.
package queue

import (
	"container/list"
	"errors"
	"sync"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// QueueItem is a URL waiting to be crawled.
type QueueItem struct {
	URL          string
	Depth        int
	NavScore     int
	IsNavigation bool
	SourceURL    string
}

// Frontier is a double-ended FIFO of URLs. Navigation links are spliced to
// the front so they are crawled before ordinary links found at the same
// time; everything else keeps insertion order.
type Frontier struct {
	mu     sync.Mutex
	items  *list.List
	closed bool
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{items: list.New()}
}

// PushBack appends items in order.
func (f *Frontier) PushBack(items ...*QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrQueueClosed
	}
	for _, item := range items {
		f.items.PushBack(item)
	}
	return nil
}

// PushFront inserts items at the head, keeping their relative order: after
// PushFront(a, b) the next two pops return a then b.
func (f *Frontier) PushFront(items ...*QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrQueueClosed
	}
	for i := len(items) - 1; i >= 0; i-- {
		f.items.PushFront(items[i])
	}
	return nil
}

// Push routes item to the front when it is navigation, else to the back.
func (f *Frontier) Push(item *QueueItem) error {
	if item.IsNavigation {
		return f.PushFront(item)
	}
	return f.PushBack(item)
}

// Pop removes and returns the head item.
func (f *Frontier) Pop() (*QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrQueueClosed
	}
	front := f.items.Front()
	if front == nil {
		return nil, ErrQueueEmpty
	}
	return f.items.Remove(front).(*QueueItem), nil
}

// Peek returns the head item without removing it.
func (f *Frontier) Peek() (*QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrQueueClosed
	}
	front := f.items.Front()
	if front == nil {
		return nil, ErrQueueEmpty
	}
	return front.Value.(*QueueItem), nil
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

// IsEmpty returns true if the frontier is empty.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Clear removes all items.
func (f *Frontier) Clear() {
	f.mu.Lock()
	f.items.Init()
	f.mu.Unlock()
}

// Close drops all items and rejects further use.
func (f *Frontier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.items.Init()
	return nil
}
