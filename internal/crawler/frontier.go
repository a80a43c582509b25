package crawler

import "github.com/nao1215/narchiver/internal/model"

// compactThreshold is the number of consumed slots after which the frontier
// reclaims the front of its backing array.
const compactThreshold = 64

// Frontier is the queue of pages that still have to be fetched.
// Pages are served FIFO for breadth-first order. PushFront is reserved for
// the page currently being processed, which must be retried before any
// sibling.
type Frontier struct {
	items []*model.Page
	head  int
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// PushBack appends pages to the end of the queue.
func (f *Frontier) PushBack(pages ...*model.Page) {
	f.items = append(f.items, pages...)
}

// PushFront puts page at the head of the queue.
func (f *Frontier) PushFront(page *model.Page) {
	if f.head > 0 {
		f.head--
		f.items[f.head] = page
		return
	}
	f.items = append([]*model.Page{page}, f.items...)
}

// PopFront removes and returns the head of the queue.
func (f *Frontier) PopFront() (*model.Page, bool) {
	if f.head >= len(f.items) {
		return nil, false
	}
	page := f.items[f.head]
	f.items[f.head] = nil
	f.head++

	if f.head == len(f.items) {
		f.items = f.items[:0]
		f.head = 0
	} else if f.head >= compactThreshold && f.head*2 >= len(f.items) {
		n := copy(f.items, f.items[f.head:])
		clear(f.items[n:])
		f.items = f.items[:n]
		f.head = 0
	}
	return page, true
}

// Len returns the number of queued pages.
func (f *Frontier) Len() int {
	return len(f.items) - f.head
}

// Visited is the set of tag URLs that have been enqueued during a crawl.
// An entry is written once and never removed.
type Visited struct {
	seen map[string]struct{}
}

// NewVisited creates an empty visited set.
func NewVisited() *Visited {
	return &Visited{seen: make(map[string]struct{})}
}

// Add records tagURL and reports whether it was new.
func (v *Visited) Add(tagURL string) bool {
	if _, ok := v.seen[tagURL]; ok {
		return false
	}
	v.seen[tagURL] = struct{}{}
	return true
}

// Contains reports whether tagURL has been recorded.
func (v *Visited) Contains(tagURL string) bool {
	_, ok := v.seen[tagURL]
	return ok
}

// Len returns the number of recorded tag URLs.
func (v *Visited) Len() int {
	return len(v.seen)
}
