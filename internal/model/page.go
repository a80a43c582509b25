package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultInterrupts is the number of recoverable failures a page tolerates
// before it is dropped from the frontier for good.
const DefaultInterrupts = 6

// breadcrumbSeparator joins the tag URLs that make up a page's Path.
const breadcrumbSeparator = " > "

// Page is a crawl frontier entry and, once fetched, a crawl result.
//
// Design decision: Depth and Path are computed once when the page is created
// instead of walking a chain of parent pointers because:
//  1. Reading them is O(1) and never touches other pages
//  2. Parents can be released as soon as they are persisted
//  3. There is no ownership cycle between pages
type Page struct {
	// TagURL is the path relative to the site's base URL.
	// It is the unique key of the page within one crawl.
	TagURL string `json:"tag_url"`

	// HTML is the fetched body. It is cleared after the page has been persisted.
	HTML string `json:"-"`

	// Depth is the distance from a seed page. Seeds have depth 0.
	Depth int `json:"depth"`

	// Path is a human-readable breadcrumb of the route taken to reach the page.
	Path string `json:"path"`

	// Referer is the tag URL of the page this one was extracted from.
	// Empty for seeds.
	Referer string `json:"referer,omitempty"`

	// StatusCode is the HTTP status of the last fetch.
	StatusCode int `json:"status_code,omitempty"`

	// FetchedAt is when the body was fetched.
	FetchedAt time.Time `json:"fetched_at"`

	// InterruptsRemaining counts the recoverable failures left.
	// It only decreases; at 0 the page is dropped.
	InterruptsRemaining int `json:"interrupts_remaining"`

	// authCycle is the login cycle in which this page last hit the login wall.
	// -1 means never.
	authCycle int
}

// NewSeedPage creates a depth-0 page for a configured seed path.
func NewSeedPage(tagURL string, interrupts int) *Page {
	if interrupts <= 0 {
		interrupts = DefaultInterrupts
	}
	return &Page{
		TagURL:              tagURL,
		Depth:               0,
		Path:                tagURL,
		InterruptsRemaining: interrupts,
		authCycle:           -1,
	}
}

// NewChildPage creates a page discovered on parent.
// The child starts with a full interrupt budget and inherits nothing else.
func NewChildPage(parent *Page, tagURL string, interrupts int) *Page {
	if interrupts <= 0 {
		interrupts = DefaultInterrupts
	}
	return &Page{
		TagURL:              tagURL,
		Depth:               parent.Depth + 1,
		Path:                parent.Path + breadcrumbSeparator + tagURL,
		Referer:             parent.TagURL,
		InterruptsRemaining: interrupts,
		authCycle:           -1,
	}
}

// Interrupt consumes one unit of the page's interrupt budget and reports
// whether any budget is left.
func (p *Page) Interrupt() bool {
	if p.InterruptsRemaining > 0 {
		p.InterruptsRemaining--
	}
	return p.InterruptsRemaining > 0
}

// Exhausted reports whether the page has no interrupt budget left.
func (p *Page) Exhausted() bool {
	return p.InterruptsRemaining <= 0
}

// MarkAuthWall records that the page hit the login wall during cycle and
// reports whether it already did so during the previous cycle, i.e. right
// after the login it triggered.
func (p *Page) MarkAuthWall(cycle int) (repeated bool) {
	repeated = p.authCycle >= 0 && p.authCycle == cycle-1
	p.authCycle = cycle
	return repeated
}

// SetBody stores a fetched body and its fetch metadata.
func (p *Page) SetBody(body string, status int, at time.Time) {
	p.HTML = body
	p.StatusCode = status
	p.FetchedAt = at
}

// ClearBody releases the page's body after it has been persisted.
func (p *Page) ClearBody() {
	p.HTML = ""
}

// Hash returns the hex SHA-256 of the page body, or "" when the body is empty.
func (p *Page) Hash() string {
	if p.HTML == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.HTML))
	return hex.EncodeToString(sum[:])
}
