package crawler

import (
	"strings"

	"github.com/nao1215/narchiver/internal/model"
	"golang.org/x/net/html"
)

// Rules are the link-graph filters of a site. All matching is by substring
// on the tag URL unless noted otherwise.
type Rules struct {
	// StopAt marks crawl boundaries: pages whose tag URL contains any entry
	// are persisted but never expanded.
	StopAt []string

	// Exclude rejects candidates containing any entry.
	Exclude []string

	// ExcludeIfEqual rejects candidates exactly equal to an entry.
	ExcludeIfEqual []string

	// MustInclude, when non-empty, rejects candidates containing none of
	// its entries.
	MustInclude []string

	// ParentChildExclude, when non-empty, rejects a candidate unless the
	// candidate or the page it was found on contains one of its entries.
	ParentChildExclude []string
}

// Extractor turns a fetched page into new frontier entries.
//
// Design decision: candidates are marked visited when they are extracted,
// not when they are fetched, because:
//  1. Two siblings linking to the same target must not both enqueue it
//  2. The check happens before a Page is allocated
//  3. Redirect handling can consult the same set for its targets
type Extractor struct {
	// baseURL is the site's base URL without a trailing slash.
	baseURL    string
	rules      Rules
	visited    *Visited
	interrupts int
}

// NewExtractor creates an Extractor that records accepted links in visited.
func NewExtractor(baseURL string, rules Rules, visited *Visited, interrupts int) *Extractor {
	return &Extractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		rules:      rules,
		visited:    visited,
		interrupts: interrupts,
	}
}

// Extract returns the accepted child pages of page in document order.
func (e *Extractor) Extract(page *model.Page) []*model.Page {
	if containsAny(page.TagURL, e.rules.StopAt) {
		return nil
	}

	var children []*model.Page
	for _, href := range anchorHrefs(page.HTML) {
		tagURL, ok := e.Relative(href)
		if !ok || e.visited.Contains(tagURL) || e.rejected(page.TagURL, tagURL) {
			continue
		}
		e.visited.Add(tagURL)
		children = append(children, model.NewChildPage(page, tagURL, e.interrupts))
	}
	return children
}

// Relative converts href to a tag URL. It accepts absolute URLs under the
// base URL and root-relative paths; everything else is invalid.
// Fragments are dropped.
func (e *Extractor) Relative(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(href, "//"):
		return "", false
	case strings.HasPrefix(href, "/"):
		return href, true
	case e.baseURL != "" && strings.HasPrefix(href, e.baseURL):
		rest := href[len(e.baseURL):]
		switch {
		case rest == "":
			return "/", true
		case rest[0] == '/':
			return rest, true
		case rest[0] == '?':
			return "/" + rest, true
		}
	}
	return "", false
}

// rejected applies the exclusion rules to a candidate found on parent.
func (e *Extractor) rejected(parent, tagURL string) bool {
	if containsAny(tagURL, e.rules.Exclude) {
		return true
	}
	for _, s := range e.rules.ExcludeIfEqual {
		if tagURL == s {
			return true
		}
	}
	if len(e.rules.MustInclude) > 0 && !containsAny(tagURL, e.rules.MustInclude) {
		return true
	}
	if len(e.rules.ParentChildExclude) > 0 &&
		!containsAny(parent, e.rules.ParentChildExclude) &&
		!containsAny(tagURL, e.rules.ParentChildExclude) {
		return true
	}
	return false
}

// anchorHrefs returns the href of every <a> element in document order.
func anchorHrefs(body string) []string {
	var hrefs []string
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			if href, ok := getAttr(token, "href"); ok {
				hrefs = append(hrefs, href)
			}
		}
	}
}

// getAttr retrieves an attribute value from an HTML token.
func getAttr(token html.Token, key string) (string, bool) {
	for _, attr := range token.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
