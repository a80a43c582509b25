// Package cookie implements the session cookie jar used by a single crawl.
//
// The jar is deliberately simpler than net/http/cookiejar: cookies are keyed
// by name only, the newest value always wins, and expiry is informational.
// The crawled sites hand out one session per host, so domain and path
// scoping would only get in the way of replaying exactly what the server set.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/narchiver/internal/model"
)

// setCookieHeader is the response header scanned by Ingest.
const setCookieHeader = "Set-Cookie"

// attributeNames are Set-Cookie attributes that must not be stored as cookies.
var attributeNames = map[string]bool{
	"path":        true,
	"domain":      true,
	"expires":     true,
	"max-age":     true,
	"samesite":    true,
	"secure":      true,
	"httponly":    true,
	"priority":    true,
	"partitioned": true,
}

// Cookie is a name/value pair. Expires is zero when unknown.
type Cookie struct {
	Name    string
	Value   string
	Expires time.Time
}

// String renders the cookie as name=value.
func (c Cookie) String() string {
	return c.Name + "=" + c.Value
}

// Jar stores session cookies by name.
// It is owned by one crawl and is not safe for concurrent use.
type Jar struct {
	cookies []Cookie
}

// NewJar creates an empty jar.
func NewJar() *Jar {
	return &Jar{cookies: make([]Cookie, 0)}
}

// Seed loads cookies from a raw "name=value; name2=value2" string,
// as found in configuration files.
func (j *Jar) Seed(raw string) {
	j.ingestValue(raw)
}

// Ingest scans response headers for Set-Cookie fields and stores every
// name=value pair found, replacing cookies of the same name.
func (j *Jar) Ingest(headers model.Headers) {
	for _, h := range headers {
		if !strings.EqualFold(h.Name, setCookieHeader) {
			continue
		}
		j.ingestValue(h.Value)
	}
}

// ingestValue splits one compound header value on ';'.
func (j *Jar) ingestValue(raw string) {
	last := -1
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)

		lower := strings.ToLower(name)
		if attributeNames[lower] {
			if lower == "expires" && last >= 0 {
				if t, err := http.ParseTime(value); err == nil {
					j.cookies[last].Expires = t
				}
			}
			continue
		}
		last = j.put(Cookie{Name: name, Value: value})
	}
}

// put inserts or replaces c and returns its index.
// A replaced cookie keeps its position so the rendered header stays stable.
func (j *Jar) put(c Cookie) int {
	for i := range j.cookies {
		if j.cookies[i].Name == c.Name {
			j.cookies[i] = c
			return i
		}
	}
	j.cookies = append(j.cookies, c)
	return len(j.cookies) - 1
}

// Header renders all cookies as a single Cookie header value.
// ok is false when the jar is empty and the header should be omitted.
func (j *Jar) Header() (value string, ok bool) {
	if len(j.cookies) == 0 {
		return "", false
	}
	parts := make([]string, len(j.cookies))
	for i, c := range j.cookies {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; "), true
}

// Get returns the cookie named name.
func (j *Jar) Get(name string) (Cookie, bool) {
	for _, c := range j.cookies {
		if c.Name == name {
			return c, true
		}
	}
	return Cookie{}, false
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	return len(j.cookies)
}

// Reset drops every cookie.
func (j *Jar) Reset() {
	j.cookies = j.cookies[:0]
}
