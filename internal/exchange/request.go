package exchange

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/narchiver/internal/model"
)

// Request describes one outgoing HTTP request.
type Request struct {
	// Method is GET or POST.
	Method string

	// URL is the absolute target URL.
	URL string

	// Headers are sent in order. The Cookie header, if any, belongs here.
	Headers model.Headers

	// Body is an application/x-www-form-urlencoded payload. Empty means no body.
	Body string

	// Binary asks for the raw body in Response.Image instead of decoded text.
	Binary bool
}

// NewGet returns a GET request carrying a copy of headers.
func NewGet(target string, headers model.Headers) *Request {
	return &Request{
		Method:  http.MethodGet,
		URL:     target,
		Headers: headers.Clone(),
	}
}

// NewPost returns a form POST request carrying a copy of headers.
// Fields are URL-encoded in the order given.
func NewPost(target string, headers model.Headers, fields []model.Header) *Request {
	return &Request{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers.Clone(),
		Body:    EncodeForm(fields),
	}
}

// EncodeForm URL-encodes name/value pairs preserving their order.
// Unlike url.Values.Encode the keys are not sorted.
func EncodeForm(fields []model.Header) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}

// Response is the result of a completed exchange.
type Response struct {
	// StatusCode is the HTTP status.
	StatusCode int

	// Headers holds the response headers, sorted by name, values in
	// the order the server sent them.
	Headers model.Headers

	// Body is the decoded text body. Empty for binary requests.
	Body string

	// Image is the raw body of a binary request.
	Image []byte

	// ContentType is the Content-Type response header.
	ContentType string

	// Truncated reports that the body was cut at the client's size limit.
	Truncated bool
}

// IsRedirect reports a 3xx status with a Location header.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Location() != ""
}

// Location returns the Location header.
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// ResolveLocation resolves the Location header against the request URL.
func (r *Response) ResolveLocation(requestURL string) (*url.URL, error) {
	base, err := url.Parse(requestURL)
	if err != nil {
		return nil, err
	}
	loc, err := url.Parse(strings.TrimSpace(r.Location()))
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(loc), nil
}
