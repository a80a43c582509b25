package exchange

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nao1215/narchiver/internal/model"
	"github.com/nao1215/narchiver/internal/tor"
)

// Defaults for the exchange client.
const (
	// DefaultTimeout bounds a whole exchange, including reading the body.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds establishing the TCP connection.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultMaxBodySize caps how much of a body is kept (10MB).
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// Client performs exchanges. It is safe for concurrent use, but a crawl
// uses it sequentially.
//
// Design decision: automatic redirect following is disabled because:
//  1. A redirect to the login page is how session expiry shows up
//  2. In-site redirects rewrite the page's identity in the frontier
//  3. Cookies set on the redirect response must reach the jar
type Client struct {
	httpClient     *http.Client
	proxyURL       string
	timeout        time.Duration
	connectTimeout time.Duration
	maxBodySize    int64
	charset        string
	insecure       bool
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithProxy routes all exchanges through proxyURL.
// Supported schemes are http, https (forward proxies such as privoxy) and
// socks5, socks5h (Tor).
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		c.proxyURL = proxyURL
	}
}

// WithTimeout sets the overall exchange timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConnectTimeout sets the TCP connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithMaxBodySize caps the decoded body size. Larger bodies are truncated.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithCharset forces the text decoding charset (e.g. "shift_jis").
func WithCharset(name string) Option {
	return func(c *Client) {
		c.charset = name
	}
}

// WithInsecureTLS disables certificate verification.
// Hidden services commonly present self-signed certificates.
func WithInsecureTLS(insecure bool) Option {
	return func(c *Client) {
		c.insecure = insecure
	}
}

// WithLogger sets the logger used for per-exchange debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		timeout:        DefaultTimeout,
		connectTimeout: DefaultConnectTimeout,
		maxBodySize:    DefaultMaxBodySize,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	transport, err := c.newTransport()
	if err != nil {
		return nil, err
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// newTransport builds the transport for the configured proxy.
func (c *Client) newTransport() (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: c.connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   c.connectTimeout,
		ResponseHeaderTimeout: c.timeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		// Content-Encoding is handled by inflate so that the site's
		// Accept-Encoding header is sent as configured.
		DisableCompression: true,
	}
	if c.insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed hidden services
	}

	if c.proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(c.proxyURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxy, c.proxyURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		socks, err := tor.NewClient(u.Host, c.connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 transport: %w", err)
		}
		transport.DialContext = socks.DialContext
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxy, u.Scheme)
	}
	return transport, nil
}

// Do performs one exchange.
//
// A non-nil Response is returned for every status code, including 4xx
// and 5xx. The error is *ConnectionError when nothing usable came back and
// wraps ErrMalformedURL when the request could not be built.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: classify(err)}
	}
	defer httpResp.Body.Close()

	resp, err := c.readResponse(httpResp, req.Binary)
	if err != nil {
		return nil, &ConnectionError{StatusCode: httpResp.StatusCode, Err: err}
	}

	c.logger.Debug("exchange",
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"bytes", len(resp.Body)+len(resp.Image),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp, nil
}

// buildRequest validates req and converts it to an *http.Request.
func (c *Client) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedURL, req.URL)
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Add(h.Name, h.Value)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return httpReq, nil
}

// readResponse reads and decodes the body of httpResp.
func (c *Client) readResponse(httpResp *http.Response, binary bool) (*Response, error) {
	encoding := httpResp.Header.Get("Content-Encoding")
	decoded, err := inflate(httpResp.Body, encoding)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(decoded, c.maxBodySize+1))
	if err != nil {
		if encoding != "" {
			return nil, fmt.Errorf("%w: reading %s body: %v", ErrProtocol, encoding, err)
		}
		return nil, classify(err)
	}

	resp := &Response{
		StatusCode:  httpResp.StatusCode,
		Headers:     convertHeaders(httpResp.Header),
		ContentType: httpResp.Header.Get("Content-Type"),
	}
	if int64(len(body)) > c.maxBodySize {
		body = body[:c.maxBodySize]
		resp.Truncated = true
	}

	if binary {
		resp.Image = body
		return resp, nil
	}
	resp.Body = decodeText(body, resp.ContentType, c.charset)
	return resp, nil
}

// convertHeaders flattens h into an ordered list sorted by name.
func convertHeaders(h http.Header) model.Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(model.Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out.Add(name, v)
		}
	}
	return out
}

// classify marks transport errors that mean the peer did not speak HTTP.
func classify(err error) error {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "malformed HTTP") || strings.Contains(msg, "server gave HTTP response to HTTPS client") {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return err
}
