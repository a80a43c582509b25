package exchange

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/nao1215/narchiver/internal/model"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()

	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClientDo(t *testing.T) {
	t.Parallel()

	t.Run("sends headers in order and returns the body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Seen-UA", r.Header.Get("User-Agent"))
			w.Header().Set("X-Seen-Cookie", r.Header.Get("Cookie"))
			w.Header().Add("Set-Cookie", "sid=1")
			w.Header().Add("Set-Cookie", "lang=en")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, "<html>ok</html>")
		}))
		defer server.Close()

		var headers model.Headers
		headers.Add("User-Agent", "narchiver-test")
		headers.Add("Cookie", "sid=0")

		resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL+"/a", headers))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if resp.Body != "<html>ok</html>" {
			t.Errorf("unexpected body %q", resp.Body)
		}
		if ua, ck := resp.Headers.Get("X-Seen-UA"), resp.Headers.Get("X-Seen-Cookie"); ua != "narchiver-test" || ck != "sid=0" {
			t.Errorf("headers not forwarded: ua=%q cookie=%q", ua, ck)
		}
		if got := resp.Headers.Values("set-cookie"); len(got) != 2 || got[0] != "sid=1" || got[1] != "lang=en" {
			t.Errorf("unexpected Set-Cookie values %v", got)
		}
	})

	t.Run("does not follow redirects", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/members" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			_, _ = io.WriteString(w, "login page")
		}))
		defer server.Close()

		resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL+"/members", nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.IsRedirect() {
			t.Fatalf("expected a redirect, got %d", resp.StatusCode)
		}
		if resp.Location() != "/login" {
			t.Errorf("expected Location /login, got %q", resp.Location())
		}

		loc, err := resp.ResolveLocation(server.URL + "/members")
		if err != nil {
			t.Fatalf("ResolveLocation: %v", err)
		}
		if loc.String() != server.URL+"/login" {
			t.Errorf("unexpected resolved location %s", loc)
		}
	})

	t.Run("posts a form body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Seen-Type", r.Header.Get("Content-Type"))
			w.Header().Set("X-Seen-Referer", r.Header.Get("Referer"))
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write(b)
		}))
		defer server.Close()

		var headers model.Headers
		headers.Add("Referer", server.URL+"/login")
		fields := []model.Header{{Name: "user", Value: "a b"}, {Name: "pass", Value: "p&w"}}

		resp, err := newTestClient(t).Do(context.Background(), NewPost(server.URL+"/session", headers, fields))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("expected 202, got %d", resp.StatusCode)
		}
		if resp.Body != "user=a+b&pass=p%26w" {
			t.Errorf("unexpected body %q", resp.Body)
		}
		if got := resp.Headers.Get("X-Seen-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", got)
		}
		if got := resp.Headers.Get("X-Seen-Referer"); got != server.URL+"/login" {
			t.Errorf("unexpected referer %q", got)
		}
	})

	t.Run("returns error statuses as responses", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", resp.StatusCode)
		}
	})

	t.Run("returns binary bodies untouched", func(t *testing.T) {
		t.Parallel()

		png := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(png)
		}))
		defer server.Close()

		req := NewGet(server.URL+"/captcha.png", nil)
		req.Binary = true
		resp, err := newTestClient(t).Do(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(resp.Image, png) {
			t.Errorf("unexpected image bytes %v", resp.Image)
		}
		if resp.Body != "" {
			t.Errorf("expected empty text body, got %q", resp.Body)
		}
		if resp.ContentType != "image/png" {
			t.Errorf("unexpected content type %q", resp.ContentType)
		}
	})

	t.Run("truncates large bodies", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, strings.Repeat("x", 100))
		}))
		defer server.Close()

		resp, err := newTestClient(t, WithMaxBodySize(10)).Do(context.Background(), NewGet(server.URL, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(resp.Body) != 10 || !resp.Truncated {
			t.Errorf("expected a 10 byte truncated body, got %d bytes truncated=%v", len(resp.Body), resp.Truncated)
		}
	})
}

func TestClientDoEncodings(t *testing.T) {
	t.Parallel()

	const page = "<html><body>compressed</body></html>"

	gzipBody := func() []byte {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(page))
		_ = zw.Close()
		return buf.Bytes()
	}
	zlibBody := func() []byte {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, _ = zw.Write([]byte(page))
		_ = zw.Close()
		return buf.Bytes()
	}
	brBody := func() []byte {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, _ = bw.Write([]byte(page))
		_ = bw.Close()
		return buf.Bytes()
	}

	testCases := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"gzip", "gzip", gzipBody()},
		{"deflate", "deflate", zlibBody()},
		{"brotli", "br", brBody()},
		{"identity", "", []byte(page)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.encoding != "" {
					w.Header().Set("Content-Encoding", tc.encoding)
				}
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write(tc.body)
			}))
			defer server.Close()

			resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL, nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Body != page {
				t.Errorf("expected %q, got %q", page, resp.Body)
			}
		})
	}

	for _, encoding := range []string{"gzip", "deflate", "br"} {
		t.Run("empty "+encoding+" redirect", func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				w.Header().Set("Location", "/login")
				w.WriteHeader(http.StatusFound)
			}))
			defer server.Close()

			resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL+"/members", nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !resp.IsRedirect() || resp.Location() != "/login" {
				t.Errorf("expected a redirect to /login, got %d %q", resp.StatusCode, resp.Location())
			}
			if resp.Body != "" {
				t.Errorf("expected an empty body, got %q", resp.Body)
			}
		})
	}

	t.Run("corrupt gzip is a protocol error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = io.WriteString(w, "definitely not gzip")
		}))
		defer server.Close()

		_, err := newTestClient(t).Do(context.Background(), NewGet(server.URL, nil))
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected *ConnectionError, got %v", err)
		}
		if connErr.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 on the error, got %d", connErr.StatusCode)
		}
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})
}

func TestClientDoCharset(t *testing.T) {
	t.Parallel()

	// "日本" in Shift_JIS
	sjis := []byte{0x93, 0xfa, 0x96, 0x7b}

	t.Run("from content type", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=Shift_JIS")
			_, _ = w.Write(sjis)
		}))
		defer server.Close()

		resp, err := newTestClient(t).Do(context.Background(), NewGet(server.URL, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Body != "日本" {
			t.Errorf("expected decoded text, got %q", resp.Body)
		}
	})

	t.Run("forced charset", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write(sjis)
		}))
		defer server.Close()

		resp, err := newTestClient(t, WithCharset("shift_jis")).Do(context.Background(), NewGet(server.URL, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Body != "日本" {
			t.Errorf("expected decoded text, got %q", resp.Body)
		}
	})
}

func TestClientDoErrors(t *testing.T) {
	t.Parallel()

	t.Run("malformed URLs", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t)
		for _, target := range []string{"::not a url", "ftp://example.com/file", "/relative/path", "http://"} {
			_, err := client.Do(context.Background(), NewGet(target, nil))
			if !errors.Is(err, ErrMalformedURL) {
				t.Errorf("Do(%q): expected ErrMalformedURL, got %v", target, err)
			}
		}
	})

	t.Run("unsupported method", func(t *testing.T) {
		t.Parallel()

		_, err := newTestClient(t).Do(context.Background(), &Request{Method: "DELETE", URL: "http://example.com"})
		if !errors.Is(err, ErrUnsupportedMethod) {
			t.Errorf("expected ErrUnsupportedMethod, got %v", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		target := server.URL
		server.Close()

		_, err := newTestClient(t, WithConnectTimeout(time.Second)).Do(context.Background(), NewGet(target, nil))
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected *ConnectionError, got %v", err)
		}
		if connErr.StatusCode != 0 {
			t.Errorf("expected status 0, got %d", connErr.StatusCode)
		}
		if errors.Is(err, ErrProtocol) {
			t.Error("connection refused must not be a protocol error")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(t).Do(ctx, NewGet(server.URL, nil))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
	})
}

func TestNewClientProxy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		proxy   string
		wantErr bool
	}{
		{"", false},
		{"http://127.0.0.1:8118", false},
		{"socks5://127.0.0.1:9050", false},
		{"socks5h://127.0.0.1:9050", false},
		{"ftp://127.0.0.1:21", true},
		{"socks5://127.0.0.1", true},
	}

	for _, tc := range testCases {
		t.Run(tc.proxy, func(t *testing.T) {
			t.Parallel()

			_, err := NewClient(WithProxy(tc.proxy))
			if (err != nil) != tc.wantErr {
				t.Errorf("NewClient(WithProxy(%q)) error = %v, wantErr %v", tc.proxy, err, tc.wantErr)
			}
		})
	}
}

func TestHTTPProxyIsUsed(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "via proxy "+r.URL.String())
	}))
	defer proxy.Close()

	client := newTestClient(t, WithProxy(proxy.URL))
	resp, err := client.Do(context.Background(), NewGet("http://hidden.example/page", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "via proxy http://hidden.example/page" {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestEncodeForm(t *testing.T) {
	t.Parallel()

	got := EncodeForm([]model.Header{{Name: "z", Value: "1"}, {Name: "a", Value: "x y"}, {Name: "tok", Value: ""}})
	if got != "z=1&a=x+y&tok=" {
		t.Errorf("unexpected encoding %q", got)
	}
	if EncodeForm(nil) != "" {
		t.Error("expected empty encoding for no fields")
	}
}

func TestConnectionError(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &ConnectionError{StatusCode: 502, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
	if strings.Contains((&ConnectionError{Err: inner}).Error(), "status") {
		t.Error("expected no status in message when none was obtained")
	}
}
