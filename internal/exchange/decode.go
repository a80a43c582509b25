package exchange

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// inflate wraps r so that reading it removes the Content-Encoding layers
// listed in encoding. Layers are removed in reverse order of application.
// An empty body is returned as is whatever its declared encoding, as sent
// with 204, 304 and redirect responses.
func inflate(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		return r, nil
	}
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return br, nil
	}
	r = br

	layers := strings.Split(encoding, ",")
	for i := len(layers) - 1; i >= 0; i-- {
		switch strings.ToLower(strings.TrimSpace(layers[i])) {
		case "", "identity":
		case "gzip", "x-gzip":
			gr, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("%w: gzip header: %v", ErrProtocol, err)
			}
			r = gr
		case "deflate":
			r = deflateReader(r)
		case "br":
			r = brotli.NewReader(r)
		default:
			return nil, fmt.Errorf("%w: unknown content encoding %q", ErrProtocol, layers[i])
		}
	}
	return r, nil
}

// deflateReader accepts zlib-wrapped and raw DEFLATE streams.
func deflateReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	// A zlib stream starts with CMF 0x78 for the 32K window DEFLATE method.
	if head, err := br.Peek(1); err == nil && head[0] == 0x78 {
		if zr, err := zlib.NewReader(br); err == nil {
			return zr
		}
	}
	return flate.NewReader(br)
}

// decodeText converts body to UTF-8.
// A forced charset name wins over the Content-Type and <meta> declarations.
// Unknown charsets leave the body untouched.
func decodeText(body []byte, contentType, forced string) string {
	if forced != "" {
		enc, err := htmlindex.Get(forced)
		if err != nil {
			return string(body)
		}
		out, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return string(body)
		}
		return string(out)
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(out)
}
