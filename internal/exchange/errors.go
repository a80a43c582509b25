package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedURL is returned when a request URL cannot be parsed or is
	// not an absolute http(s) URL. The page that produced it must be dropped.
	ErrMalformedURL = errors.New("malformed URL")

	// ErrProtocol marks a response that could not be interpreted as HTTP,
	// or whose body could not be decoded.
	ErrProtocol = errors.New("protocol error")

	// ErrUnsupportedProxy is returned for proxy URLs whose scheme is not
	// http, https, socks5 or socks5h.
	ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

	// ErrUnsupportedMethod is returned for methods other than GET and POST.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// ConnectionError reports a failed exchange.
// StatusCode is the last status obtained from the server, or 0 if none was.
type ConnectionError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection failed (status %d): %v", e.StatusCode, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
