// Package exchange performs single HTTP request/response exchanges for the
// crawler and the login flow.
//
// An exchange is deliberately narrow: one request in, one response out.
// Redirects are never followed automatically because the crawler must see
// them to detect session expiry and in-site moves. Response bodies are
// inflated (gzip, deflate, br) and decoded to UTF-8 before they are handed
// back.
//
// Failures are reported through three distinguishable values:
//   - *ConnectionError for network and transport failures (retryable)
//   - ErrProtocol, wrapped inside a ConnectionError, when the peer answered
//     with something that is not valid HTTP or an undecodable body (retryable)
//   - ErrMalformedURL when the request cannot even be built (drop the page)
package exchange
