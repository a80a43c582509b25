// Package tor provides the proxy plumbing used to reach hidden services.
//
// Archived sites are usually only reachable through Tor, either via a
// local SOCKS5 port (tor daemon, Tor Browser) or via an HTTP forward proxy
// chained in front of it (privoxy on 127.0.0.1:8118). This package
// covers the SOCKS5 side: a Client that dials through the proxy and can
// verify it really speaks SOCKS5, an EmbeddedTor that launches a private
// Tor daemon through tornago, and v3 onion address validation used when
// site configurations are checked.
//
// The package is designed to be used with dependency injection - create a
// Client and hand its dialer to the HTTP exchange rather than using global
// state.
package tor
