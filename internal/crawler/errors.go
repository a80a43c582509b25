package crawler

import "errors"

var (
	// ErrInvalidBaseURL is returned when a site's base URL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrNoSeeds is returned when a site has no seed paths.
	ErrNoSeeds = errors.New("no seed paths")

	// ErrNoAuthenticator is returned when a site requires login but the
	// spider has no authenticator.
	ErrNoAuthenticator = errors.New("login required but no authenticator configured")
)
