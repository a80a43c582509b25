package config

import "errors"

// Configuration validation errors.
//
// Design decision: We use package-level sentinel errors so callers can use
// errors.Is() while the wrapped message names the offending site or value.
var (
	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidParallel is returned when --parallel is not positive.
	ErrInvalidParallel = errors.New("invalid parallelism: must be positive")

	// ErrNoOutputDir is returned when no output directory is set.
	ErrNoOutputDir = errors.New("no output directory specified")

	// ErrConflictingProxy is returned when --proxy and --tor are combined.
	ErrConflictingProxy = errors.New("conflicting options: --proxy and --tor cannot be used together")

	// ErrInvalidProxy is returned when the proxy URL cannot be used.
	ErrInvalidProxy = errors.New("invalid proxy URL")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrNoSites is returned when the configuration file defines no site.
	ErrNoSites = errors.New("configuration defines no sites")

	// ErrUnknownSite is returned when a requested site is not configured.
	ErrUnknownSite = errors.New("unknown site")

	// ErrDuplicateSite is returned when two sites share a name.
	ErrDuplicateSite = errors.New("duplicate site name")

	// ErrMissingSiteName is returned when a site has no name.
	ErrMissingSiteName = errors.New("site name is required")

	// ErrInvalidBaseURL is returned when a base URL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidLocation is returned when a location would escape the output directory.
	ErrInvalidLocation = errors.New("invalid location: must be a relative path inside the output directory")

	// ErrNoSeeds is returned when a site has no begin paths.
	ErrNoSeeds = errors.New("no begin paths configured")

	// ErrInvalidDepth is returned when the depth is negative.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidDelay is returned when politeness delays are negative or inverted.
	ErrInvalidDelay = errors.New("invalid politeness delay")

	// ErrInvalidPattern is returned when a regular expression does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidLimit is returned when a count or size limit is negative.
	ErrInvalidLimit = errors.New("invalid limit: must be non-negative")

	// ErrIncompleteLogin is returned when login is required but not fully described.
	ErrIncompleteLogin = errors.New("incomplete login configuration")

	// ErrCaptchaWithoutLogin is returned when a CAPTCHA is enabled for a site without login.
	ErrCaptchaWithoutLogin = errors.New("captcha requires login.required")

	// ErrIncompleteNotify is returned when notification is enabled without a host or recipient.
	ErrIncompleteNotify = errors.New("incomplete notify configuration")
)
