package captcha

import "errors"

var (
	// ErrEmptyAnswer is returned when a solver responds without any characters.
	ErrEmptyAnswer = errors.New("solver returned an empty answer")

	// ErrMissingAPIKey is returned when no API key is configured for a hosted solver.
	ErrMissingAPIKey = errors.New("API key not configured")

	// ErrUnknownSolver is returned for an unsupported solver kind.
	ErrUnknownSolver = errors.New("unknown CAPTCHA solver")

	// ErrMissingEndpoint is returned when the HTTP solver has no endpoint.
	ErrMissingEndpoint = errors.New("CAPTCHA endpoint not configured")

	// ErrEmptyImage is returned when there are no image bytes to solve.
	ErrEmptyImage = errors.New("empty CAPTCHA image")
)
