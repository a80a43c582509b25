package auth

import "errors"

var (
	// ErrLoginExhausted is returned when the login-attempt budget is used up.
	ErrLoginExhausted = errors.New("login attempts exhausted")

	// ErrLoginFormNotFound is returned when the login page has no form
	// matching the configured element, submit path or POST method.
	ErrLoginFormNotFound = errors.New("login form not found")

	// ErrNoSolver is returned when a CAPTCHA is configured without a solver.
	ErrNoSolver = errors.New("CAPTCHA configured but no solver available")

	// ErrNoLoginURL is returned when the login URL is missing or not absolute.
	ErrNoLoginURL = errors.New("login URL must be an absolute http(s) URL")
)
