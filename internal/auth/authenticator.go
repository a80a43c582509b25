package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/narchiver/internal/captcha"
	"github.com/nao1215/narchiver/internal/cookie"
	"github.com/nao1215/narchiver/internal/exchange"
	"github.com/nao1215/narchiver/internal/model"
)

// DefaultMaxAttempts is the login-attempt budget when none is configured.
const DefaultMaxAttempts = 5

// Fetcher performs one HTTP exchange. *exchange.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, req *exchange.Request) (*exchange.Response, error)
}

// Captcha describes where a site's CAPTCHA lives.
type Captcha struct {
	// Field is the form field that receives the answer.
	Field string

	// ImageURL is a fixed image location. Empty means look for an <img>.
	ImageURL string

	// Markers are substrings identifying the CAPTCHA <img> (src, id, alt or class).
	Markers []string
}

// Config describes a site's login.
type Config struct {
	// LoginURL is the absolute URL of the page holding the login form.
	LoginURL string

	// SubmitPath overrides the form action. It may be absolute or relative
	// to LoginURL.
	SubmitPath string

	// Element is the id of the form, or of an element containing it.
	Element string

	UsernameField string
	PasswordField string
	Username      string
	Password      string

	// SubmitName and SubmitValue override the form's submit button.
	SubmitName  string
	SubmitValue string

	// TestPattern, when set, identifies the login page. A final body
	// matching it means the attempt failed.
	TestPattern *regexp.Regexp

	// MaxAttempts is the login-attempt budget.
	MaxAttempts int

	// Headers are sent with every login request.
	Headers model.Headers

	// ImageAccept is the Accept header for CAPTCHA image requests.
	ImageAccept string

	// Captcha is nil for sites without one.
	Captcha *Captcha
}

// Authenticator performs login attempts against one site.
// It shares the crawl's cookie jar and is used from the crawl goroutine only.
//
// Design decision: Login reports failure as (false, nil) rather than an
// error because:
//  1. Most failures (wrong CAPTCHA, timeouts) are worth retrying
//  2. The crawler decides about backoff, not the authenticator
//  3. Only conditions no retry can fix are returned as errors
type Authenticator struct {
	cfg       Config
	loginURL  *url.URL
	fetcher   Fetcher
	jar       *cookie.Jar
	solver    captcha.Solver
	logger    *slog.Logger
	remaining int
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithSolver sets the CAPTCHA solver.
func WithSolver(s captcha.Solver) Option {
	return func(a *Authenticator) {
		a.solver = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator creates an Authenticator. jar must be the jar the
// crawler sends with page requests.
func NewAuthenticator(cfg Config, fetcher Fetcher, jar *cookie.Jar, opts ...Option) (*Authenticator, error) {
	loginURL, err := url.Parse(cfg.LoginURL)
	if err != nil || (loginURL.Scheme != "http" && loginURL.Scheme != "https") || loginURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoLoginURL, cfg.LoginURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if jar == nil {
		jar = cookie.NewJar()
	}

	a := &Authenticator{
		cfg:       cfg,
		loginURL:  loginURL,
		fetcher:   fetcher,
		jar:       jar,
		logger:    slog.Default(),
		remaining: cfg.MaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Captcha != nil && a.solver == nil {
		return nil, ErrNoSolver
	}
	return a, nil
}

// Remaining returns the number of attempts left.
func (a *Authenticator) Remaining() int {
	return a.remaining
}

// Reset restores the attempt budget.
func (a *Authenticator) Reset() {
	a.remaining = a.cfg.MaxAttempts
}

// Login makes one login attempt.
// It returns ErrLoginExhausted once the budget is used up and
// ErrLoginFormNotFound when the login page has no usable form.
func (a *Authenticator) Login(ctx context.Context) (bool, error) {
	if a.remaining <= 0 {
		return false, ErrLoginExhausted
	}
	a.remaining--
	log := a.logger.With("login_url", a.loginURL.String(), "attempts_left", a.remaining)

	page, err := a.getLoginPage(ctx)
	if err != nil {
		return a.attemptFailed(ctx, log, "login page unavailable", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return a.attemptFailed(ctx, log, "login page unparsable", err)
	}
	form, err := findLoginForm(doc, a.loginURL, a.cfg.Element, a.cfg.SubmitPath)
	if err != nil {
		return false, err
	}

	fields := []model.Header{
		{Name: a.cfg.UsernameField, Value: a.cfg.Username},
		{Name: a.cfg.PasswordField, Value: a.cfg.Password},
	}

	if a.cfg.Captcha != nil {
		answer, found, err := a.solveCaptcha(ctx, doc, form)
		if err != nil {
			return a.attemptFailed(ctx, log, "CAPTCHA not solved", err)
		}
		if found {
			fields = append(fields, model.Header{Name: a.cfg.Captcha.Field, Value: answer})
		} else {
			log.Warn("no CAPTCHA image on login page, submitting without an answer")
		}
	}

	for _, h := range form.hidden {
		if h.Name == a.cfg.UsernameField || h.Name == a.cfg.PasswordField {
			continue
		}
		fields = append(fields, h)
	}
	switch {
	case a.cfg.SubmitName != "":
		fields = append(fields, model.Header{Name: a.cfg.SubmitName, Value: a.cfg.SubmitValue})
	case form.submit != nil:
		fields = append(fields, *form.submit)
	}

	final, err := a.submit(ctx, a.submitURL(form), fields)
	if err != nil {
		return a.attemptFailed(ctx, log, "login submission failed", err)
	}

	if reason := a.rejection(final); reason != "" {
		log.Warn("login rejected", "reason", reason, "status", final.StatusCode)
		return false, nil
	}
	log.Info("login succeeded", "status", final.StatusCode)
	return true, nil
}

// attemptFailed logs a recoverable failure. Cancellation is returned as
// an error so the crawl stops.
func (a *Authenticator) attemptFailed(ctx context.Context, log *slog.Logger, msg string, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	log.Warn(msg, "error", err)
	return false, nil
}

// getLoginPage fetches the login page, following one redirect.
func (a *Authenticator) getLoginPage(ctx context.Context) (*exchange.Response, error) {
	resp, err := a.do(ctx, exchange.NewGet(a.loginURL.String(), a.headers("")))
	if err != nil {
		return nil, err
	}
	if resp.IsRedirect() {
		target, err := resp.ResolveLocation(a.loginURL.String())
		if err != nil {
			return nil, err
		}
		resp, err = a.do(ctx, exchange.NewGet(target.String(), a.headers(a.loginURL.String())))
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("login page returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// solveCaptcha locates, fetches and solves the CAPTCHA image.
// found is false when the page shows no CAPTCHA image.
func (a *Authenticator) solveCaptcha(ctx context.Context, doc *goquery.Document, form *loginForm) (answer string, found bool, err error) {
	src := a.cfg.Captcha.ImageURL
	if src == "" {
		var ok bool
		src, ok = captchaImageSrc(doc, form.sel, a.cfg.Captcha.Markers)
		if !ok {
			return "", false, nil
		}
	}

	img, err := a.captchaImage(ctx, src)
	if err != nil {
		return "", true, err
	}

	answer, err = a.solver.Solve(ctx, img)
	if err != nil {
		return "", true, err
	}
	a.logger.Debug("CAPTCHA solved", "captcha", answer)
	return answer, true, nil
}

// captchaImage returns the image bytes for src, decoding data: URIs inline.
func (a *Authenticator) captchaImage(ctx context.Context, src string) (captcha.Image, error) {
	data, mediaType, inline, err := decodeDataURI(src)
	if inline {
		if err != nil {
			return captcha.Image{}, fmt.Errorf("inline CAPTCHA image: %w", err)
		}
		return captcha.Image{Data: data, MediaType: mediaType}, nil
	}

	target, err := resolve(a.loginURL, src)
	if err != nil {
		return captcha.Image{}, fmt.Errorf("CAPTCHA image URL: %w", err)
	}

	headers := a.headers(a.loginURL.String())
	if a.cfg.ImageAccept != "" {
		headers.Set("Accept", a.cfg.ImageAccept)
	}
	req := exchange.NewGet(target.String(), headers)
	req.Binary = true

	resp, err := a.do(ctx, req)
	if err != nil {
		return captcha.Image{}, err
	}
	if resp.StatusCode >= 400 {
		return captcha.Image{}, fmt.Errorf("CAPTCHA image returned status %d", resp.StatusCode)
	}
	return captcha.Image{Data: resp.Image, MediaType: resp.ContentType}, nil
}

// submitURL picks the POST target: configured path, form action, login URL.
func (a *Authenticator) submitURL(form *loginForm) string {
	if a.cfg.SubmitPath != "" {
		if u, err := resolve(a.loginURL, a.cfg.SubmitPath); err == nil {
			return u.String()
		}
	}
	if form.action != "" {
		return form.action
	}
	return a.loginURL.String()
}

// submit posts the form and follows a redirect. It returns the final response.
func (a *Authenticator) submit(ctx context.Context, target string, fields []model.Header) (*loginResult, error) {
	resp, err := a.do(ctx, exchange.NewPost(target, a.headers(a.loginURL.String()), fields))
	if err != nil {
		return nil, err
	}
	if !resp.IsRedirect() {
		return &loginResult{Response: resp}, nil
	}

	next, err := resp.ResolveLocation(target)
	if err != nil {
		return nil, err
	}
	result := &loginResult{redirectedToLogin: a.isLoginURL(next)}
	result.Response, err = a.do(ctx, exchange.NewGet(next.String(), a.headers(a.loginURL.String())))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loginResult is the final response of a submission.
type loginResult struct {
	*exchange.Response
	redirectedToLogin bool
}

// rejection returns why a submission failed, or "" on success.
func (a *Authenticator) rejection(final *loginResult) string {
	switch {
	case final.StatusCode >= 400:
		return "error status"
	case final.redirectedToLogin:
		return "redirected back to login page"
	case final.IsRedirect():
		if next, err := final.ResolveLocation(a.loginURL.String()); err == nil && a.isLoginURL(next) {
			return "redirected back to login page"
		}
	}
	if a.cfg.TestPattern != nil && a.cfg.TestPattern.MatchString(final.Body) {
		return "login page served again"
	}
	return ""
}

// isLoginURL reports whether u is the login page.
func (a *Authenticator) isLoginURL(u *url.URL) bool {
	return u.Host == a.loginURL.Host && u.Path == a.loginURL.Path
}

// do performs an exchange and feeds the response cookies to the jar.
func (a *Authenticator) do(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := a.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	a.jar.Ingest(resp.Headers)
	return resp, nil
}

// headers returns the request headers with referer and current cookies.
func (a *Authenticator) headers(referer string) model.Headers {
	headers := a.cfg.Headers.Clone()
	if referer != "" {
		headers.Set("Referer", referer)
	}
	if value, ok := a.jar.Header(); ok {
		headers.Set("Cookie", value)
	}
	return headers
}
