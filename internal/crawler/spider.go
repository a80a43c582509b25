package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nao1215/narchiver/internal/cookie"
	"github.com/nao1215/narchiver/internal/exchange"
	"github.com/nao1215/narchiver/internal/model"
)

// Default backoffs.
const (
	// DefaultBackoff is the pause after a recoverable fetch failure.
	DefaultBackoff = 30 * time.Second

	// DefaultLoginBackoff is the pause after a failed login attempt.
	DefaultLoginBackoff = 60 * time.Second
)

// Fetcher performs one HTTP exchange. *exchange.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, req *exchange.Request) (*exchange.Response, error)
}

// Authenticator logs the crawl session in. *auth.Authenticator implements it.
type Authenticator interface {
	// Login makes one attempt. A non-nil error is fatal to the crawl.
	Login(ctx context.Context) (bool, error)

	// Reset restores the login-attempt budget after a successful login.
	Reset()
}

// Sink receives completed pages. *storage.Buffer implements it.
type Sink interface {
	// Add buffers page and returns the number of pages persisted by a
	// flush it triggered.
	Add(ctx context.Context, page *model.Page) (int, error)

	// Flush persists everything still buffered.
	Flush(ctx context.Context) (int, error)
}

// Site is the crawl configuration a Spider works from.
// It is read once and never modified by the Spider.
type Site struct {
	// Name identifies the site in logs.
	Name string

	// BaseURL is prefixed to every tag URL.
	BaseURL string

	// Seeds are the tag URLs the crawl starts from.
	Seeds []string

	// MaxDepth limits expansion: only pages with Depth < MaxDepth are expanded.
	MaxDepth int

	// Rules filter extracted links.
	Rules Rules

	// Headers are sent with every page request.
	Headers model.Headers

	// Cookies enables the session cookie jar. Sites with an authenticator
	// always use it.
	Cookies bool

	// LoginRequired starts the crawl in StateNeedLogin.
	LoginRequired bool

	// LoginPath is matched against redirect targets to detect session expiry.
	LoginPath string

	// LoginPattern, when set, marks a fetched body as the login page.
	LoginPattern *regexp.Regexp

	// Interrupts is the per-page interrupt budget.
	Interrupts int
}

// Result summarises one crawl.
type Result struct {
	Site       string
	StartedAt  time.Time
	FinishedAt time.Time

	// Fetched counts pages handed to the sink.
	Fetched int

	// Persisted counts pages the sink wrote.
	Persisted int

	// Dropped counts pages abandoned for good.
	Dropped int

	// Retries counts recoverable fetch failures.
	Retries int

	// Redirects counts in-site redirects followed.
	Redirects int

	// Logins counts successful logins.
	Logins int

	// LoginFailures counts failed login attempts.
	LoginFailures int

	// Discovered is the size of the visited set at the end.
	Discovered int

	// Err is the crawl-fatal error, if any.
	Err error
}

// Duration returns how long the crawl ran.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Spider crawls one site with a login/retry/backoff state machine.
//
// Design decision: the Spider is strictly sequential because:
//  1. Login forms depend on state set by the immediately preceding GET
//  2. The cookie jar is mutated by every response
//  3. Politeness requires exactly one request in flight per site
type Spider struct {
	site    Site
	base    *url.URL
	fetcher Fetcher
	sink    Sink
	auth    Authenticator
	jar     *cookie.Jar
	pacer   *Pacer
	logger  *slog.Logger

	backoff      time.Duration
	loginBackoff time.Duration
	now          func() time.Time

	frontier  *Frontier
	visited   *Visited
	extractor *Extractor

	state      State
	loginCycle int
	result     Result
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithAuthenticator sets the login driver.
func WithAuthenticator(a Authenticator) SpiderOption {
	return func(s *Spider) {
		s.auth = a
	}
}

// WithJar sets the cookie jar. The same jar must be shared with the authenticator.
func WithJar(jar *cookie.Jar) SpiderOption {
	return func(s *Spider) {
		if jar != nil {
			s.jar = jar
		}
	}
}

// WithPacer sets the politeness pacer.
func WithPacer(p *Pacer) SpiderOption {
	return func(s *Spider) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithBackoff sets the pause after a recoverable fetch failure.
func WithBackoff(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.backoff = d
	}
}

// WithLoginBackoff sets the pause after a failed login attempt.
func WithLoginBackoff(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.loginBackoff = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SpiderOption {
	return func(s *Spider) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) SpiderOption {
	return func(s *Spider) {
		s.now = now
	}
}

// NewSpider creates a Spider for site.
func NewSpider(site Site, fetcher Fetcher, sink Sink, opts ...SpiderOption) (*Spider, error) {
	base, err := url.Parse(strings.TrimRight(site.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, site.BaseURL)
	}
	if len(site.Seeds) == 0 {
		return nil, ErrNoSeeds
	}
	if site.Interrupts <= 0 {
		site.Interrupts = model.DefaultInterrupts
	}

	s := &Spider{
		site:         site,
		base:         base,
		fetcher:      fetcher,
		sink:         sink,
		jar:          cookie.NewJar(),
		pacer:        NewPacer(0, 0, 0),
		logger:       slog.Default(),
		backoff:      DefaultBackoff,
		loginBackoff: DefaultLoginBackoff,
		now:          time.Now,
		frontier:     NewFrontier(),
		visited:      NewVisited(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("site", site.Name)
	s.extractor = NewExtractor(base.String(), site.Rules, s.visited, site.Interrupts)

	if site.LoginRequired && s.auth == nil {
		return nil, ErrNoAuthenticator
	}
	return s, nil
}

// State returns the current state.
func (s *Spider) State() State {
	return s.state
}

// Run crawls the site until the frontier is empty, a crawl-fatal error
// occurs or ctx is cancelled. The write buffer is always flushed before
// Run returns, even after cancellation.
func (s *Spider) Run(ctx context.Context) (*Result, error) {
	s.result = Result{Site: s.site.Name, StartedAt: s.now()}
	s.loadSeeds()

	s.state = StateVisiting
	if s.site.LoginRequired {
		s.state = StateNeedLogin
	}
	s.logger.Info("crawl started", "base_url", s.base.String(), "seeds", len(s.site.Seeds), "state", s.state.String())

	var fatal error
	for s.state != StateDone {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}

		switch s.state {
		case StateNeedLogin:
			s.state, fatal = s.login(ctx)
		case StateVisiting:
			s.state = s.visitNext(ctx)
		case StateBackoff:
			if err := Sleep(ctx, s.backoff); err != nil {
				fatal = err
				s.state = StateDone
				continue
			}
			s.state = StateVisiting
		}
	}
	s.state = StateDone

	n, err := s.sink.Flush(context.WithoutCancel(ctx))
	s.result.Persisted += n
	if err != nil {
		s.logger.Error("final flush failed", "error", err)
	}

	s.result.Discovered = s.visited.Len()
	s.result.FinishedAt = s.now()
	s.result.Err = fatal

	s.logger.Info("crawl finished",
		"fetched", s.result.Fetched,
		"persisted", s.result.Persisted,
		"dropped", s.result.Dropped,
		"retries", s.result.Retries,
		"duration", s.result.Duration().Round(time.Second),
	)
	result := s.result
	return &result, fatal
}

// loadSeeds enqueues the configured seed paths.
func (s *Spider) loadSeeds() {
	for _, seed := range s.site.Seeds {
		if !strings.HasPrefix(seed, "/") {
			seed = "/" + seed
		}
		if s.visited.Add(seed) {
			s.frontier.PushBack(model.NewSeedPage(seed, s.site.Interrupts))
		}
	}
}

// login performs one login attempt and returns the next state.
func (s *Spider) login(ctx context.Context) (State, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return StateDone, err
	}

	ok, err := s.auth.Login(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StateDone, ctx.Err()
		}
		s.logger.Error("login aborted", "error", err)
		return StateDone, err
	}

	if !ok {
		s.result.LoginFailures++
		s.logger.Warn("login failed, backing off", "backoff", s.loginBackoff)
		if err := Sleep(ctx, s.loginBackoff); err != nil {
			return StateDone, err
		}
		return StateNeedLogin, nil
	}

	s.auth.Reset()
	s.loginCycle++
	s.result.Logins++
	s.logger.Info("logged in", "cycle", s.loginCycle)
	return StateVisiting, nil
}

// visitNext fetches the frontier head and applies its outcome.
func (s *Spider) visitNext(ctx context.Context) State {
	page, ok := s.frontier.PopFront()
	if !ok {
		return StateDone
	}

	if err := s.pacer.Wait(ctx); err != nil {
		s.frontier.PushFront(page)
		return StateVisiting
	}

	outcome := s.fetch(ctx, page)
	return s.apply(ctx, page, outcome)
}

// fetch performs the exchange for page and classifies the response.
func (s *Spider) fetch(ctx context.Context, page *model.Page) Outcome {
	req := exchange.NewGet(s.absolute(page.TagURL), s.requestHeaders(page))
	resp, err := s.fetcher.Do(ctx, req)
	if err != nil {
		var connErr *exchange.ConnectionError
		switch {
		case ctx.Err() != nil:
			return Outcome{Kind: OutcomeCancelled, Err: err}
		case errors.Is(err, exchange.ErrMalformedURL):
			return Outcome{Kind: OutcomeDrop, Reason: "malformed URL", Err: err}
		case errors.As(err, &connErr):
			return Outcome{Kind: OutcomeRetry, StatusCode: connErr.StatusCode, Reason: "connection failed", Err: err}
		default:
			return Outcome{Kind: OutcomeDrop, Reason: "request rejected", Err: err}
		}
	}

	if s.usesJar() {
		s.jar.Ingest(resp.Headers)
	}
	return s.classify(req.URL, resp, page)
}

// classify maps a response to an outcome. Fetched bodies are stored on page.
func (s *Spider) classify(requestURL string, resp *exchange.Response, page *model.Page) Outcome {
	status := resp.StatusCode

	if resp.IsRedirect() {
		target, err := resp.ResolveLocation(requestURL)
		if err != nil {
			return Outcome{Kind: OutcomeDrop, StatusCode: status, Reason: "unparsable redirect", Err: err}
		}
		if s.isLoginURL(target) {
			return Outcome{Kind: OutcomeNeedLogin, StatusCode: status, Reason: "redirected to login"}
		}
		tagURL, ok := s.extractor.Relative(target.String())
		if !ok {
			if strings.EqualFold(target.Host, s.base.Host) && !strings.EqualFold(target.Scheme, s.base.Scheme) {
				s.logger.Warn("redirect switches scheme on the site's own host, check baseURL",
					"url", requestURL, "location", target.String())
				return Outcome{Kind: OutcomeDrop, StatusCode: status, Reason: "redirect changes scheme"}
			}
			return Outcome{Kind: OutcomeDrop, StatusCode: status, Reason: "redirect leaves the site"}
		}
		if s.visited.Contains(tagURL) {
			return Outcome{Kind: OutcomeDrop, StatusCode: status, Target: tagURL, Reason: "redirect to visited page"}
		}
		return Outcome{Kind: OutcomeRedirect, StatusCode: status, Target: tagURL}
	}

	switch {
	case isRetryableStatus(status):
		return Outcome{Kind: OutcomeRetry, StatusCode: status, Reason: http.StatusText(status)}
	case status >= 300:
		return Outcome{Kind: OutcomeDrop, StatusCode: status, Reason: http.StatusText(status)}
	case status < 200:
		return Outcome{Kind: OutcomeDrop, StatusCode: status, Reason: "unexpected status"}
	}

	if s.site.LoginPattern != nil && s.site.LoginPattern.MatchString(resp.Body) {
		return Outcome{Kind: OutcomeNeedLogin, StatusCode: status, Reason: "login page served"}
	}

	page.SetBody(resp.Body, status, s.now())
	return Outcome{Kind: OutcomeFetched, StatusCode: status}
}

// apply performs the transition for outcome and returns the next state.
func (s *Spider) apply(ctx context.Context, page *model.Page, outcome Outcome) State {
	log := s.logger.With("url", page.TagURL, "depth", page.Depth, "status", outcome.StatusCode)

	switch outcome.Kind {
	case OutcomeFetched:
		if page.Depth < s.site.MaxDepth {
			children := s.extractor.Extract(page)
			s.frontier.PushBack(children...)
			log.Debug("page expanded", "children", len(children))
		}
		s.result.Fetched++
		n, err := s.sink.Add(ctx, page)
		s.result.Persisted += n
		if err != nil {
			log.Error("persisting pages failed", "error", err)
		}
		log.Info("page fetched", "queued", s.frontier.Len())
		return StateVisiting

	case OutcomeNeedLogin:
		if s.auth == nil {
			s.result.Dropped++
			log.Warn("page requires login but no login is configured", "reason", outcome.Reason)
			return StateVisiting
		}
		if page.MarkAuthWall(s.loginCycle) && !page.Interrupt() {
			s.result.Dropped++
			log.Warn("page dropped: session rejected after login", "path", page.Path)
			return StateNeedLogin
		}
		s.frontier.PushFront(page)
		log.Info("session expired", "reason", outcome.Reason, "interrupts_remaining", page.InterruptsRemaining)
		return StateNeedLogin

	case OutcomeRedirect:
		s.visited.Add(outcome.Target)
		log.Info("redirected", "target", outcome.Target)
		page.TagURL = outcome.Target
		s.frontier.PushFront(page)
		s.result.Redirects++
		return StateVisiting

	case OutcomeRetry:
		s.result.Retries++
		if page.Interrupt() {
			s.frontier.PushFront(page)
			log.Warn("fetch failed, will retry", "reason", outcome.Reason, "error", outcome.Err,
				"interrupts_remaining", page.InterruptsRemaining)
		} else {
			s.result.Dropped++
			log.Warn("page dropped: interrupt budget exhausted", "reason", outcome.Reason, "error", outcome.Err, "path", page.Path)
		}
		return StateBackoff

	case OutcomeCancelled:
		s.frontier.PushFront(page)
		return StateVisiting

	default:
		s.result.Dropped++
		log.Info("page dropped", "reason", outcome.Reason, "error", outcome.Err, "target", outcome.Target)
		return StateVisiting
	}
}

// usesJar reports whether page requests carry and update the session jar.
// A site with an authenticator always does, since its session lives in the jar.
func (s *Spider) usesJar() bool {
	return s.site.Cookies || s.auth != nil
}

// requestHeaders returns the headers for fetching page.
func (s *Spider) requestHeaders(page *model.Page) model.Headers {
	headers := s.site.Headers.Clone()
	if page.Referer != "" {
		headers.Set("Referer", s.absolute(page.Referer))
	}
	if s.usesJar() {
		if value, ok := s.jar.Header(); ok {
			headers.Set("Cookie", value)
		}
	}
	return headers
}

// absolute prefixes a tag URL with the base URL.
func (s *Spider) absolute(tagURL string) string {
	return s.base.String() + tagURL
}

// isLoginURL reports whether target points at the login page.
func (s *Spider) isLoginURL(target *url.URL) bool {
	if s.site.LoginPath == "" {
		return false
	}
	return strings.Contains(target.RequestURI(), s.site.LoginPath)
}

// isRetryableStatus reports statuses that are worth another attempt.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
