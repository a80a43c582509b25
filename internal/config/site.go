package config

import (
	"cmp"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/narchiver/internal/auth"
	"github.com/nao1215/narchiver/internal/captcha"
	"github.com/nao1215/narchiver/internal/crawler"
	"github.com/nao1215/narchiver/internal/model"
	"github.com/nao1215/narchiver/internal/tor"
)

// Default site values, applied when a site and the defaults section leave
// a field empty.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptImage    = "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5"
	DefaultAcceptLanguage = "en-US,en;q=0.5"
	DefaultAcceptEncoding = "gzip, deflate, br"
	DefaultConnection     = "keep-alive"

	// DefaultMinDelay and DefaultMaxDelay bound the wait between two requests.
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 6 * time.Second
)

// SiteConfig holds the crawl settings of one site.
type SiteConfig struct {
	// Name identifies the site on the command line and in the ledger.
	Name string `yaml:"name"`

	// BaseURL is prefixed to every tag URL, e.g. "http://forum.example".
	BaseURL string `yaml:"baseURL"`

	// Location is the directory under the output root. Defaults to Name.
	Location string `yaml:"location,omitempty"`

	// Begin lists the seed tag URLs.
	Begin []string `yaml:"begin"`

	// Depth is the maximum crawl depth. Pages at this depth are stored but not expanded.
	Depth int `yaml:"depth"`

	// Link rules, all substring matches against tag URLs.
	Exclude            []string `yaml:"exclude,omitempty"`
	ExcludeIfEqual     []string `yaml:"excludeIfEqual,omitempty"`
	StopAt             []string `yaml:"stopAt,omitempty"`
	MustInclude        []string `yaml:"mustInclude,omitempty"`
	ParentChildExclude []string `yaml:"parentChildExclude,omitempty"`

	// PassFilter is a regular expression a tag URL must match to be stored.
	PassFilter string `yaml:"passFilter,omitempty"`

	// Cookies enables the session cookie jar.
	Cookies bool `yaml:"cookies"`

	// Cookie seeds the jar, e.g. "lang=en; theme=dark".
	Cookie string `yaml:"cookie,omitempty"`

	Headers HeaderConfig `yaml:"headers,omitempty"`

	// Charset forces the body encoding instead of the Content-Type charset.
	Charset string `yaml:"charset,omitempty"`

	Login      LoginConfig      `yaml:"login,omitempty"`
	Captcha    CaptchaConfig    `yaml:"captcha,omitempty"`
	Politeness PolitenessConfig `yaml:"politeness,omitempty"`

	// Interrupts is the per-page budget of recoverable failures.
	Interrupts int `yaml:"interrupts,omitempty"`

	// WriteBuffer is the number of pages buffered before a flush.
	WriteBuffer int `yaml:"writeBuffer,omitempty"`

	// Compress packs the run directory into a .tar.gz when the crawl ends.
	Compress bool `yaml:"compress"`

	// MaxBodySize caps the bytes read from one response.
	MaxBodySize int64 `yaml:"maxBodySize,omitempty"`
}

// HeaderConfig is the request header set sent to a site.
type HeaderConfig struct {
	UserAgent      string `yaml:"userAgent,omitempty"`
	Accept         string `yaml:"accept,omitempty"`
	AcceptImage    string `yaml:"acceptImage,omitempty"`
	AcceptLanguage string `yaml:"acceptLanguage,omitempty"`
	AcceptEncoding string `yaml:"acceptEncoding,omitempty"`
	Connection     string `yaml:"connection,omitempty"`

	// Extra headers are sent after the standard ones, sorted by name.
	Extra map[string]string `yaml:"extra,omitempty"`
}

// LoginConfig describes a site's login form.
type LoginConfig struct {
	// Required starts every crawl with a login.
	Required bool `yaml:"required"`

	// URL is the login page, relative to BaseURL or absolute.
	URL string `yaml:"url,omitempty"`

	// Submit overrides the form action, relative to BaseURL or absolute.
	Submit string `yaml:"submit,omitempty"`

	// Element is the id of the form or of an element containing it.
	Element string `yaml:"element,omitempty"`

	UsernameField string `yaml:"usernameField,omitempty"`
	PasswordField string `yaml:"passwordField,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`

	// PasswordEnv names an environment variable holding the password.
	// It is used when Password is empty.
	PasswordEnv string `yaml:"passwordEnv,omitempty"`

	SubmitName  string `yaml:"submitName,omitempty"`
	SubmitValue string `yaml:"submitValue,omitempty"`

	// TestPattern is a regular expression identifying the login page.
	TestPattern string `yaml:"testPattern,omitempty"`

	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// CaptchaConfig describes a login CAPTCHA and the solver for it.
type CaptchaConfig struct {
	Enabled bool `yaml:"enabled"`

	// Field is the form field receiving the answer.
	Field string `yaml:"field,omitempty"`

	// ImageURL is a fixed image location, relative to BaseURL or absolute.
	ImageURL string `yaml:"imageURL,omitempty"`

	// Markers identify the CAPTCHA <img> by src, id, alt or class.
	Markers []string `yaml:"markers,omitempty"`

	// Solver is "claude", "openai" or "http".
	Solver   string `yaml:"solver,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	MaxWidth uint   `yaml:"maxWidth,omitempty"`
}

// PolitenessConfig bounds the request rate.
type PolitenessConfig struct {
	MinDelay          time.Duration `yaml:"minDelay,omitempty"`
	MaxDelay          time.Duration `yaml:"maxDelay,omitempty"`
	Backoff           time.Duration `yaml:"backoff,omitempty"`
	LoginBackoff      time.Duration `yaml:"loginBackoff,omitempty"`
	RequestsPerMinute int           `yaml:"requestsPerMinute,omitempty"`
}

// applyDefaults fills fields left empty by both the site and the defaults section.
func (s *SiteConfig) applyDefaults() {
	if s.Location == "" {
		s.Location = s.Name
	}
	h := &s.Headers
	h.UserAgent = cmp.Or(h.UserAgent, DefaultUserAgent)
	h.Accept = cmp.Or(h.Accept, DefaultAccept)
	h.AcceptImage = cmp.Or(h.AcceptImage, DefaultAcceptImage)
	h.AcceptLanguage = cmp.Or(h.AcceptLanguage, DefaultAcceptLanguage)
	h.AcceptEncoding = cmp.Or(h.AcceptEncoding, DefaultAcceptEncoding)
	h.Connection = cmp.Or(h.Connection, DefaultConnection)

	p := &s.Politeness
	if p.MinDelay == 0 && p.MaxDelay == 0 {
		p.MinDelay, p.MaxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = p.MinDelay
	}
	if p.Backoff == 0 {
		p.Backoff = crawler.DefaultBackoff
	}
	if p.LoginBackoff == 0 {
		p.LoginBackoff = crawler.DefaultLoginBackoff
	}
	if s.Login.Password == "" && s.Login.PasswordEnv != "" {
		s.Login.Password = os.Getenv(s.Login.PasswordEnv)
	}
}

// Validate checks the site settings and returns the first problem found,
// wrapped with the site name.
func (s *SiteConfig) Validate() error {
	if s.Name == "" {
		return ErrMissingSiteName
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("site %q: %w", s.Name, err)
	}
	return nil
}

func (s *SiteConfig) validate() error {
	base, err := url.Parse(s.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, s.BaseURL)
	}
	if tor.IsOnionHost(base.Hostname()) {
		if err := tor.ValidateHost(base.Hostname()); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
		}
	}
	if location := cmp.Or(s.Location, s.Name); !filepath.IsLocal(location) {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	if len(s.Begin) == 0 {
		return ErrNoSeeds
	}
	if s.Depth < 0 {
		return ErrInvalidDepth
	}

	p := s.Politeness
	if p.MinDelay < 0 || p.MaxDelay < p.MinDelay || p.Backoff < 0 || p.LoginBackoff < 0 {
		return fmt.Errorf("%w: min %s, max %s", ErrInvalidDelay, p.MinDelay, p.MaxDelay)
	}
	if p.RequestsPerMinute < 0 || s.Interrupts < 0 || s.WriteBuffer < 0 || s.MaxBodySize < 0 || s.Login.MaxAttempts < 0 {
		return ErrInvalidLimit
	}

	if _, err := compile(s.PassFilter); err != nil {
		return fmt.Errorf("%w: passFilter: %w", ErrInvalidPattern, err)
	}
	if _, err := compile(s.Login.TestPattern); err != nil {
		return fmt.Errorf("%w: login.testPattern: %w", ErrInvalidPattern, err)
	}

	if s.Login.Required {
		switch {
		case s.Login.URL == "":
			return fmt.Errorf("%w: login.url is required", ErrIncompleteLogin)
		case s.Login.UsernameField == "" || s.Login.PasswordField == "":
			return fmt.Errorf("%w: login.usernameField and login.passwordField are required", ErrIncompleteLogin)
		}
		if _, err := s.resolve(s.Login.URL); err != nil {
			return fmt.Errorf("%w: login.url: %w", ErrIncompleteLogin, err)
		}
	}
	if s.Captcha.Enabled {
		if !s.Login.Required {
			return ErrCaptchaWithoutLogin
		}
		if s.Captcha.Field == "" {
			return fmt.Errorf("%w: captcha.field is required", ErrIncompleteLogin)
		}
	}
	return nil
}

// compile compiles a non-empty pattern. An empty pattern yields nil.
func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// resolve makes ref absolute against BaseURL.
func (s *SiteConfig) resolve(ref string) (*url.URL, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "?") {
		return url.Parse(strings.TrimSuffix(s.BaseURL, "/") + ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

// RequestHeaders returns the headers sent with every request, in a fixed order.
func (s *SiteConfig) RequestHeaders() model.Headers {
	h := s.Headers
	headers := model.Headers{
		{Name: "User-Agent", Value: h.UserAgent},
		{Name: "Accept", Value: h.Accept},
		{Name: "Accept-Language", Value: h.AcceptLanguage},
		{Name: "Accept-Encoding", Value: h.AcceptEncoding},
		{Name: "Connection", Value: h.Connection},
	}
	names := make([]string, 0, len(h.Extra))
	for name := range h.Extra {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		headers.Set(name, h.Extra[name])
	}
	return headers
}

// PassFilterRegexp returns the compiled pass filter, or nil when none is set.
func (s *SiteConfig) PassFilterRegexp() (*regexp.Regexp, error) {
	return compile(s.PassFilter)
}

// CrawlSite converts the settings into the crawler's site description.
func (s *SiteConfig) CrawlSite() (crawler.Site, error) {
	pattern, err := compile(s.Login.TestPattern)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("%w: login.testPattern: %w", ErrInvalidPattern, err)
	}

	site := crawler.Site{
		Name:     s.Name,
		BaseURL:  strings.TrimSuffix(s.BaseURL, "/"),
		Seeds:    slices.Clone(s.Begin),
		MaxDepth: s.Depth,
		Rules: crawler.Rules{
			StopAt:             s.StopAt,
			Exclude:            s.Exclude,
			ExcludeIfEqual:     s.ExcludeIfEqual,
			MustInclude:        s.MustInclude,
			ParentChildExclude: s.ParentChildExclude,
		},
		Headers:       s.RequestHeaders(),
		Cookies:       s.Cookies,
		LoginRequired: s.Login.Required,
		LoginPattern:  pattern,
		Interrupts:    s.Interrupts,
	}
	if s.Login.URL != "" {
		u, err := s.resolve(s.Login.URL)
		if err != nil {
			return crawler.Site{}, fmt.Errorf("%w: login.url: %w", ErrIncompleteLogin, err)
		}
		site.LoginPath = u.RequestURI()
	}
	return site, nil
}

// AuthConfig converts the login settings for the authenticator.
func (s *SiteConfig) AuthConfig() (auth.Config, error) {
	loginURL, err := s.resolve(s.Login.URL)
	if err != nil {
		return auth.Config{}, fmt.Errorf("%w: login.url: %w", ErrIncompleteLogin, err)
	}
	pattern, err := compile(s.Login.TestPattern)
	if err != nil {
		return auth.Config{}, fmt.Errorf("%w: login.testPattern: %w", ErrInvalidPattern, err)
	}

	cfg := auth.Config{
		LoginURL:      loginURL.String(),
		SubmitPath:    s.Login.Submit,
		Element:       s.Login.Element,
		UsernameField: s.Login.UsernameField,
		PasswordField: s.Login.PasswordField,
		Username:      s.Login.Username,
		Password:      s.Login.Password,
		SubmitName:    s.Login.SubmitName,
		SubmitValue:   s.Login.SubmitValue,
		TestPattern:   pattern,
		MaxAttempts:   s.Login.MaxAttempts,
		Headers:       s.RequestHeaders(),
		ImageAccept:   s.Headers.AcceptImage,
	}
	if s.Login.Submit != "" {
		submit, err := s.resolve(s.Login.Submit)
		if err != nil {
			return auth.Config{}, fmt.Errorf("%w: login.submit: %w", ErrIncompleteLogin, err)
		}
		cfg.SubmitPath = submit.String()
	}
	if s.Captcha.Enabled {
		c := &auth.Captcha{Field: s.Captcha.Field, Markers: s.Captcha.Markers}
		switch {
		case strings.HasPrefix(s.Captcha.ImageURL, "data:"):
			c.ImageURL = s.Captcha.ImageURL
		case s.Captcha.ImageURL != "":
			img, err := s.resolve(s.Captcha.ImageURL)
			if err != nil {
				return auth.Config{}, fmt.Errorf("%w: captcha.imageURL: %w", ErrIncompleteLogin, err)
			}
			c.ImageURL = img.String()
		}
		cfg.Captcha = c
	}
	return cfg, nil
}

// SolverConfig converts the CAPTCHA settings for captcha.New.
func (s *SiteConfig) SolverConfig() captcha.Config {
	return captcha.Config{
		Kind:     s.Captcha.Solver,
		Model:    s.Captcha.Model,
		Endpoint: s.Captcha.Endpoint,
		MaxWidth: s.Captcha.MaxWidth,
	}
}

// Pacer returns the politeness pacer for the site.
func (s *SiteConfig) Pacer() *crawler.Pacer {
	p := s.Politeness
	return crawler.NewPacer(p.MinDelay, p.MaxDelay, p.RequestsPerMinute)
}
