package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// cookieMask replaces a single cookie or query parameter value.
const cookieMask = "***"

// attrKind classifies an attribute key.
type attrKind int

const (
	kindPlain  attrKind = iota
	kindSecret          // value is replaced entirely
	kindCookie          // cookie names are kept, values masked
)

// secretKeys are attribute keys whose value is never logged.
var secretKeys = map[string]bool{
	// HTTP headers
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"x-auth-token":        true,

	// Login form
	"username":       true,
	"password":       true,
	"passwd":         true,
	"captcha":        true,
	"captcha_answer": true,
	"confirm_code":   true,

	// Session identifiers, as forum software names them
	"sid":        true,
	"session":    true,
	"session_id": true,
	"sessionid":  true,
	"phpsessid":  true,
	"jsessionid": true,

	// Solver credentials
	"api_key":       true,
	"apikey":        true,
	"api-key":       true,
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"secret":        true,
	"credential":    true,
	"credentials":   true,
	"auth":          true,
}

// cookieKeys hold Cookie or Set-Cookie strings.
var cookieKeys = map[string]bool{
	"cookie":     true,
	"cookies":    true,
	"set-cookie": true,
}

// sensitiveKeywords mark a key as secret when contained anywhere in it.
// The bare word "key" is left out: "primary_key" and "monkey" are not secrets.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "auth",
	"credential", "private", "api_key", "apikey",
}

// sensitivePatterns match values that are secrets whatever their key.
var sensitivePatterns = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer and Basic credentials
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),

	// Long alphanumeric strings, mostly session ids and API keys
	regexp.MustCompile(`^[a-zA-Z0-9]{32,}$`),

	// Anthropic and OpenAI API keys
	regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),

	// AWS access keys
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),

	// PEM private keys
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),

	// Hidden service keys of the embedded Tor daemon
	regexp.MustCompile(`== ed25519v1-secret:`),
}

// classify returns how the value of key must be treated.
func classify(key string) attrKind {
	key = strings.ToLower(key)
	switch {
	case cookieKeys[key]:
		return kindCookie
	case secretKeys[key], containsSensitiveKeyword(key):
		return kindSecret
	default:
		return kindPlain
	}
}

// containsSensitiveKeyword reports whether key contains a sensitive keyword.
func containsSensitiveKeyword(key string) bool {
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// isSensitiveValue reports whether value looks like a secret.
func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// maskCookies replaces every cookie value in a Cookie or Set-Cookie
// string, e.g. "sid=abc; lang=en" becomes "sid=***; lang=***".
func maskCookies(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ";")
	masked := make([]string, 0, len(parts))
	for _, part := range parts {
		name, _, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || name == "" {
			continue
		}
		masked = append(masked, name+"="+cookieMask)
	}
	if len(masked) == 0 {
		return MaskValue
	}
	return strings.Join(masked, "; ")
}

// maskURL masks secret query parameters of an http(s) URL, such as the
// sid phpBB appends to every link. ok is false when value is not a URL
// carrying such a parameter.
func maskURL(value string) (string, bool) {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") &&
		!strings.HasPrefix(value, "/") {
		return "", false
	}
	u, err := url.Parse(value)
	if err != nil || u.RawQuery == "" {
		return "", false
	}
	query := u.Query()
	found := false
	for name := range query {
		if classify(name) != kindPlain {
			query.Set(name, cookieMask)
			found = true
		}
	}
	if !found {
		return "", false
	}
	u.RawQuery = query.Encode()
	return u.String(), true
}

// SecureHandler wraps an slog.Handler and redacts credentials, session
// identifiers and CAPTCHA answers before a record reaches the output.
//
// Design decision: We use a handler wrapper rather than a custom logger
// because:
//  1. Every package logs through plain slog and stays unaware of redaction
//  2. The log file is mailed on abnormal exit and must be safe to share
//  3. tornago accepts an *slog.Logger and gets the same treatment
type SecureHandler struct {
	handler slog.Handler
}

// NewSecureHandler creates a SecureHandler wrapping handler.
// A nil handler means slog.Default().Handler().
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled reports whether the underlying handler handles level.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle redacts the record's attributes and passes it on.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redact(a))
		return true
	})
	return h.handler.Handle(ctx, redacted)
}

// WithAttrs returns a handler with the redacted attrs added.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redact(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(redacted)}
}

// WithGroup returns a handler with the given group name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

// redact returns a with any secret replaced. Groups are walked recursively.
func redact(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = redact(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}

	switch classify(a.Key) {
	case kindCookie:
		return slog.String(a.Key, maskCookies(a.Value.String()))
	case kindSecret:
		return slog.String(a.Key, MaskValue)
	}

	if a.Value.Kind() != slog.KindString {
		return a
	}
	value := a.Value.String()
	if isSensitiveValue(value) {
		return slog.String(a.Key, MaskValue)
	}
	if masked, ok := maskURL(value); ok {
		return slog.String(a.Key, masked)
	}
	return a
}

// NewSecureLogger returns a text logger writing to w through a SecureHandler.
// verbose selects Debug instead of Info.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, handlerOptions(verbose))))
}

// NewSecureJSONLogger is NewSecureLogger with JSON output.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, handlerOptions(verbose))))
}

func handlerOptions(verbose bool) *slog.HandlerOptions {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{Level: level}
}
