package captcha

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Solver kinds accepted by New.
const (
	KindClaude = "claude"
	KindOpenAI = "openai"
	KindHTTP   = "http"
)

// prompt is the instruction sent to vision models.
const prompt = "This image is a CAPTCHA. Reply with only the characters shown in the image, " +
	"exactly as they appear, with no spaces, punctuation or explanation."

// Image is a CAPTCHA image.
type Image struct {
	// Data holds the encoded image bytes.
	Data []byte

	// MediaType is the MIME type, e.g. "image/png".
	MediaType string
}

// Solver decodes a CAPTCHA image into its text.
type Solver interface {
	Solve(ctx context.Context, img Image) (string, error)
}

// Config selects and configures a Solver.
type Config struct {
	// Kind is one of KindClaude, KindOpenAI or KindHTTP.
	Kind string

	// Model overrides the default vision model.
	Model string

	// Endpoint is the OCR URL for KindHTTP, or an API base URL override
	// for the hosted solvers.
	Endpoint string

	// APIKey overrides the key taken from the environment.
	APIKey string

	// MaxWidth caps the image width sent to the solver. 0 uses DefaultMaxWidth.
	MaxWidth uint
}

// New creates the Solver described by cfg.
// The http solver sends its requests through fetcher.
func New(cfg Config, fetcher Fetcher) (Solver, error) {
	switch strings.ToLower(cfg.Kind) {
	case KindClaude, "":
		return NewClaudeSolver(cfg)
	case KindOpenAI:
		return NewOpenAISolver(cfg)
	case KindHTTP:
		return NewHTTPSolver(cfg, fetcher)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSolver, cfg.Kind)
	}
}

// lookupKey returns explicit, or the first non-empty environment variable.
func lookupKey(explicit string, envVars ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// normalizeAnswer keeps the first line of a model reply and strips quotes
// and whitespace around and inside it.
func normalizeAnswer(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.Trim(raw, "\"'`")
	answer := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
