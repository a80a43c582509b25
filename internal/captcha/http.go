package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nao1215/narchiver/internal/exchange"
	"github.com/nao1215/narchiver/internal/model"
	"github.com/tidwall/gjson"
)

// Fetcher performs one HTTP exchange. *exchange.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, req *exchange.Request) (*exchange.Response, error)
}

// answerFields are the JSON fields searched for the answer, in order.
var answerFields = []string{"text", "answer", "result", "solution"}

// HTTPSolver posts CAPTCHAs to an OCR service.
//
// The request is a form POST with the fields "image" (base64) and "type"
// (media type). The service may answer with plain text, or with a JSON
// object holding the answer in a "text", "answer", "result" or "solution"
// field.
type HTTPSolver struct {
	endpoint string
	fetcher  Fetcher
	maxWidth uint
}

// NewHTTPSolver creates an HTTPSolver that sends requests through fetcher.
func NewHTTPSolver(cfg Config, fetcher Fetcher) (*HTTPSolver, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if fetcher == nil {
		var err error
		fetcher, err = exchange.NewClient()
		if err != nil {
			return nil, err
		}
	}
	return &HTTPSolver{endpoint: cfg.Endpoint, fetcher: fetcher, maxWidth: cfg.MaxWidth}, nil
}

// Solve implements Solver.
func (s *HTTPSolver) Solve(ctx context.Context, img Image) (string, error) {
	img, err := PrepareImage(img, s.maxWidth)
	if err != nil {
		return "", err
	}

	var headers model.Headers
	headers.Add("Accept", "application/json, text/plain")
	req := exchange.NewPost(s.endpoint, headers, []model.Header{
		{Name: "image", Value: base64.StdEncoding.EncodeToString(img.Data)},
		{Name: "type", Value: img.MediaType},
	})

	resp, err := s.fetcher.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("CAPTCHA service error: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("CAPTCHA service returned status %d", resp.StatusCode)
	}

	body := strings.TrimSpace(resp.Body)
	if gjson.Valid(body) && strings.HasPrefix(body, "{") {
		for _, field := range answerFields {
			if v := gjson.Get(body, field); v.Exists() {
				return normalizeAnswer(v.String())
			}
		}
		return "", ErrEmptyAnswer
	}
	return normalizeAnswer(body)
}
