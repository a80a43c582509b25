package captcha

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeSolver reads CAPTCHAs with a Claude vision model.
type ClaudeSolver struct {
	client   *anthropic.Client
	model    string
	maxWidth uint
}

// NewClaudeSolver creates a ClaudeSolver.
// The API key comes from cfg.APIKey, NARCHIVER_ANTHROPIC_KEY or ANTHROPIC_API_KEY.
func NewClaudeSolver(cfg Config) (*ClaudeSolver, error) {
	apiKey := lookupKey(cfg.APIKey, "NARCHIVER_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set NARCHIVER_ANTHROPIC_KEY or ANTHROPIC_API_KEY", ErrMissingAPIKey)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeSolver{
		client:   &client,
		model:    model,
		maxWidth: cfg.MaxWidth,
	}, nil
}

// Solve implements Solver.
func (s *ClaudeSolver) Solve(ctx context.Context, img Image) (string, error) {
	img, err := PrepareImage(img, s.maxWidth)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return normalizeAnswer(block.Text)
		}
	}
	return "", ErrEmptyAnswer
}
