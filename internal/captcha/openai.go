package captcha

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// defaultOpenAIModel is used when no model is configured.
const defaultOpenAIModel = "gpt-4o"

// OpenAISolver reads CAPTCHAs with an OpenAI vision model.
type OpenAISolver struct {
	client   *openai.Client
	model    string
	maxWidth uint
}

// NewOpenAISolver creates an OpenAISolver.
// The API key comes from cfg.APIKey, NARCHIVER_OPENAI_KEY or OPENAI_API_KEY.
func NewOpenAISolver(cfg Config) (*OpenAISolver, error) {
	apiKey := lookupKey(cfg.APIKey, "NARCHIVER_OPENAI_KEY", "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set NARCHIVER_OPENAI_KEY or OPENAI_API_KEY", ErrMissingAPIKey)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAISolver{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		maxWidth: cfg.MaxWidth,
	}, nil
}

// Solve implements Solver.
func (s *OpenAISolver) Solve(ctx context.Context, img Image) (string, error) {
	img, err := PrepareImage(img, s.maxWidth)
	if err != nil {
		return "", err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 64,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(img),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return normalizeAnswer(resp.Choices[0].Message.Content)
}
