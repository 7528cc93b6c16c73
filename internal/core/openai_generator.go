package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIGenerator sends prompts to any OpenAI-compatible chat completions
// endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIGenerator returns a generator for model. An empty apiKey yields a
// generator that reports itself not ready. baseURL overrides the default API
// endpoint when set.
func NewOpenAIGenerator(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &OpenAIGenerator{model: model, logger: logger}
	if apiKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; generation will report unavailable")
		return g
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	g.client = openai.NewClientWithConfig(cfg)
	return g
}

func (g *OpenAIGenerator) Ready() bool { return g != nil && g.client != nil }

func (g *OpenAIGenerator) Model() string { return g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if !g.Ready() {
		return "", ErrGenerationUnavailable
	}
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: maxTokens,
		Temperature:         temperature,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: openai chat completion failed: %v", ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, errors.New("openai returned no choices"))
	}
	g.logger.Debug("openai completion finished", zap.String("finish_reason", string(resp.Choices[0].FinishReason)))

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: openai returned empty content", ErrGenerationUnavailable)
	}
	return text, nil
}
