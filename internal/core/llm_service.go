package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Generator produces one complete answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
	Ready() bool
	Model() string
}

// GeminiService talks to the Gemini API for both generation and embeddings.
// Without an API key it is constructed in a not-ready state and every call
// fails with the matching unavailable sentinel.
type GeminiService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	logger         *zap.Logger
}

func NewGeminiService(ctx context.Context, apiKey, chatModel, embeddingModel string, logger *zap.Logger,
	opts ...option.ClientOption) (*GeminiService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GeminiService{chatModel: chatModel, embeddingModel: embeddingModel, logger: logger}
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; Gemini calls will report unavailable")
		return s, nil
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *GeminiService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Debug("GenAI client closed")
		}
	}
}

func (s *GeminiService) Ready() bool { return s != nil && s.client != nil }

func (s *GeminiService) Model() string { return s.chatModel }

func (s *GeminiService) EmbeddingModel() string { return s.embeddingModel }

func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Ready() {
		return nil, ErrRetrievalUnavailable
	}
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (s *GeminiService) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if !s.Ready() {
		return "", ErrGenerationUnavailable
	}
	model := s.client.GenerativeModel(s.chatModel)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.SetTemperature(temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini GenerateContent failed: %v", ErrGenerationUnavailable, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response was empty or had no valid candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("gemini response had no text parts")
	}
	return text, nil
}
