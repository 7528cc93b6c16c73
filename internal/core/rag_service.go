package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/observability"
)

// RetrievalParams tune the diversity-aware search for chat context.
type RetrievalParams struct {
	K      int
	FetchK int
	Lambda float64
}

// GenerationParams bound a single generation call.
type GenerationParams struct {
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Answer is the raw responder output before shaping. Sources holds every
// chunk used as context, in rank order.
type Answer struct {
	Text    string
	Sources []RetrievedChunk
}

// Responder runs retrieval, prompt assembly and generation for one message
// and records the exchange in the session history.
type Responder struct {
	index       DocumentIndex
	generator   Generator
	retrieval   RetrievalParams
	generation  GenerationParams
	promptTurns int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewResponder(index DocumentIndex, generator Generator, retrieval RetrievalParams, generation GenerationParams,
	promptTurns int, logger *zap.Logger, metrics *observability.Metrics) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		index:       index,
		generator:   generator,
		retrieval:   retrieval,
		generation:  generation,
		promptTurns: promptTurns,
		logger:      logger,
		metrics:     metrics,
	}
}

// Ready reports whether both the index and the generator can serve requests.
func (r *Responder) Ready() bool {
	return r.checkReady() == nil
}

func (r *Responder) checkReady() error {
	if r.index == nil || !r.index.Ready() {
		return ErrRetrievalUnavailable
	}
	if r.generator == nil || !r.generator.Ready() {
		return ErrGenerationUnavailable
	}
	return nil
}

// Respond answers message using history as conversational memory. The caller
// must hold the history's slot. On success the turn is appended to history;
// on failure history is left untouched.
func (r *Responder) Respond(ctx context.Context, message string, history *ConversationHistory) (Answer, error) {
	if err := r.checkReady(); err != nil {
		return Answer{}, err
	}

	chunks, err := r.index.Search(ctx, message, r.retrieval.K, r.retrieval.FetchK, r.retrieval.Lambda)
	if err != nil {
		if !errors.Is(err, ErrRetrievalUnavailable) {
			err = fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
		}
		return Answer{}, err
	}
	if len(chunks) == 0 {
		r.logger.Info("no context retrieved; generating without it", zap.String("session_id", history.ID()))
	}

	prompt := BuildPrompt(chunks, history.Recent(r.promptTurns), message)

	text, err := r.generate(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}

	history.Append(message, text)
	r.logger.Debug("exchange recorded",
		zap.String("session_id", history.ID()),
		zap.Int("context_chunks", len(chunks)),
		zap.Int("history_turns", history.Len()))
	return Answer{Text: text, Sources: chunks}, nil
}

func (r *Responder) generate(ctx context.Context, prompt string) (string, error) {
	if r.generation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.generation.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.generator.Generate(ctx, prompt, r.generation.MaxTokens, r.generation.Temperature)
	r.metrics.ObserveGeneration(time.Since(start), err)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrGenerationUnavailable, r.generation.Timeout)
		}
		if !errors.Is(err, ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}
		return "", err
	}
	return text, nil
}
