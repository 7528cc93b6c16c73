package core

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/config"
	"gwi.com/mindcare-assistant/internal/observability"
)

const (
	StatusSuccess = "success"
	StatusHealthy = "healthy"
)

type ChatResult struct {
	Message   string            `json:"message"`
	Sources   []Source          `json:"sources,omitempty"`
	SessionID string            `json:"session_id"`
	IsCrisis  bool              `json:"is_crisis"`
	Resources map[string]string `json:"resources,omitempty"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

type StatusMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type Resources struct {
	Crisis  map[string]string `json:"crisis"`
	General map[string]string `json:"general"`
}

// SearchResult is the direct-search payload. The crisis fields are only set
// when search gating is enabled and the query trips the gate.
type SearchResult struct {
	Query     string            `json:"query"`
	Results   []RetrievedChunk  `json:"results"`
	Count     int               `json:"count"`
	Status    string            `json:"status"`
	IsCrisis  bool              `json:"is_crisis,omitempty"`
	Message   string            `json:"message,omitempty"`
	Resources map[string]string `json:"resources,omitempty"`
}

type Health struct {
	Status          string    `json:"status"`
	RAGInitialized  bool      `json:"rag_initialized"`
	VectorStoreDocs int       `json:"vector_store_docs"`
	EmbeddingModel  string    `json:"embedding_model"`
	LLMModel        string    `json:"llm_model"`
	ActiveSessions  int       `json:"active_sessions"`
	Timestamp       time.Time `json:"timestamp"`
}

type Feedback struct {
	Rating    int
	Comment   string
	SessionID string
}

const maxFeedbackComment = 1000

// ChatService is the entry point for the HTTP layer. It owns the crisis gate,
// the session store and the responder, and returns only *Error failures.
type ChatService struct {
	detector  *CrisisDetector
	sessions  *SessionStore
	responder *Responder
	index     DocumentIndex
	shaper    *Shaper
	logger    *zap.Logger
	metrics   *observability.Metrics

	maxMessageLength int
	searchDefaultK   int
	searchMaxK       int
	gateSearch       bool
	lockWait         time.Duration
	embeddingModel   string
	crisisResources  map[string]string
	generalResources map[string]string
}

func NewChatService(cfg *config.Config, detector *CrisisDetector, sessions *SessionStore, responder *Responder,
	index DocumentIndex, logger *zap.Logger, metrics *observability.Metrics) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		detector:         detector,
		sessions:         sessions,
		responder:        responder,
		index:            index,
		shaper:           NewShaper(cfg.Safety.Disclaimer, cfg.Safety.SourceCount, cfg.Safety.SnippetLength),
		logger:           logger,
		metrics:          metrics,
		maxMessageLength: cfg.Safety.MaxMessageLength,
		searchDefaultK:   cfg.Index.SearchDefaultK,
		searchMaxK:       cfg.Index.SearchMaxK,
		gateSearch:       cfg.Safety.GateSearch,
		lockWait:         cfg.Generation.Timeout,
		embeddingModel:   cfg.Index.EmbeddingModel,
		crisisResources:  cfg.Resources.Crisis,
		generalResources: cfg.Resources.General,
	}
}

// Chat handles one user message. Validation and the crisis gate run before
// any session, index or generation access.
func (s *ChatService) Chat(ctx context.Context, message, sessionID string) (ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		s.metrics.ChatOutcome("invalid")
		return ChatResult{}, validationError("No message provided")
	}
	if utf8.RuneCountInString(message) > s.maxMessageLength {
		s.metrics.ChatOutcome("invalid")
		return ChatResult{}, validationError(fmt.Sprintf("Message too long (max %d characters)", s.maxMessageLength))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if s.detector.Detect(message) {
		s.metrics.CrisisDetected()
		s.metrics.ChatOutcome("crisis")
		s.logger.Warn("crisis language detected", zap.String("session_id", sessionID))
		return s.crisisResult(sessionID), nil
	}

	if err := s.responder.checkReady(); err != nil {
		s.metrics.ChatOutcome(string(KindUnavailable))
		return ChatResult{}, newError(KindUnavailable, notReadyReason, err)
	}

	history := s.sessions.GetOrCreate(sessionID)
	if err := s.acquire(ctx, history); err != nil {
		s.metrics.ChatOutcome(string(KindUnavailable))
		s.logger.Warn("session busy", zap.String("session_id", sessionID), zap.Error(err))
		return ChatResult{}, newError(KindUnavailable, "This conversation is still processing a previous message. Please try again.", err)
	}
	defer history.Release()

	answer, err := s.responder.Respond(ctx, message, history)
	if err != nil {
		typed := classify(err)
		s.metrics.ChatOutcome(string(typed.Kind))
		s.logger.Error("chat exchange failed",
			zap.String("session_id", sessionID),
			zap.String("kind", string(typed.Kind)),
			zap.Error(err))
		return ChatResult{}, typed
	}

	s.metrics.ChatOutcome(StatusSuccess)
	return ChatResult{
		Message:   s.shaper.Shape(answer.Text),
		Sources:   s.shaper.Sources(answer.Sources),
		SessionID: sessionID,
		IsCrisis:  false,
		Status:    StatusSuccess,
		Timestamp: time.Now().UTC(),
	}, nil
}

// acquire waits for the session slot no longer than one generation timeout.
func (s *ChatService) acquire(ctx context.Context, history *ConversationHistory) error {
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	return history.Acquire(ctx)
}

func (s *ChatService) crisisResult(sessionID string) ChatResult {
	return ChatResult{
		Message:   crisisMessage(s.crisisResources),
		SessionID: sessionID,
		IsCrisis:  true,
		Resources: s.crisisResources,
		Status:    StatusCrisisDetected,
		Timestamp: time.Now().UTC(),
	}
}

// ClearHistory forgets a session. Unknown or empty ids succeed.
func (s *ChatService) ClearHistory(sessionID string) StatusMessage {
	if sessionID != "" {
		s.sessions.Clear(sessionID)
		s.logger.Info("conversation history cleared", zap.String("session_id", sessionID))
	}
	return StatusMessage{Message: "Conversation history cleared", Status: StatusSuccess}
}

func (s *ChatService) Resources() Resources {
	return Resources{Crisis: s.crisisResources, General: s.generalResources}
}

// Search queries the index directly, without generation or shaping. k of
// zero selects the configured default.
func (s *ChatService) Search(ctx context.Context, query string, k int) (SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		s.metrics.SearchOutcome("invalid")
		return SearchResult{}, validationError("No query provided")
	}
	if k == 0 {
		k = s.searchDefaultK
	}
	if k < 1 || k > s.searchMaxK {
		s.metrics.SearchOutcome("invalid")
		return SearchResult{}, validationError(fmt.Sprintf("k must be between 1 and %d", s.searchMaxK))
	}

	if s.gateSearch && s.detector.Detect(query) {
		s.metrics.CrisisDetected()
		s.metrics.SearchOutcome("crisis")
		return SearchResult{
			Query:     query,
			Results:   []RetrievedChunk{},
			Status:    StatusCrisisDetected,
			IsCrisis:  true,
			Message:   crisisMessage(s.crisisResources),
			Resources: s.crisisResources,
		}, nil
	}

	if s.index == nil || !s.index.Ready() {
		s.metrics.SearchOutcome(string(KindUnavailable))
		return SearchResult{}, newError(KindUnavailable, "Vector store not initialized", ErrRetrievalUnavailable)
	}

	results, err := s.index.SimilaritySearch(ctx, query, k)
	if err != nil {
		typed := classify(err)
		s.metrics.SearchOutcome(string(typed.Kind))
		s.logger.Error("direct search failed", zap.String("kind", string(typed.Kind)), zap.Error(err))
		return SearchResult{}, typed
	}
	if results == nil {
		results = []RetrievedChunk{}
	}
	s.metrics.SearchOutcome(StatusSuccess)
	return SearchResult{Query: query, Results: results, Count: len(results), Status: StatusSuccess}, nil
}

func (s *ChatService) Health() Health {
	h := Health{
		Status:         StatusHealthy,
		RAGInitialized: s.responder.Ready(),
		EmbeddingModel: s.embeddingModel,
		ActiveSessions: s.sessions.Count(),
		Timestamp:      time.Now().UTC(),
	}
	if s.index != nil {
		h.VectorStoreDocs = s.index.Count()
	}
	if s.responder.generator != nil {
		h.LLMModel = s.responder.generator.Model()
	}
	return h
}

// Feedback validates and logs a rating. Nothing is persisted.
func (s *ChatService) Feedback(fb Feedback) (StatusMessage, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return StatusMessage{}, validationError("Rating must be between 1 and 5")
	}
	if utf8.RuneCountInString(fb.Comment) > maxFeedbackComment {
		return StatusMessage{}, validationError(fmt.Sprintf("Comment too long (max %d characters)", maxFeedbackComment))
	}
	s.metrics.FeedbackRating(fb.Rating)
	s.logger.Info("feedback received",
		zap.Int("rating", fb.Rating),
		zap.String("session_id", fb.SessionID),
		zap.Int("comment_length", utf8.RuneCountInString(fb.Comment)))
	return StatusMessage{Message: "Thank you for your feedback!", Status: StatusSuccess}, nil
}
