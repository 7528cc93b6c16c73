package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"gwi.com/mindcare-assistant/internal/config"
	"gwi.com/mindcare-assistant/internal/core"
	"gwi.com/mindcare-assistant/internal/observability"
)

type stubIndex struct {
	notReady bool
	calls    atomic.Int32
}

func (s *stubIndex) results(k int) []core.RetrievedChunk {
	all := []core.RetrievedChunk{
		{Content: "Deep breathing slows the heart rate.", Source: "anxiety.pdf", Page: "4", ChunkType: "paragraph", Rank: 1, Score: 0.9},
		{Content: "Sleep hygiene tips.", Source: "sleep.md", Page: "N/A", ChunkType: "list", Rank: 2, Score: 0.8},
	}
	if k < len(all) {
		return all[:k]
	}
	return all
}

func (s *stubIndex) Search(_ context.Context, _ string, k, _ int, _ float64) ([]core.RetrievedChunk, error) {
	s.calls.Add(1)
	return s.results(k), nil
}

func (s *stubIndex) SimilaritySearch(_ context.Context, _ string, k int) ([]core.RetrievedChunk, error) {
	s.calls.Add(1)
	return s.results(k), nil
}

func (s *stubIndex) Ready() bool { return !s.notReady }
func (s *stubIndex) Count() int  { return 2 }

type stubGenerator struct {
	err   error
	calls atomic.Int32
}

func (g *stubGenerator) Generate(context.Context, string, int, float32) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return "Try a slow breathing exercise.", nil
}

func (g *stubGenerator) Ready() bool   { return true }
func (g *stubGenerator) Model() string { return "stub-model" }

type testServer struct {
	handler http.Handler
	index   *stubIndex
	gen     *stubGenerator
}

func newTestServer(t *testing.T, mutate func(*config.Config, *stubIndex, *stubGenerator), opts ...func(*RouterOptions)) *testServer {
	t.Helper()
	cfg := config.Default()
	idx := &stubIndex{}
	gen := &stubGenerator{}
	if mutate != nil {
		mutate(cfg, idx, gen)
	}

	detector, err := core.NewCrisisDetector(cfg.Safety.CrisisKeywords, cfg.Safety.CrisisPatterns)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	sessions := core.NewSessionStore(cfg.Memory.MaxSessions, cfg.Memory.IdleTTL)
	responder := core.NewResponder(idx, gen,
		core.RetrievalParams{K: cfg.Index.K, FetchK: cfg.Index.FetchK, Lambda: cfg.Index.Lambda},
		core.GenerationParams{MaxTokens: cfg.Generation.MaxTokens, Temperature: cfg.Generation.Temperature, Timeout: cfg.Generation.Timeout},
		cfg.Memory.PromptTurns, nil, metrics)
	svc := core.NewChatService(cfg, detector, sessions, responder, idx, nil, metrics)

	ro := RouterOptions{Metrics: metrics, Gatherer: reg}
	for _, o := range opts {
		o(&ro)
	}
	return &testServer{handler: NewRouter(NewAPIHandler(svc, nil), ro), index: idx, gen: gen}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestChatHandler_Success(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/chat", `{"message":"I feel anxious before exams","session_id":"s-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", body["status"])
	require.Equal(t, "s-1", body["session_id"])
	require.Equal(t, false, body["is_crisis"])
	require.Contains(t, body["message"], "Try a slow breathing exercise.")
	require.NotEmpty(t, body["timestamp"])

	sources, ok := body["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 2)
	first := sources[0].(map[string]any)
	require.Equal(t, "anxiety.pdf", first["source"])
	require.Equal(t, "4", first["page"])
	require.Equal(t, "paragraph", first["chunk_type"])
	require.Equal(t, "Deep breathing slows the heart rate.", first["snippet"])
}

func TestChatHandler_IssuesSessionID(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["session_id"])
}

func TestChatHandler_Crisis(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/chat", `{"message":"I want to kill myself","session_id":"s-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["is_crisis"])
	require.Equal(t, core.StatusCrisisDetected, body["status"])
	require.NotEmpty(t, body["resources"])
	require.Zero(t, s.index.calls.Load())
	require.Zero(t, s.gen.calls.Load())
}

func TestChatHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config, *stubIndex, *stubGenerator)
		body   string
		status int
		errMsg string
	}{
		{name: "empty message", body: `{"message":"   "}`, status: http.StatusBadRequest, errMsg: "No message provided"},
		{name: "missing body", body: "", status: http.StatusBadRequest, errMsg: "No message provided"},
		{name: "malformed json", body: `{"message":`, status: http.StatusBadRequest, errMsg: "Invalid request body"},
		{name: "too long", body: `{"message":"` + strings.Repeat("a", 1001) + `"}`, status: http.StatusBadRequest, errMsg: "Message too long (max 1000 characters)"},
		{name: "session id too long", body: `{"message":"hi","session_id":"` + strings.Repeat("x", 129) + `"}`, status: http.StatusBadRequest, errMsg: "session_id too long (max 128 characters)"},
		{
			name:   "index not ready",
			mutate: func(_ *config.Config, idx *stubIndex, _ *stubGenerator) { idx.notReady = true },
			body:   `{"message":"hi"}`,
			status: http.StatusServiceUnavailable,
			errMsg: "Chatbot is not ready. Please contact support.",
		},
		{
			name:   "generation failure",
			mutate: func(_ *config.Config, _ *stubIndex, g *stubGenerator) { g.err = errors.New("upstream 500") },
			body:   `{"message":"hi"}`,
			status: http.StatusServiceUnavailable,
			errMsg: "Chatbot is not ready. Please contact support.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.mutate)
			rec, body := s.do(t, http.MethodPost, "/api/chat", tt.body)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, "error", body["status"])
			require.Equal(t, tt.errMsg, body["error"])
			require.NotContains(t, rec.Body.String(), "upstream 500")
		})
	}
}

func TestClearHistoryHandler(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/clear-history", `{"session_id":"s-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Conversation history cleared", body["message"])
	require.Equal(t, "success", body["status"])
}

func TestResourcesAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/api/resources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "crisis")
	require.Contains(t, body, "general")

	_, _ = s.do(t, http.MethodPost, "/api/chat", `{"message":"hello","session_id":"a"}`)

	rec, body = s.do(t, http.MethodGet, "/api/health/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, true, body["rag_initialized"])
	require.EqualValues(t, 2, body["vector_store_docs"])
	require.Equal(t, "stub-model", body["llm_model"])
	require.EqualValues(t, 1, body["active_sessions"])
}

func TestSearchHandler(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/search", `{"query":"breathing","k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["count"])
	require.Equal(t, "breathing", body["query"])
	require.Len(t, body["results"], 1)

	rec, body = s.do(t, http.MethodPost, "/api/search", `{"query":"breathing","k":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "k must be between 1 and 20", body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/search", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No query provided", body["error"])
}

func TestSearchHandler_NotReady(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, idx *stubIndex, _ *stubGenerator) { idx.notReady = true })

	rec, body := s.do(t, http.MethodPost, "/api/search", `{"query":"sleep"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "Vector store not initialized", body["error"])
}

func TestFeedbackHandler(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/api/feedback", `{"rating":5,"comment":"helpful","session_id":"s-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Thank you for your feedback!", body["message"])

	rec, body = s.do(t, http.MethodPost, "/api/feedback", `{"rating":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Rating must be between 1 and 5", body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/feedback", `{"rating":3,"comment":"`+strings.Repeat("é", 1001)+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Comment too long (max 1000 characters)", body["error"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, nil, func(o *RouterOptions) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})

	rec, _ := s.do(t, http.MethodPost, "/api/clear-history", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/clear-history", `{}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "Too many requests. Please wait a moment.", body["error"])

	// Read-only endpoints are not throttled.
	rec, _ = s.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	_, _ = s.do(t, http.MethodPost, "/api/chat", `{"message":"hello"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mindcare_chat_requests_total")
	require.Contains(t, rec.Body.String(), `route="/api/chat"`)
}

func TestMetrics_UnmatchedPathsShareOneLabel(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/scan-1", "/scan-2", "/scan-3", "/wp-login.php", "/.env"} {
		rec, _ := s.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `mindcare_http_requests_total{method="GET",route="unmatched",status="404"} 5`)
	require.NotContains(t, body, "scan-")
	require.NotContains(t, body, "wp-login")
	require.NotContains(t, body, `route="/.env"`)
}
