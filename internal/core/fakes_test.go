package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/mindcare-assistant/internal/config"
	"gwi.com/mindcare-assistant/internal/store"
)

type fakeIndex struct {
	chunks   []RetrievedChunk
	err      error
	notReady bool

	searchCalls     atomic.Int32
	similarityCalls atomic.Int32
	lastK           atomic.Int32
}

func (f *fakeIndex) Search(_ context.Context, _ string, k, _ int, _ float64) ([]RetrievedChunk, error) {
	f.searchCalls.Add(1)
	f.lastK.Store(int32(k))
	if f.err != nil {
		return nil, f.err
	}
	if len(f.chunks) > k {
		return f.chunks[:k], nil
	}
	return f.chunks, nil
}

func (f *fakeIndex) SimilaritySearch(_ context.Context, _ string, k int) ([]RetrievedChunk, error) {
	f.similarityCalls.Add(1)
	f.lastK.Store(int32(k))
	if f.err != nil {
		return nil, f.err
	}
	if len(f.chunks) > k {
		return f.chunks[:k], nil
	}
	return f.chunks, nil
}

func (f *fakeIndex) Ready() bool { return !f.notReady }

func (f *fakeIndex) Count() int { return len(f.chunks) }

func (f *fakeIndex) calls() int { return int(f.searchCalls.Load() + f.similarityCalls.Load()) }

type fakeGenerator struct {
	answer   string
	err      error
	notReady bool
	delay    time.Duration

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, _ int, _ float32) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) Ready() bool { return !f.notReady }

func (f *fakeGenerator) Model() string { return "fake-model" }

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	hang    bool
	calls   atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

type fakeLoader struct {
	chunks []store.DataChunk
	err    error
}

func (f *fakeLoader) GetAllDataChunks(context.Context) ([]store.DataChunk, error) {
	return f.chunks, f.err
}

func threeChunks() []RetrievedChunk {
	return []RetrievedChunk{
		{Content: "Anxiety often shows up as restlessness, a racing heart and trouble sleeping.", Source: "anxiety.pdf", Page: "2", ChunkType: "paragraph", Rank: 1},
		{Content: "Grounding techniques such as 5-4-3-2-1 can reduce acute anxiety.", Source: "coping.md", Page: "N/A", ChunkType: "list", Rank: 2},
		{Content: "Talk to a professional if symptoms persist for more than two weeks.", Source: "anxiety.pdf", Page: "5", ChunkType: "paragraph", Rank: 3},
	}
}

type serviceFixture struct {
	svc      *ChatService
	index    *fakeIndex
	gen      *fakeGenerator
	sessions *SessionStore
	cfg      *config.Config
}

func newServiceFixture(t *testing.T, mutate ...func(*config.Config)) *serviceFixture {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	detector, err := NewCrisisDetector(cfg.Safety.CrisisKeywords, cfg.Safety.CrisisPatterns)
	require.NoError(t, err)

	idx := &fakeIndex{chunks: threeChunks()}
	gen := &fakeGenerator{answer: "It sounds like you're feeling anxious. Common symptoms include restlessness."}
	sessions := NewSessionStore(cfg.Memory.MaxSessions, cfg.Memory.IdleTTL)
	responder := NewResponder(idx, gen,
		RetrievalParams{K: cfg.Index.K, FetchK: cfg.Index.FetchK, Lambda: cfg.Index.Lambda},
		GenerationParams{MaxTokens: cfg.Generation.MaxTokens, Temperature: cfg.Generation.Temperature, Timeout: cfg.Generation.Timeout},
		cfg.Memory.PromptTurns, nil, nil)

	return &serviceFixture{
		svc:      NewChatService(cfg, detector, sessions, responder, idx, nil, nil),
		index:    idx,
		gen:      gen,
		sessions: sessions,
		cfg:      cfg,
	}
}
