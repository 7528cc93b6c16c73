package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/observability"
	"gwi.com/mindcare-assistant/internal/store"
	"gwi.com/mindcare-assistant/internal/utils"
)

// RetrievedChunk is a read-only copy of an indexed passage. Rank starts at 1.
type RetrievedChunk struct {
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Page      string  `json:"page"`
	ChunkType string  `json:"chunk_type"`
	Rank      int     `json:"rank"`
	Score     float64 `json:"score"`
}

// DocumentIndex is the retrieval surface the responder and direct search
// depend on. Ready is false when the index cannot serve queries at all, which
// is distinct from a ready index returning zero results.
type DocumentIndex interface {
	Search(ctx context.Context, query string, k, fetchK int, lambda float64) ([]RetrievedChunk, error)
	SimilaritySearch(ctx context.Context, query string, k int) ([]RetrievedChunk, error)
	Ready() bool
	Count() int
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkLoader supplies the chunks the index holds in memory.
type ChunkLoader interface {
	GetAllDataChunks(ctx context.Context) ([]store.DataChunk, error)
}

// DefaultQueryTimeout bounds a query embedding call when no timeout is set.
const DefaultQueryTimeout = 10 * time.Second

// VectorIndex keeps every chunk and its embedding in memory and scores them
// against an embedded query by cosine similarity.
type VectorIndex struct {
	loader   ChunkLoader
	embedder Embedder
	cache    *EmbeddingCache
	logger   *zap.Logger
	metrics  *observability.Metrics
	timeout  time.Duration

	mu     sync.RWMutex
	chunks []store.DataChunk
}

type scoredChunk struct {
	chunk *store.DataChunk
	score float64
}

type IndexOption func(*VectorIndex)

// WithQueryTimeout bounds each query embedding call. Non-positive values keep
// DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) IndexOption {
	return func(v *VectorIndex) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewVectorIndex loads the chunk collection. A nil loader or embedder yields
// an index that reports itself not ready.
func NewVectorIndex(ctx context.Context, loader ChunkLoader, embedder Embedder, cacheSize int,
	logger *zap.Logger, metrics *observability.Metrics, opts ...IndexOption) (*VectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &VectorIndex{
		loader:   loader,
		embedder: embedder,
		cache:    NewEmbeddingCache(cacheSize),
		logger:   logger,
		metrics:  metrics,
		timeout:  DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if loader == nil {
		return idx, nil
	}
	if err := idx.Reload(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Reload replaces the in-memory chunks with the loader's current contents.
// Cached query embeddings stay valid since chunk vectors do not affect them.
// On error the previous chunks keep serving.
func (v *VectorIndex) Reload(ctx context.Context) error {
	if v.loader == nil {
		return fmt.Errorf("reload: %w", ErrRetrievalUnavailable)
	}
	chunks, err := v.loader.GetAllDataChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load data chunks: %w", err)
	}
	if len(chunks) == 0 {
		v.logger.Warn("document index is empty; run the ingest command to populate it")
	} else {
		v.logger.Info("document index loaded", zap.Int("chunks", len(chunks)))
	}

	v.mu.Lock()
	v.chunks = chunks
	v.mu.Unlock()
	return nil
}

// Ready reports whether queries can be served. An embedder that exposes its
// own Ready method is consulted too.
func (v *VectorIndex) Ready() bool {
	if v == nil || v.loader == nil || v.embedder == nil {
		return false
	}
	if r, ok := v.embedder.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}

func (v *VectorIndex) Count() int {
	if v == nil {
		return 0
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.chunks)
}

// Search returns up to k chunks chosen by max marginal relevance from the
// fetchK most similar candidates.
func (v *VectorIndex) Search(ctx context.Context, query string, k, fetchK int, lambda float64) ([]RetrievedChunk, error) {
	start := time.Now()
	defer func() { v.metrics.ObserveRetrieval("mmr", time.Since(start)) }()

	if fetchK < k {
		fetchK = k
	}
	queryEmbedding, candidates, err := v.rank(ctx, query, fetchK)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.chunk.Embedding
	}
	picked := utils.MaxMarginalRelevance(queryEmbedding, vectors, k, lambda)

	out := make([]RetrievedChunk, 0, len(picked))
	for _, i := range picked {
		out = append(out, toRetrieved(candidates[i], len(out)+1))
	}
	return out, nil
}

// SimilaritySearch returns the k chunks most similar to query.
func (v *VectorIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	start := time.Now()
	defer func() { v.metrics.ObserveRetrieval("similarity", time.Since(start)) }()

	_, candidates, err := v.rank(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedChunk, 0, len(candidates))
	for i, c := range candidates {
		out = append(out, toRetrieved(c, i+1))
	}
	return out, nil
}

// rank embeds the query and returns the n best-scoring chunks in descending
// order of similarity.
func (v *VectorIndex) rank(ctx context.Context, query string, n int) ([]float32, []scoredChunk, error) {
	if !v.Ready() {
		return nil, nil, ErrRetrievalUnavailable
	}
	if n <= 0 {
		return nil, nil, nil
	}

	queryEmbedding, err := v.embedQuery(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	scored := make([]scoredChunk, 0, len(v.chunks))
	for i := range v.chunks {
		chunk := &v.chunks[i]
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			v.logger.Debug("skipping chunk", zap.String("chunk_id", chunk.ID), zap.Error(err))
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, score: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return queryEmbedding, scored, nil
}

func (v *VectorIndex) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := strings.TrimSpace(query)
	if cached, ok := v.cache.Get(key); ok {
		return cached, nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	embedding, err := v.embedder.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding failed: %v", ErrRetrievalUnavailable, err)
	}
	v.cache.Set(key, embedding)
	return embedding, nil
}

func toRetrieved(c scoredChunk, rank int) RetrievedChunk {
	return RetrievedChunk{
		Content:   c.chunk.Content,
		Source:    c.chunk.Source,
		Page:      c.chunk.Page,
		ChunkType: c.chunk.ChunkType,
		Rank:      rank,
		Score:     c.score,
	}
}
