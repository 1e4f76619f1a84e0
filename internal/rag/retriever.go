package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/storage"
)

// Embedder defines the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CacheManager defines the interface for retrieval caching.
type CacheManager interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, query string, embedding []float32) error
	GetRetrieval(ctx context.Context, key string) ([]storage.ScoredChunk, bool, error)
	SetRetrieval(ctx context.Context, key string, chunks []storage.ScoredChunk) error
	BuildRetrievalKey(query string, mode string, topK int) string
}

// RankedChunk is a chunk selected for grounding, with its relevance
// signal. SimilarityPct is only set by vector retrieval.
type RankedChunk struct {
	storage.Chunk
	Score         float64
	SimilarityPct int
}

// Retriever selects the chunks most relevant to a question.
type Retriever interface {
	TopK(ctx context.Context, question string) ([]RankedChunk, error)
	Mode() string
}

// Retrieval modes.
const (
	ModeVector  = "vector"
	ModeKeyword = "keyword"
)

// VectorConfig holds configuration for vector retrieval.
type VectorConfig struct {
	TopK          int
	MinSimilarity float64
}

// DefaultVectorConfig returns default vector retrieval configuration.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		TopK:          5,
		MinSimilarity: 0.25,
	}
}

// vectorStore is the chunk store surface vector retrieval needs.
type vectorStore interface {
	MatchChunks(ctx context.Context, docID uuid.UUID, embedding []float32, minSimilarity float64, topK int) ([]storage.ScoredChunk, error)
}

// VectorRetriever ranks chunks of a single document by cosine
// similarity to the embedded question.
type VectorRetriever struct {
	store    vectorStore
	embedder Embedder
	cache    CacheManager
	docID    uuid.UUID
	config   VectorConfig
	logger   *slog.Logger
}

// NewVectorRetriever creates a new VectorRetriever. cache may be nil.
func NewVectorRetriever(store vectorStore, embedder Embedder, cache CacheManager, docID uuid.UUID, config VectorConfig, logger *slog.Logger) *VectorRetriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.MinSimilarity <= 0 {
		config.MinSimilarity = 0.25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorRetriever{
		store:    store,
		embedder: embedder,
		cache:    cache,
		docID:    docID,
		config:   config,
		logger:   logger.With("component", "vector_retriever"),
	}
}

// Mode reports the retrieval mode.
func (r *VectorRetriever) Mode() string { return ModeVector }

// TopK embeds the question and returns chunks above the similarity
// threshold, most similar first. An empty result is a valid no-context
// outcome, not an error.
func (r *VectorRetriever) TopK(ctx context.Context, question string) ([]RankedChunk, error) {
	var cacheKey string
	if r.cache != nil {
		cacheKey = r.cache.BuildRetrievalKey(question, ModeVector, r.config.TopK)
		if cached, hit, _ := r.cache.GetRetrieval(ctx, cacheKey); hit {
			return rankScored(cached), nil
		}
	}

	embedding, err := r.embedQuestion(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %v", apperr.ErrRetrieval, err)
	}

	scored, err := r.store.MatchChunks(ctx, r.docID, embedding, r.config.MinSimilarity, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", apperr.ErrRetrieval, err)
	}

	if r.cache != nil {
		_ = r.cache.SetRetrieval(ctx, cacheKey, scored)
	}

	r.logger.Debug("vector retrieval complete",
		"chunks", len(scored),
		"top_k", r.config.TopK,
	)

	return rankScored(scored), nil
}

func (r *VectorRetriever) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if r.cache != nil {
		if embedding, hit, _ := r.cache.GetEmbedding(ctx, question); hit {
			return embedding, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.SetEmbedding(ctx, question, embedding)
	}

	return embedding, nil
}

func rankScored(scored []storage.ScoredChunk) []RankedChunk {
	ranked := make([]RankedChunk, len(scored))
	for i, sc := range scored {
		ranked[i] = RankedChunk{
			Chunk:         sc.Chunk,
			Score:         sc.Similarity,
			SimilarityPct: int(math.Round(sc.Similarity * 100)),
		}
	}
	return ranked
}

// KeywordConfig holds configuration for keyword retrieval.
type KeywordConfig struct {
	TopK           int
	CandidateLimit int
}

// DefaultKeywordConfig returns default keyword retrieval configuration.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		TopK:           6,
		CandidateLimit: 12,
	}
}

// keywordStore is the chunk store surface keyword retrieval needs.
type keywordStore interface {
	SearchAny(ctx context.Context, docID uuid.UUID, keywords []string, limit int) ([]storage.Chunk, error)
	FirstN(ctx context.Context, docID uuid.UUID, n int) ([]storage.Chunk, error)
}

// KeywordRetriever ranks chunks by distinct keyword overlap, with no
// embedding dependency. When no keyword survives filtering or nothing
// matches, it falls back to the leading chunks of the knowledge base so
// the model always receives some grounding context.
type KeywordRetriever struct {
	store  keywordStore
	docID  uuid.UUID
	config KeywordConfig
	logger *slog.Logger
}

// NewKeywordRetriever creates a new KeywordRetriever.
func NewKeywordRetriever(store keywordStore, docID uuid.UUID, config KeywordConfig, logger *slog.Logger) *KeywordRetriever {
	if config.TopK <= 0 {
		config.TopK = 6
	}
	if config.CandidateLimit <= 0 {
		config.CandidateLimit = 12
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordRetriever{
		store:  store,
		docID:  docID,
		config: config,
		logger: logger.With("component", "keyword_retriever"),
	}
}

// Mode reports the retrieval mode.
func (r *KeywordRetriever) Mode() string { return ModeKeyword }

// TopK scores candidate chunks by how many distinct keywords each
// contains. The sort is stable: equal scores keep the store's return
// order.
func (r *KeywordRetriever) TopK(ctx context.Context, question string) ([]RankedChunk, error) {
	keywords := ExtractKeywords(question)
	if len(keywords) == 0 {
		r.logger.Debug("no keywords extracted, using fallback")
		return r.fallback(ctx)
	}

	candidates, err := r.store.SearchAny(ctx, r.docID, keywords, r.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", apperr.ErrRetrieval, err)
	}
	if len(candidates) == 0 {
		r.logger.Debug("no keyword matches, using fallback", "keywords", keywords)
		return r.fallback(ctx)
	}

	ranked := make([]RankedChunk, len(candidates))
	for i, chunk := range candidates {
		ranked[i] = RankedChunk{
			Chunk: chunk,
			Score: float64(countDistinctKeywords(chunk.Content, keywords)),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > r.config.TopK {
		ranked = ranked[:r.config.TopK]
	}

	r.logger.Debug("keyword retrieval complete",
		"keywords", keywords,
		"candidates", len(candidates),
		"chunks", len(ranked),
	)

	return ranked, nil
}

// fallback returns the first chunks of the knowledge base unscored.
func (r *KeywordRetriever) fallback(ctx context.Context) ([]RankedChunk, error) {
	chunks, err := r.store.FirstN(ctx, r.docID, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback fetch: %v", apperr.ErrRetrieval, err)
	}

	ranked := make([]RankedChunk, len(chunks))
	for i, chunk := range chunks {
		ranked[i] = RankedChunk{Chunk: chunk}
	}
	return ranked, nil
}

// countDistinctKeywords counts how many of the keywords appear in the
// content, case-insensitively.
func countDistinctKeywords(content string, keywords []string) int {
	lower := strings.ToLower(content)
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}
