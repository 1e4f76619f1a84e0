// Package embedder turns chunk and question text into vectors.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/rowsage/rowsage/pkg/logger"
)

// Embedder is implemented by anything that can produce embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// Config tunes the OpenAI embedder. Zero values fall back to the
// defaults from DefaultConfig.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxBatchSize   int
	MaxRetries     int
	RetryDelay     time.Duration
	RateLimitRPS   int
	EnableCache    bool
	CacheSize      int
	RequestTimeout time.Duration
}

// DefaultConfig returns production defaults for the given key.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          "text-embedding-3-small",
		MaxBatchSize:   100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   50,
		EnableCache:    true,
		CacheSize:      10000,
		RequestTimeout: 60 * time.Second,
	}
}

// OpenAIEmbedder calls the OpenAI embeddings API with client-side rate
// limiting, retry, and a text-keyed cache. During a sync the same row
// text often repeats across consecutive uploads, so the cache saves
// real API calls.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	cache   *textCache
	log     *logger.Logger
}

// NewOpenAIEmbedder validates the config and builds the client.
func NewOpenAIEmbedder(cfg Config, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var cache *textCache
	if cfg.EnableCache {
		cache = newTextCache(cfg.CacheSize)
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		cache:   cache,
		log:     log.WithComponent("embedder"),
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in API-sized batches. Cached texts never hit
// the API; results line up with the input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	results := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, text := range texts {
		if vec := e.cache.get(text); vec != nil {
			results[i] = vec
			continue
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}

	for lo := 0; lo < len(pending); lo += e.config.MaxBatchSize {
		hi := min(lo+e.config.MaxBatchSize, len(pending))

		vecs, err := e.requestWithRetry(ctx, pending[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", lo, hi, err)
		}
		for j, vec := range vecs {
			results[pendingIdx[lo+j]] = vec
			e.cache.put(pending[lo+j], vec)
		}
	}

	e.log.Debug("batch embedding complete",
		"total_texts", len(texts),
		"from_cache", len(texts)-len(pending),
		"from_api", len(pending),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// requestWithRetry retries transient API failures with doubling delay.
func (e *OpenAIEmbedder) requestWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := e.config.RetryDelay

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vecs, err := e.request(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		e.log.WithError(err).Warn("embedding request failed", "attempt", attempt)
	}
	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Dimension reports the vector width of the configured model.
func (e *OpenAIEmbedder) Dimension() int {
	if e.config.Model == "text-embedding-3-large" {
		return 3072
	}
	return 1536
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// textCache is a FIFO-evicting embedding cache keyed by text hash. A
// nil cache is valid and does nothing.
type textCache struct {
	mu      sync.RWMutex
	vecs    map[string][]float32
	fifo    []string
	maxSize int
}

func newTextCache(maxSize int) *textCache {
	return &textCache{
		vecs:    make(map[string][]float32),
		maxSize: maxSize,
	}
}

func (c *textCache) get(text string) []float32 {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vecs[hashText(text)]
}

func (c *textCache) put(text string, vec []float32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashText(text)
	if _, ok := c.vecs[key]; ok {
		return
	}
	if c.maxSize > 0 && len(c.vecs) >= c.maxSize && len(c.fifo) > 0 {
		delete(c.vecs, c.fifo[0])
		c.fifo = c.fifo[1:]
	}
	c.vecs[key] = vec
	c.fifo = append(c.fifo, key)
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}

// MockEmbedder derives vectors from the text hash. The same text always
// maps to the same vector, which is all retrieval tests need.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dimension)
	for i := range vec {
		vec[i] = float32(h[i%len(h)]) / 255.0
	}
	return vec, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (m *MockEmbedder) Dimension() int    { return m.dimension }
func (m *MockEmbedder) ModelName() string { return "mock-embedder" }

// CosineSimilarity compares two vectors; zero for mismatched lengths or
// zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
