package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// RedisClient is the cache's view of Redis. Kept narrow so tests can
// fake it.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig sets key prefix and per-kind TTLs.
type CacheConfig struct {
	Prefix       string
	EmbeddingTTL time.Duration
	RetrievalTTL time.Duration
}

// DefaultCacheConfig returns production defaults. The retrieval TTL is
// short because entries also get invalidated explicitly after syncs;
// the TTL only bounds staleness when an invalidation is missed.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:       "rowsage",
		EmbeddingTTL: time.Hour,
		RetrievalTTL: 5 * time.Minute,
	}
}

// CacheMetrics is a point-in-time snapshot of hit/miss counters.
type CacheMetrics struct {
	EmbeddingHits   uint64
	EmbeddingMisses uint64
	RetrievalHits   uint64
	RetrievalMisses uint64
	Errors          uint64
}

type cacheCounters struct {
	embeddingHits   atomic.Uint64
	embeddingMisses atomic.Uint64
	retrievalHits   atomic.Uint64
	retrievalMisses atomic.Uint64
	errors          atomic.Uint64
}

// CacheManager caches query embeddings and retrieval results in Redis.
// Every operation is best-effort: an unhealthy or failing cache reads
// as a miss and writes are dropped, so callers never fail on cache
// trouble.
type CacheManager struct {
	client   RedisClient
	config   CacheConfig
	logger   *slog.Logger
	counters cacheCounters
	healthy  bool
}

// NewCacheManager probes the client once; an unreachable Redis leaves
// the manager permanently in pass-through mode.
func NewCacheManager(client RedisClient, logger *slog.Logger, config CacheConfig) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &CacheManager{
		client: client,
		config: config,
		logger: logger.With("component", "cache_manager"),
	}
	if client == nil {
		return cm
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		cm.logger.Warn("cache disabled, Redis unreachable", "error", err)
		return cm
	}
	cm.healthy = true
	return cm
}

func (cm *CacheManager) IsHealthy() bool {
	return cm.healthy && cm.client != nil
}

// GetMetrics snapshots the counters.
func (cm *CacheManager) GetMetrics() CacheMetrics {
	return CacheMetrics{
		EmbeddingHits:   cm.counters.embeddingHits.Load(),
		EmbeddingMisses: cm.counters.embeddingMisses.Load(),
		RetrievalHits:   cm.counters.retrievalHits.Load(),
		RetrievalMisses: cm.counters.retrievalMisses.Load(),
		Errors:          cm.counters.errors.Load(),
	}
}

// GetEmbedding returns the cached embedding for a query, if present.
func (cm *CacheManager) GetEmbedding(ctx context.Context, query string) ([]float32, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	data, err := cm.client.Get(ctx, cm.embeddingKey(query))
	if err != nil {
		cm.counters.embeddingMisses.Add(1)
		return nil, false, nil
	}

	embedding, err := decodeEmbedding([]byte(data))
	if err != nil {
		cm.counters.errors.Add(1)
		cm.logger.Error("corrupt cached embedding", "error", err)
		return nil, false, err
	}
	cm.counters.embeddingHits.Add(1)
	return embedding, true, nil
}

// SetEmbedding stores a query embedding. Write failures are logged and
// swallowed.
func (cm *CacheManager) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	if !cm.IsHealthy() {
		return nil
	}

	if err := cm.client.Set(ctx, cm.embeddingKey(query), encodeEmbedding(embedding), cm.config.EmbeddingTTL); err != nil {
		cm.counters.errors.Add(1)
		cm.logger.Warn("failed to cache embedding", "error", err)
	}
	return nil
}

// GetRetrieval returns cached retrieval results for a key built with
// BuildRetrievalKey.
func (cm *CacheManager) GetRetrieval(ctx context.Context, key string) ([]ScoredChunk, bool, error) {
	if !cm.IsHealthy() {
		return nil, false, nil
	}

	data, err := cm.client.Get(ctx, cm.retrievalKey(key))
	if err != nil {
		cm.counters.retrievalMisses.Add(1)
		return nil, false, nil
	}

	var chunks []ScoredChunk
	if err := json.Unmarshal([]byte(data), &chunks); err != nil {
		cm.counters.errors.Add(1)
		cm.logger.Error("corrupt cached retrieval", "error", err)
		return nil, false, err
	}
	cm.counters.retrievalHits.Add(1)
	return chunks, true, nil
}

// SetRetrieval stores retrieval results. Write failures are logged and
// swallowed.
func (cm *CacheManager) SetRetrieval(ctx context.Context, key string, chunks []ScoredChunk) error {
	if !cm.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encoding retrieval for cache: %w", err)
	}
	if err := cm.client.Set(ctx, cm.retrievalKey(key), data, cm.config.RetrievalTTL); err != nil {
		cm.counters.errors.Add(1)
		cm.logger.Warn("failed to cache retrieval", "error", err)
	}
	return nil
}

// InvalidateRetrieval drops every cached retrieval result. Called after
// a sync replaces the chunk set.
func (cm *CacheManager) InvalidateRetrieval(ctx context.Context) error {
	return cm.invalidate(ctx, cm.config.Prefix+":retrieve:*")
}

// InvalidateAll clears every entry under the prefix, embeddings
// included.
func (cm *CacheManager) InvalidateAll(ctx context.Context) error {
	return cm.invalidate(ctx, cm.config.Prefix+":*")
}

func (cm *CacheManager) invalidate(ctx context.Context, pattern string) error {
	if !cm.IsHealthy() {
		return nil
	}

	keys, err := cm.client.Keys(ctx, pattern)
	if err != nil {
		cm.logger.Warn("failed to enumerate cache keys", "pattern", pattern, "error", err)
		return nil
	}
	if len(keys) > 0 {
		if err := cm.client.Del(ctx, keys...); err != nil {
			cm.logger.Warn("failed to drop cache keys", "pattern", pattern, "error", err)
			return nil
		}
	}
	cm.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", len(keys))
	return nil
}

// BuildRetrievalKey derives the cache key for one retrieval: the query
// hash plus everything that changes the result set.
func (cm *CacheManager) BuildRetrievalKey(query string, mode string, topK int) string {
	return fmt.Sprintf("%s:%s:%d", hashQuery(query), mode, topK)
}

func (cm *CacheManager) Close() error {
	if cm.client != nil {
		return cm.client.Close()
	}
	return nil
}

func (cm *CacheManager) embeddingKey(query string) string {
	return cm.config.Prefix + ":embed:" + hashQuery(query)
}

func (cm *CacheManager) retrievalKey(key string) string {
	return cm.config.Prefix + ":retrieve:" + key
}

// hashQuery keeps raw question text out of Redis keys.
func hashQuery(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:16])
}

// Embeddings are cached as packed little-endian float32, a quarter the
// size of the JSON form.

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
