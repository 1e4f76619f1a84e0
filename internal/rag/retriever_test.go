package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/storage"
)

// mockEmbedder returns a fixed vector or a fixed error.
type mockEmbedder struct {
	embedding []float32
	err       error
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.embedding, nil
}

type mockVectorStore struct {
	scored    []storage.ScoredChunk
	err       error
	lastDocID uuid.UUID
}

func (m *mockVectorStore) MatchChunks(ctx context.Context, docID uuid.UUID, embedding []float32, minSimilarity float64, topK int) ([]storage.ScoredChunk, error) {
	m.lastDocID = docID
	return m.scored, m.err
}

type mockKeywordStore struct {
	candidates   []storage.Chunk
	firstChunks  []storage.Chunk
	searchErr    error
	lastKeywords []string
	searchCalls  int
	firstNCalls  int
}

func (m *mockKeywordStore) SearchAny(ctx context.Context, docID uuid.UUID, keywords []string, limit int) ([]storage.Chunk, error) {
	m.searchCalls++
	m.lastKeywords = keywords
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.candidates, nil
}

func (m *mockKeywordStore) FirstN(ctx context.Context, docID uuid.UUID, n int) ([]storage.Chunk, error) {
	m.firstNCalls++
	if len(m.firstChunks) > n {
		return m.firstChunks[:n], nil
	}
	return m.firstChunks, nil
}

func rowChunk(index int, content string) storage.Chunk {
	return storage.Chunk{
		ID:         uuid.New(),
		DocID:      storage.KnowledgeBaseDocID,
		ChunkIndex: index,
		Content:    content,
		Metadata:   storage.ChunkMetadata{RowNumber: index + 2},
	}
}

func TestVectorRetriever_TopK(t *testing.T) {
	t.Run("returns ranked chunks with similarity percent", func(t *testing.T) {
		store := &mockVectorStore{scored: []storage.ScoredChunk{
			{Chunk: rowChunk(0, "name: Alice; age: 30"), Similarity: 0.914},
			{Chunk: rowChunk(1, "name: Bob; age: 25"), Similarity: 0.307},
		}}
		r := NewVectorRetriever(store, &mockEmbedder{embedding: []float32{0.1}}, nil, storage.KnowledgeBaseDocID, DefaultVectorConfig(), nil)

		ranked, err := r.TopK(context.Background(), "how old is Alice?")
		require.NoError(t, err)
		require.Len(t, ranked, 2)
		assert.Equal(t, 91, ranked[0].SimilarityPct)
		assert.Equal(t, 31, ranked[1].SimilarityPct)
	})

	t.Run("searches only within the configured document", func(t *testing.T) {
		store := &mockVectorStore{}
		docID := uuid.New()
		r := NewVectorRetriever(store, &mockEmbedder{embedding: []float32{0.1}}, nil, docID, DefaultVectorConfig(), nil)

		_, err := r.TopK(context.Background(), "anything")
		require.NoError(t, err)
		assert.Equal(t, docID, store.lastDocID)
	})

	t.Run("empty result is not an error", func(t *testing.T) {
		r := NewVectorRetriever(&mockVectorStore{}, &mockEmbedder{embedding: []float32{0.1}}, nil, storage.KnowledgeBaseDocID, DefaultVectorConfig(), nil)

		ranked, err := r.TopK(context.Background(), "anything")
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("embed failure surfaces as retrieval error", func(t *testing.T) {
		r := NewVectorRetriever(&mockVectorStore{}, &mockEmbedder{err: errors.New("boom")}, nil, storage.KnowledgeBaseDocID, DefaultVectorConfig(), nil)

		_, err := r.TopK(context.Background(), "anything")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrRetrieval))
	})

	t.Run("store failure surfaces as retrieval error", func(t *testing.T) {
		store := &mockVectorStore{err: errors.New("db down")}
		r := NewVectorRetriever(store, &mockEmbedder{embedding: []float32{0.1}}, nil, storage.KnowledgeBaseDocID, DefaultVectorConfig(), nil)

		_, err := r.TopK(context.Background(), "anything")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrRetrieval))
	})
}

func TestKeywordRetriever_TopK(t *testing.T) {
	docID := storage.KnowledgeBaseDocID

	t.Run("scores by distinct keyword count", func(t *testing.T) {
		store := &mockKeywordStore{candidates: []storage.Chunk{
			rowChunk(0, "name: Alice; city: Paris"),
			rowChunk(1, "name: Bob; city: Paris; salary: 100"),
			rowChunk(2, "name: Carol; salary: 200"),
		}}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "salary paris bob")
		require.NoError(t, err)
		require.Len(t, ranked, 3)

		// Bob's row contains all three keywords.
		assert.Equal(t, 1, ranked[0].ChunkIndex)
		assert.Equal(t, float64(3), ranked[0].Score)
		assert.Equal(t, []string{"salary", "paris", "bob"}, store.lastKeywords)
	})

	t.Run("ties keep store order", func(t *testing.T) {
		store := &mockKeywordStore{candidates: []storage.Chunk{
			rowChunk(3, "color: red"),
			rowChunk(1, "color: red"),
			rowChunk(2, "color: red"),
		}}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "red color")
		require.NoError(t, err)
		require.Len(t, ranked, 3)
		assert.Equal(t, 3, ranked[0].ChunkIndex)
		assert.Equal(t, 1, ranked[1].ChunkIndex)
		assert.Equal(t, 2, ranked[2].ChunkIndex)
	})

	t.Run("caps result at top k", func(t *testing.T) {
		var candidates []storage.Chunk
		for i := 0; i < 12; i++ {
			candidates = append(candidates, rowChunk(i, fmt.Sprintf("item: widget %d", i)))
		}
		store := &mockKeywordStore{candidates: candidates}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "widget item")
		require.NoError(t, err)
		assert.Len(t, ranked, 6)
	})

	t.Run("no keywords falls back to first chunks", func(t *testing.T) {
		store := &mockKeywordStore{firstChunks: []storage.Chunk{
			rowChunk(0, "a"), rowChunk(1, "b"),
		}}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "is it in the")
		require.NoError(t, err)
		assert.Len(t, ranked, 2)
		assert.Equal(t, 0, store.searchCalls)
		assert.Equal(t, 1, store.firstNCalls)
		assert.Equal(t, float64(0), ranked[0].Score)
	})

	t.Run("no candidates falls back to first chunks", func(t *testing.T) {
		store := &mockKeywordStore{firstChunks: []storage.Chunk{rowChunk(0, "a")}}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "zebra quagga")
		require.NoError(t, err)
		assert.Len(t, ranked, 1)
		assert.Equal(t, 1, store.searchCalls)
		assert.Equal(t, 1, store.firstNCalls)
	})

	t.Run("empty knowledge base yields empty result", func(t *testing.T) {
		store := &mockKeywordStore{}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		ranked, err := r.TopK(context.Background(), "zebra quagga")
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("search failure surfaces as retrieval error", func(t *testing.T) {
		store := &mockKeywordStore{searchErr: errors.New("db down")}
		r := NewKeywordRetriever(store, docID, DefaultKeywordConfig(), nil)

		_, err := r.TopK(context.Background(), "zebra quagga")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrRetrieval))
	})
}
