package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChunkStore defines chunk persistence and retrieval operations.
type ChunkStore interface {
	InsertBatch(ctx context.Context, chunks []Chunk) error
	DeleteByDoc(ctx context.Context, docID uuid.UUID) (int64, error)
	CountByDoc(ctx context.Context, docID uuid.UUID) (int, error)

	// MatchChunks performs cosine similarity search over a document's
	// embedded chunks.
	MatchChunks(ctx context.Context, docID uuid.UUID, embedding []float32, minSimilarity float64, topK int) ([]ScoredChunk, error)

	// SearchAny returns chunks whose content matches at least one keyword,
	// case-insensitively, ordered by chunk index.
	SearchAny(ctx context.Context, docID uuid.UUID, keywords []string, limit int) ([]Chunk, error)

	// FirstN returns the first chunks of a document in chunk index order.
	FirstN(ctx context.Context, docID uuid.UUID, n int) ([]Chunk, error)

	Health(ctx context.Context) error
}

// PgChunkStore implements ChunkStore using PostgreSQL with pgvector.
type PgChunkStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewPgChunkStore creates a new PgChunkStore instance.
func NewPgChunkStore(db *PostgresDB, logger *slog.Logger) *PgChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgChunkStore{
		db:     db,
		logger: logger.With("component", "chunk_store"),
	}
}

// Health checks database connectivity.
func (cs *PgChunkStore) Health(ctx context.Context) error {
	return cs.db.PingContext(ctx)
}

// InsertBatch inserts chunks inside a single transaction.
func (cs *PgChunkStore) InsertBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		cs.logger.Info("batch insert completed",
			"count", len(chunks),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return cs.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (
				id, doc_id, chunk_index, content, embedding, token_count, metadata
			) VALUES (
				$1, $2, $3, $4, $5::vector, $6, $7
			)
			ON CONFLICT (doc_id, chunk_index) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				token_count = EXCLUDED.token_count,
				metadata = EXCLUDED.metadata,
				updated_at = now()
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, chunk := range chunks {
			if chunk.ID == uuid.Nil {
				chunk.ID = uuid.New()
			}

			metadata, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for chunk %d: %w", i, err)
			}

			_, err = stmt.ExecContext(ctx,
				chunk.ID,
				chunk.DocID,
				chunk.ChunkIndex,
				chunk.Content,
				nullEmbedding(chunk.Embedding),
				nullInt(chunk.TokenCount),
				metadata,
			)
			if err != nil {
				cs.logger.Error("failed to insert chunk in batch",
					"index", i,
					"chunk_id", chunk.ID,
					"error", err,
				)
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}

		return nil
	})
}

// DeleteByDoc removes all chunks for a document and reports how many went.
func (cs *PgChunkStore) DeleteByDoc(ctx context.Context, docID uuid.UUID) (int64, error) {
	result, err := cs.db.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = $1", docID)
	if err != nil {
		cs.logger.Error("failed to delete chunks by doc", "doc_id", docID, "error", err)
		return 0, fmt.Errorf("failed to delete chunks by doc: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	cs.logger.Info("deleted chunks for doc",
		"doc_id", docID,
		"count", rowsAffected,
	)

	return rowsAffected, nil
}

// CountByDoc returns the number of chunks stored for a document.
func (cs *PgChunkStore) CountByDoc(ctx context.Context, docID uuid.UUID) (int, error) {
	var count int
	err := cs.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE doc_id = $1", docID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// MatchChunks performs vector similarity search within a document.
// Chunks without embeddings are never candidates.
func (cs *PgChunkStore) MatchChunks(ctx context.Context, docID uuid.UUID, embedding []float32, minSimilarity float64, topK int) ([]ScoredChunk, error) {
	start := time.Now()
	defer func() {
		cs.logger.Debug("vector search completed",
			"doc_id", docID,
			"top_k", topK,
			"min_similarity", minSimilarity,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if topK <= 0 {
		topK = 5
	}

	embeddingStr := embeddingToString(embedding)

	query := `
		SELECT
			id, doc_id, chunk_index, content, token_count, metadata,
			created_at, updated_at,
			1 - (embedding <=> $2::vector) AS similarity
		FROM chunks
		WHERE doc_id = $1
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $2::vector) > $3
		ORDER BY embedding <=> $2::vector
		LIMIT $4
	`

	rows, err := cs.db.QueryContext(ctx, query, docID, embeddingStr, minSimilarity, topK)
	if err != nil {
		cs.logger.Error("vector search failed", "error", err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := scanChunk(rows, &sc.Chunk, &sc.Similarity); err != nil {
			cs.logger.Error("failed to scan chunk", "error", err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// SearchAny returns candidate chunks matching any of the keywords with
// ILIKE. Ranking happens in the caller; candidates come back in chunk
// index order so later scoring stays deterministic.
func (cs *PgChunkStore) SearchAny(ctx context.Context, docID uuid.UUID, keywords []string, limit int) ([]Chunk, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 12
	}

	start := time.Now()
	defer func() {
		cs.logger.Debug("keyword search completed",
			"keywords", len(keywords),
			"limit", limit,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	conditions := make([]string, len(keywords))
	args := []interface{}{docID}
	for i, kw := range keywords {
		conditions[i] = fmt.Sprintf("content ILIKE $%d", i+2)
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			id, doc_id, chunk_index, content, token_count, metadata,
			created_at, updated_at
		FROM chunks
		WHERE doc_id = $1 AND (%s)
		ORDER BY chunk_index
		LIMIT $%d
	`, strings.Join(conditions, " OR "), len(keywords)+2)

	rows, err := cs.db.QueryContext(ctx, query, args...)
	if err != nil {
		cs.logger.Error("keyword search failed", "error", err)
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// FirstN returns the leading chunks of a document in chunk index order.
func (cs *PgChunkStore) FirstN(ctx context.Context, docID uuid.UUID, n int) ([]Chunk, error) {
	if n <= 0 {
		n = 6
	}

	query := `
		SELECT
			id, doc_id, chunk_index, content, token_count, metadata,
			created_at, updated_at
		FROM chunks
		WHERE doc_id = $1
		ORDER BY chunk_index
		LIMIT $2
	`

	rows, err := cs.db.QueryContext(ctx, query, docID, n)
	if err != nil {
		cs.logger.Error("first-n query failed", "error", err)
		return nil, fmt.Errorf("first-n query failed: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var results []Chunk
	for rows.Next() {
		var chunk Chunk
		if err := scanChunk(rows, &chunk, nil); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func scanChunk(rows *sql.Rows, chunk *Chunk, similarity *float64) error {
	var tokenCount sql.NullInt32
	var metadata []byte

	dest := []interface{}{
		&chunk.ID,
		&chunk.DocID,
		&chunk.ChunkIndex,
		&chunk.Content,
		&tokenCount,
		&metadata,
		&chunk.CreatedAt,
		&chunk.UpdatedAt,
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}

	if err := rows.Scan(dest...); err != nil {
		return err
	}

	chunk.TokenCount = int(tokenCount.Int32)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return nil
}

// Helper functions

// embeddingToString converts a float32 slice to pgvector string format.
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// nullEmbedding returns NULL for missing embeddings so keyword-only
// deployments keep a clean column.
func nullEmbedding(embedding []float32) sql.NullString {
	if len(embedding) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: embeddingToString(embedding), Valid: true}
}

// nullString returns sql.NullString for empty strings.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt returns sql.NullInt32 for zero values.
func nullInt(i int) sql.NullInt32 {
	if i == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(i), Valid: true}
}
