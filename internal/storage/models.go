// Package storage provides database models and repository implementations.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeBaseDocID is the stable logical identifier for "the current
// knowledge source generation". Every re-sync fully replaces chunks under
// this id; it never versions or diffs.
var KnowledgeBaseDocID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rowsage/knowledge-base"))

// ChunkMetadata describes where a chunk came from in the source table.
type ChunkMetadata struct {
	// RowNumber is the 1-based line in the original CSV, header included,
	// so data row i maps to RowNumber i+2.
	RowNumber int      `json:"row_number"`
	Headers   []string `json:"headers,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// Chunk is a retrievable unit of text derived from one source row (or one
// sliding window of free text), with an optional embedding.
type Chunk struct {
	ID         uuid.UUID     `json:"id"`
	DocID      uuid.UUID     `json:"doc_id"`
	ChunkIndex int           `json:"chunk_index"`
	Content    string        `json:"content"`
	Embedding  []float32     `json:"embedding,omitempty"`
	TokenCount int           `json:"token_count"`
	Metadata   ChunkMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ScoredChunk is a chunk with the relevance signal attached by a retriever.
type ScoredChunk struct {
	Chunk
	// Similarity is cosine similarity in [0,1] for vector retrieval, or
	// the distinct-keyword overlap count for keyword retrieval. Zero for
	// unscored fallback results.
	Similarity float64 `json:"similarity"`
}

// Sync status values.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
	SyncStatusDone    = "done"
)

// SyncStatus is the singleton record describing the state of the knowledge
// base. Exactly one row exists; all ingestion state transitions go through
// it.
type SyncStatus struct {
	Status       string     `json:"status"`
	ChunkCount   int        `json:"chunk_count"`
	DocTitle     string     `json:"doc_title,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Conversation is a chat conversation owned exclusively by one user.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is an append-only chat message. Never mutated after creation.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Citation is a snapshot reference from a message to a chunk that grounded
// it at answer time. Deliberately not a foreign key: the chunk may be
// deleted by the next re-sync while old messages stay readable.
type Citation struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	ChunkIndex    int       `json:"chunk_index"`
	Excerpt       string    `json:"excerpt"`
	RowNumber     int       `json:"row_number"`
	Reference     string    `json:"reference"`
	SimilarityPct int       `json:"similarity,omitempty"`
}
