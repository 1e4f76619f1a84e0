package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/chat"
	"github.com/rowsage/rowsage/internal/ingest"
	"github.com/rowsage/rowsage/internal/storage"
)

// ChatService defines the chat operations needed by handlers.
type ChatService interface {
	Ask(ctx context.Context, req chat.AskRequest, sink chat.Sink) error
	ListConversations(ctx context.Context, userID string) ([]storage.Conversation, error)
	GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*storage.Conversation, error)
	GetMessages(ctx context.Context, userID string, conversationID uuid.UUID) ([]storage.Message, error)
	DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error
}

// SyncService defines the ingestion operations needed by handlers.
type SyncService interface {
	Sync(ctx context.Context, csvData []byte, sourceLabel string) (ingest.Result, error)
	SyncText(ctx context.Context, text string, sourceLabel string) (ingest.Result, error)
}

// SyncStatusReader reads the knowledge base status.
type SyncStatusReader interface {
	Get(ctx context.Context) (storage.SyncStatus, error)
}

// SourceArchive lists archived source uploads and signs download URLs.
type SourceArchive interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	GenerateSignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}
