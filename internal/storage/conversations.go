package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ConversationStore manages conversations and their messages. Every query
// is scoped by user id so one user can never read another's history.
type ConversationStore interface {
	Create(ctx context.Context, conv Conversation) (Conversation, error)
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]Conversation, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, userID string, id uuid.UUID) error

	AppendMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, userID string, conversationID uuid.UUID) ([]Message, error)
}

// PgConversationStore implements ConversationStore on PostgreSQL.
type PgConversationStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewPgConversationStore creates a new PgConversationStore instance.
func NewPgConversationStore(db *PostgresDB, logger *slog.Logger) *PgConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgConversationStore{
		db:     db,
		logger: logger.With("component", "conversation_store"),
	}
}

// Create inserts a new conversation and returns it with timestamps set.
func (cs *PgConversationStore) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}

	query := `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	err := cs.db.QueryRowContext(ctx, query, conv.ID, conv.UserID, conv.Title).
		Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		cs.logger.Error("failed to create conversation", "user_id", conv.UserID, "error", err)
		return Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// GetByID returns a conversation owned by the user, or nil when it does
// not exist or belongs to someone else.
func (cs *PgConversationStore) GetByID(ctx context.Context, userID string, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`

	var conv Conversation
	err := cs.db.QueryRowContext(ctx, query, id, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// ListByUser returns the user's conversations, most recently active first.
func (cs *PgConversationStore) ListByUser(ctx context.Context, userID string) ([]Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := cs.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var conv Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		results = append(results, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// Touch bumps a conversation's updated_at so list ordering follows
// recent activity.
func (cs *PgConversationStore) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := cs.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = now() WHERE id = $1", id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation and cascades to its messages. Deleting a
// conversation the user does not own reports not found.
func (cs *PgConversationStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	result, err := cs.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = $1 AND user_id = $2", id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// AppendMessage inserts a message. Messages are append-only.
func (cs *PgConversationStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal citations: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, user_id, role, content, citations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = cs.db.QueryRowContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.UserID,
		msg.Role,
		msg.Content,
		citations,
	).Scan(&msg.CreatedAt)
	if err != nil {
		cs.logger.Error("failed to append message",
			"conversation_id", msg.ConversationID,
			"role", msg.Role,
			"error", err,
		)
		return Message{}, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

// ListMessages returns a conversation's messages in chronological order.
// The join enforces ownership.
func (cs *PgConversationStore) ListMessages(ctx context.Context, userID string, conversationID uuid.UUID) ([]Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.citations, m.created_at
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE m.conversation_id = $1 AND c.user_id = $2
		ORDER BY m.created_at
	`

	rows, err := cs.db.QueryContext(ctx, query, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var msg Message
		var citations []byte

		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.UserID,
			&msg.Role,
			&msg.Content,
			&citations,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &msg.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}

		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}
