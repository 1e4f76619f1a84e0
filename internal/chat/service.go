package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/llm"
	"github.com/rowsage/rowsage/internal/rag"
	"github.com/rowsage/rowsage/internal/storage"
	"github.com/rowsage/rowsage/pkg/logger"
)

// titleLength bounds auto-generated conversation titles.
const titleLength = 50

// Service answers questions grounded in the knowledge base and persists
// the conversation.
type Service struct {
	conversations storage.ConversationStore
	retriever     rag.Retriever
	completer     llm.Completer
	relay         Relay
	log           *logger.Logger
}

// NewService creates a chat Service.
func NewService(conversations storage.ConversationStore, retriever rag.Retriever, completer llm.Completer, relay Relay, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		conversations: conversations,
		retriever:     retriever,
		completer:     completer,
		relay:         relay,
		log:           log.WithComponent("chat"),
	}
}

// AskRequest is one question from one user.
type AskRequest struct {
	UserID         string
	ConversationID *uuid.UUID
	Question       string
}

// Ask answers a question over the sink. The citations preamble is written
// before any answer fragment; exactly one assistant message is persisted
// per successful invocation. Errors returned before any sink write may
// still be rendered as a JSON response by the caller.
func (s *Service) Ask(ctx context.Context, req AskRequest, sink Sink) error {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return fmt.Errorf("%w: question is required", apperr.ErrValidation)
	}

	conv, err := s.resolveConversation(ctx, req.UserID, req.ConversationID, question)
	if err != nil {
		return err
	}

	// The user message is persisted before any upstream cost is
	// incurred, so a failed completion still leaves the question in the
	// history.
	if _, err := s.conversations.AppendMessage(ctx, storage.Message{
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Role:           storage.RoleUser,
		Content:        question,
	}); err != nil {
		return fmt.Errorf("%w: saving question: %v", apperr.ErrPersistence, err)
	}

	chunks, err := s.retriever.TopK(ctx, question)
	if err != nil {
		return err
	}

	prompt := rag.Compose(chunks, question)
	citations := rag.Citations(chunks)

	stream, err := s.completer.Stream(ctx, prompt.System, prompt.User)
	if err != nil {
		return err
	}

	// From here the response commits to SSE; failures can no longer
	// downgrade to a JSON error body.
	if err := sink.WriteEvent("citations", citations); err != nil {
		stream.Close()
		return err
	}

	persist := func(persistCtx context.Context, answer string) error {
		if _, err := s.conversations.AppendMessage(persistCtx, storage.Message{
			ConversationID: conv.ID,
			UserID:         req.UserID,
			Role:           storage.RoleAssistant,
			Content:        answer,
			Citations:      citations,
		}); err != nil {
			return fmt.Errorf("%w: saving answer: %v", apperr.ErrPersistence, err)
		}
		if err := s.conversations.Touch(persistCtx, conv.ID); err != nil {
			s.log.WithError(err).Warn("failed to touch conversation", "conversation_id", conv.ID)
		}
		return nil
	}

	if err := s.relay.Relay(ctx, stream, sink, persist); err != nil {
		s.log.WithError(err).Error("relay failed", "conversation_id", conv.ID)
		return err
	}

	return nil
}

// resolveConversation loads the user's conversation or starts a new one
// titled from the first question.
func (s *Service) resolveConversation(ctx context.Context, userID string, id *uuid.UUID, question string) (*storage.Conversation, error) {
	if id != nil {
		conv, err := s.conversations.GetByID(ctx, userID, *id)
		if err != nil {
			return nil, fmt.Errorf("%w: loading conversation: %v", apperr.ErrPersistence, err)
		}
		if conv == nil {
			return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, id)
		}
		return conv, nil
	}

	conv, err := s.conversations.Create(ctx, storage.Conversation{
		UserID: userID,
		Title:  makeTitle(question),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating conversation: %v", apperr.ErrPersistence, err)
	}
	return &conv, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]storage.Conversation, error) {
	convs, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %v", apperr.ErrPersistence, err)
	}
	return convs, nil
}

// GetConversation returns a single conversation the user owns.
func (s *Service) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*storage.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %v", apperr.ErrPersistence, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, conversationID)
	}
	return conv, nil
}

// GetMessages returns a conversation's messages in chronological order.
func (s *Service) GetMessages(ctx context.Context, userID string, conversationID uuid.UUID) ([]storage.Message, error) {
	conv, err := s.conversations.GetByID(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %v", apperr.ErrPersistence, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, conversationID)
	}

	msgs, err := s.conversations.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %v", apperr.ErrPersistence, err)
	}
	return msgs, nil
}

// DeleteConversation removes a conversation the user owns.
func (s *Service) DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	if err := s.conversations.Delete(ctx, userID, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, conversationID)
		}
		return fmt.Errorf("%w: deleting conversation: %v", apperr.ErrPersistence, err)
	}
	return nil
}

// makeTitle derives a conversation title from the first question.
func makeTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= titleLength {
		return question
	}
	return string(runes[:titleLength]) + "…"
}
