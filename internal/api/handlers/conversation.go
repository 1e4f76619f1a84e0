package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/api/middleware"
	"github.com/rowsage/rowsage/internal/storage"
)

// ConversationListResponse represents the response for listing conversations.
type ConversationListResponse struct {
	Conversations []storage.Conversation `json:"conversations"`
}

// ConversationWithMessages represents a conversation with its messages.
type ConversationWithMessages struct {
	*storage.Conversation
	Messages []storage.Message `json:"messages"`
}

// MessageListResponse represents the response for listing messages.
type MessageListResponse struct {
	Messages []storage.Message `json:"messages"`
}

// ListConversations returns a handler for listing the caller's
// conversations, most recently updated first.
// GET /api/v1/conversations
func ListConversations(chatService ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, ok := middleware.IdentityFromContext(ctx)
		if !ok {
			RespondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
			return
		}

		conversations, err := chatService.ListConversations(ctx, identity.UserID)
		if err != nil {
			logger.Error("failed to list conversations", "error", err, "user_id", identity.UserID)
			RespondAppError(w, err)
			return
		}

		if conversations == nil {
			conversations = []storage.Conversation{}
		}

		RespondJSON(w, http.StatusOK, ConversationListResponse{Conversations: conversations})
	}
}

// GetConversation returns a handler for fetching one conversation with
// its messages. Other users' conversations read as not found.
// GET /api/v1/conversations/{id}
func GetConversation(chatService ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, ok := middleware.IdentityFromContext(ctx)
		if !ok {
			RespondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
			return
		}

		id, err := parseConversationID(r)
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		conv, err := chatService.GetConversation(ctx, identity.UserID, id)
		if err != nil {
			logger.Warn("failed to load conversation", "error", err, "conversation_id", id)
			RespondAppError(w, err)
			return
		}

		messages, err := chatService.GetMessages(ctx, identity.UserID, id)
		if err != nil {
			logger.Error("failed to load messages", "error", err, "conversation_id", id)
			RespondAppError(w, err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}

		RespondJSON(w, http.StatusOK, ConversationWithMessages{
			Conversation: conv,
			Messages:     messages,
		})
	}
}

// GetConversationMessages returns a handler for listing messages in a
// conversation in chronological order.
// GET /api/v1/conversations/{id}/messages
func GetConversationMessages(chatService ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, ok := middleware.IdentityFromContext(ctx)
		if !ok {
			RespondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
			return
		}

		id, err := parseConversationID(r)
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		messages, err := chatService.GetMessages(ctx, identity.UserID, id)
		if err != nil {
			logger.Warn("failed to load messages", "error", err, "conversation_id", id)
			RespondAppError(w, err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}

		RespondJSON(w, http.StatusOK, MessageListResponse{Messages: messages})
	}
}

// DeleteConversation returns a handler for deleting a conversation the
// caller owns.
// DELETE /api/v1/conversations/{id}
func DeleteConversation(chatService ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, ok := middleware.IdentityFromContext(ctx)
		if !ok {
			RespondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
			return
		}

		id, err := parseConversationID(r)
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		if err := chatService.DeleteConversation(ctx, identity.UserID, id); err != nil {
			logger.Warn("failed to delete conversation", "error", err, "conversation_id", id)
			RespondAppError(w, err)
			return
		}

		logger.Info("conversation deleted", "conversation_id", id, "user_id", identity.UserID)
		RespondNoContent(w)
	}
}

func parseConversationID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}
