package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/api/middleware"
	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/chat"
	"github.com/rowsage/rowsage/internal/sse"
)

// maxQuestionRunes bounds the accepted question length.
const maxQuestionRunes = 2000

// ChatRequestBody represents the incoming chat request body.
type ChatRequestBody struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// trackingSink wraps the SSE writer and records whether anything reached
// the wire. Errors before the first write can still downgrade to a JSON
// response; errors after it cannot.
type trackingSink struct {
	w       *sse.Writer
	started bool
}

func (s *trackingSink) WriteEvent(event string, v any) error {
	s.started = true
	return s.w.WriteEvent(event, v)
}

func (s *trackingSink) WriteDelta(content string) error {
	s.started = true
	return s.w.WriteDelta(content)
}

func (s *trackingSink) WriteDone() error {
	s.started = true
	return s.w.WriteDone()
}

// HandleChat returns a handler that answers a question as an SSE stream.
// POST /api/v1/chat
//
// Request body:
//
//	{
//	  "question": "How old is Bob?",
//	  "conversation_id": "optional-uuid"
//	}
//
// Response: text/event-stream with a citations event, delta records and
// a terminal [DONE] record.
func HandleChat(chatService ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, ok := middleware.IdentityFromContext(ctx)
		if !ok {
			RespondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
			return
		}

		var req ChatRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("failed to decode chat request", "error", err)
			RespondBadRequest(w, "Invalid request body")
			return
		}

		question := strings.TrimSpace(req.Question)
		if question == "" {
			RespondError(w, http.StatusBadRequest, ErrCodeValidation, "Question is required")
			return
		}
		if utf8.RuneCountInString(question) > maxQuestionRunes {
			RespondError(w, http.StatusBadRequest, ErrCodeValidation, "Question must not exceed 2000 characters")
			return
		}

		var conversationID *uuid.UUID
		if req.ConversationID != "" {
			id, err := uuid.Parse(req.ConversationID)
			if err != nil {
				RespondError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid conversation ID")
				return
			}
			conversationID = &id
		}

		writer, err := sse.NewWriter(w)
		if err != nil {
			logger.Error("streaming unsupported", "error", err)
			RespondInternalError(w, "Streaming is not supported")
			return
		}
		sink := &trackingSink{w: writer}

		logger.Info("processing chat request",
			"user_id", identity.UserID,
			"conversation_id", req.ConversationID,
			"question_length", len(question),
		)

		err = chatService.Ask(ctx, chat.AskRequest{
			UserID:         identity.UserID,
			ConversationID: conversationID,
			Question:       question,
		}, sink)
		if err != nil {
			logger.Error("chat request failed",
				"error", err,
				"user_id", identity.UserID,
				"conversation_id", req.ConversationID,
			)
			if !sink.started {
				RespondAppError(w, err)
				return
			}
			// The stream already committed to SSE; signal the failure
			// in-band and close without [DONE].
			_ = writer.WriteError(apperr.Code(err), userMessage(err))
			return
		}
	}
}
