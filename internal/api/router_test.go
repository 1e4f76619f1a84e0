package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowsage/rowsage/internal/api/middleware"
	"github.com/rowsage/rowsage/internal/chat"
	"github.com/rowsage/rowsage/internal/ingest"
	"github.com/rowsage/rowsage/internal/storage"
)

type stubChatService struct{}

func (stubChatService) Ask(ctx context.Context, req chat.AskRequest, sink chat.Sink) error {
	if err := sink.WriteEvent("citations", []storage.Citation{}); err != nil {
		return err
	}
	if err := sink.WriteDelta("ok"); err != nil {
		return err
	}
	return sink.WriteDone()
}

func (stubChatService) ListConversations(ctx context.Context, userID string) ([]storage.Conversation, error) {
	return nil, nil
}

func (stubChatService) GetConversation(ctx context.Context, userID string, id uuid.UUID) (*storage.Conversation, error) {
	return &storage.Conversation{ID: id, UserID: userID}, nil
}

func (stubChatService) GetMessages(ctx context.Context, userID string, id uuid.UUID) ([]storage.Message, error) {
	return nil, nil
}

func (stubChatService) DeleteConversation(ctx context.Context, userID string, id uuid.UUID) error {
	return nil
}

type stubSyncService struct{}

func (stubSyncService) Sync(ctx context.Context, csvData []byte, sourceLabel string) (ingest.Result, error) {
	return ingest.Result{ChunkCount: 1, RowCount: 1}, nil
}

func (stubSyncService) SyncText(ctx context.Context, text string, sourceLabel string) (ingest.Result, error) {
	return ingest.Result{ChunkCount: 1}, nil
}

type stubStatusReader struct{}

func (stubStatusReader) Get(ctx context.Context) (storage.SyncStatus, error) {
	return storage.SyncStatus{Status: storage.SyncStatusIdle}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *middleware.JWTValidator) {
	t.Helper()
	validator := middleware.NewJWTValidator("test-secret")
	router := NewRouter(Dependencies{
		Logger:         slog.New(slog.DiscardHandler),
		ChatService:    stubChatService{},
		SyncService:    stubSyncService{},
		SyncStatus:     stubStatusReader{},
		TokenValidator: validator,
	}, DefaultRouterConfig())
	return router, validator
}

func bearer(t *testing.T, v *middleware.JWTValidator, role string) string {
	t.Helper()
	token, err := v.MintToken(middleware.Identity{UserID: "user-1", Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouterHealthEndpointsAreOpen(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAuthenticatedAccess(t *testing.T) {
	router, validator := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", bearer(t, validator, middleware.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterSyncIsAdminOnly(t *testing.T) {
	router, validator := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", bearer(t, validator, middleware.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterSyncStatusIsUserReadable(t *testing.T) {
	router, validator := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	req.Header.Set("Authorization", bearer(t, validator, middleware.RoleUser))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), storage.SyncStatusIdle)
}
