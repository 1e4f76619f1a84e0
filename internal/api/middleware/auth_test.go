package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestJWTValidatorRoundTrip(t *testing.T) {
	v := NewJWTValidator("test-secret")

	token, err := v.MintToken(Identity{UserID: "user-1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.True(t, id.IsAdmin())
}

func TestJWTValidatorDefaultsRole(t *testing.T) {
	v := NewJWTValidator("test-secret")

	token, err := v.MintToken(Identity{UserID: "user-2"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestJWTValidatorRejectsExpired(t *testing.T) {
	v := NewJWTValidator("test-secret")

	token, err := v.MintToken(Identity{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestJWTValidatorRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTValidator("secret-a").MintToken(Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret-b").Validate(token)
	assert.Error(t, err)
}

func TestAuthenticateMiddleware(t *testing.T) {
	v := NewJWTValidator("test-secret")
	token, err := v.MintToken(Identity{UserID: "user-1", Role: RoleUser}, time.Hour)
	require.NoError(t, err)

	var seen Identity
	handler := Authenticate(v, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", seen.UserID)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "admin-1", Role: RoleAdmin}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "user-1", Role: RoleUser}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "FORBIDDEN")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMemoryRateLimitStore(t *testing.T) {
	store := NewMemoryRateLimitStore()
	ctx := t.Context()

	for i := 1; i <= 3; i++ {
		count, err := store.Increment(ctx, "chat:user:u1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}

	count, err := store.GetCount(ctx, "chat:user:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = store.GetCount(ctx, "chat:user:other")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRateLimiterMiddleware(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.ChatRequests = Limit{Requests: 2, Window: time.Minute}

	rl := NewRateLimiter(NewMemoryRateLimitStore(), cfg, discardLogger())
	handler := rl.Middleware("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u1", Role: RoleUser}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)

	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
