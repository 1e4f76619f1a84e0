package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rowsage/rowsage/internal/apperr"
)

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// Roles understood by the authorization middleware.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity. Exposed for tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// TokenValidator validates a bearer token and returns the caller identity.
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// JWTValidator validates HS256-signed JWTs. The subject claim is the
// user ID and the role claim carries the caller's role.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator over a shared HS256 secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Validate parses and verifies the token.
func (v *JWTValidator) Validate(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token missing subject", apperr.ErrUnauthenticated)
	}

	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: c.Subject, Role: role}, nil
}

// MintToken signs a token for the given identity. Used by the CLI and
// by tests; the server never mints tokens itself.
func (v *JWTValidator) MintToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// Authenticate returns a middleware that requires a valid bearer token
// and stores the resulting identity in the request context.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				respondAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			id, err := validator.Validate(raw)
			if err != nil {
				logger.Warn("token validation failed", "error", err, "path", r.URL.Path)
				respondAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin returns a middleware that rejects non-admin callers.
// It must run after Authenticate.
func RequireAdmin(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			if !id.IsAdmin() {
				logger.Warn("admin access denied", "user_id", id.UserID, "path", r.URL.Path)
				respondAuthError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
