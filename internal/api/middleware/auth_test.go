package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/auth"
)

func newTestTokens(now func() time.Time) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "reliability-test",
		Clock:      now,
	})
}

func mintToken(t *testing.T, tokens *auth.TokenService, role auth.Role, ttl time.Duration) string {
	t.Helper()
	token, _, err := tokens.GenerateToken("ops@example.com", role, ttl)
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRole_MissingAuthorizationHeader(t *testing.T) {
	handler := middleware.RequireRole(newTestTokens(nil), auth.RoleViewer)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/degradation", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "missing or malformed Authorization header")
}

func TestRequireRole_InvalidAuthorizationFormat(t *testing.T) {
	handler := middleware.RequireRole(newTestTokens(nil), auth.RoleViewer)(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"just bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRole_InvalidToken(t *testing.T) {
	handler := middleware.RequireRole(newTestTokens(nil), auth.RoleViewer)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer invalid.jwt.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestRequireRole_ExpiredToken(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	tokens := newTestTokens(func() time.Time { return now })
	token := mintToken(t, tokens, auth.RoleOperator, time.Minute)

	now = issued.Add(time.Hour)
	handler := middleware.RequireRole(tokens, auth.RoleViewer)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token has expired")
}

func TestRequireRole_ValidToken(t *testing.T) {
	tokens := newTestTokens(nil)
	token := mintToken(t, tokens, auth.RoleOperator, time.Hour)

	var (
		operator string
		claims   *auth.Claims
	)
	handler := middleware.RequireRole(tokens, auth.RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = middleware.GetOperator(r.Context())
		claims, _ = middleware.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", operator)
	require.NotNil(t, claims)
	assert.Equal(t, auth.RoleOperator, claims.Role)
}

func TestRequireRole_InsufficientRole(t *testing.T) {
	tokens := newTestTokens(nil)
	token := mintToken(t, tokens, auth.RoleViewer, time.Hour)
	handler := middleware.RequireRole(tokens, auth.RoleOperator)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "role viewer cannot perform this operation")
}

func TestRequireRole_NilTokenServiceDisablesAuth(t *testing.T) {
	var operator string
	handler := middleware.RequireRole(nil, auth.RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = middleware.GetOperator(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, operator)
}

func TestGetOperator_VisibleToOuterMiddleware(t *testing.T) {
	tokens := newTestTokens(nil)
	token := mintToken(t, tokens, auth.RoleViewer, time.Hour)

	var seen string
	outer := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			seen = middleware.GetOperator(r.Context())
		})
	}

	handler := middleware.RequestID(outer(middleware.RequireRole(tokens, auth.RoleViewer)(okHandler())))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ops@example.com", seen)
}

func TestGetOperator_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	assert.Empty(t, middleware.GetOperator(req.Context()))
}
