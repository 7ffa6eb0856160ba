package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/auth"
)

func TestTokenService_GenerateAndValidate(t *testing.T) {
	svc := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "reliabilityd",
	})

	token, expiresAt, err := svc.GenerateToken("alice", auth.RoleOperator, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.RoleOperator, claims.Role)
	assert.Equal(t, "reliabilityd", claims.Issuer)
}

func TestTokenService_InvalidToken(t *testing.T) {
	svc := auth.NewTokenService(auth.TokenConfig{SigningKey: "test-secret-key-for-testing-only"})

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestTokenService_WrongSigningKey(t *testing.T) {
	svc1 := auth.NewTokenService(auth.TokenConfig{SigningKey: "key-one"})
	token, _, err := svc1.GenerateToken("alice", auth.RoleViewer, 0)
	require.NoError(t, err)

	svc2 := auth.NewTokenService(auth.TokenConfig{SigningKey: "key-two"})
	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_WrongIssuer(t *testing.T) {
	svc1 := auth.NewTokenService(auth.TokenConfig{SigningKey: "test-key", Issuer: "issuer-one"})
	token, _, err := svc1.GenerateToken("alice", auth.RoleOperator, 0)
	require.NoError(t, err)

	svc2 := auth.NewTokenService(auth.TokenConfig{SigningKey: "test-key", Issuer: "issuer-two"})
	_, err = svc2.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenService_Expired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	now := issued
	svc := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-key",
		Clock:      func() time.Time { return now },
	})

	token, expiresAt, err := svc.GenerateToken("alice", auth.RoleOperator, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(time.Hour), expiresAt)

	now = issued.Add(2 * time.Hour)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_RejectsBadInput(t *testing.T) {
	svc := auth.NewTokenService(auth.TokenConfig{SigningKey: "test-key"})

	_, _, err := svc.GenerateToken("alice", "root", 0)
	assert.ErrorIs(t, err, auth.ErrInvalidRole)

	_, _, err = svc.GenerateToken("", auth.RoleViewer, 0)
	assert.Error(t, err)
}

func TestRole_Allows(t *testing.T) {
	assert.True(t, auth.RoleOperator.Allows(auth.RoleViewer))
	assert.True(t, auth.RoleOperator.Allows(auth.RoleOperator))
	assert.True(t, auth.RoleViewer.Allows(auth.RoleViewer))
	assert.False(t, auth.RoleViewer.Allows(auth.RoleOperator))
	assert.False(t, auth.Role("").Allows(auth.RoleViewer))
}
