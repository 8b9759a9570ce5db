// internal/auth/auth_test.go
package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg := NewTokenConfig("studio-secret", time.Hour)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg.now = func() time.Time { return now }

	tok, err := GenerateToken("alice", RoleDirector, cfg)
	require.NoError(t, err)
	assert.NotContains(t, tok, "=", "无填充的 URL 安全编码")

	parsed, err := ParseToken(tok, cfg)
	require.NoError(t, err)
	assert.Equal(t, "alice", parsed.Subject)
	assert.Equal(t, RoleDirector, parsed.Role)
	assert.Equal(t, now.Add(time.Hour), parsed.Expiry().UTC())

	now = now.Add(2 * time.Hour)
	_, err = ParseToken(tok, cfg)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	cfg := NewTokenConfig("studio-secret", 0)
	assert.Equal(t, 24*time.Hour, cfg.Expiration)

	tok, err := GenerateToken("alice", RoleDirector, cfg)
	require.NoError(t, err)

	_, err = ParseToken(tok, NewTokenConfig("other", 0))
	assert.ErrorIs(t, err, ErrBadSignature)

	payload, sig, _ := strings.Cut(tok, ".")
	_, err = ParseToken(payload+"x."+sig, cfg)
	assert.Error(t, err)

	_, err = ParseToken("garbage", cfg)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseToken(tok, &TokenConfig{})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestGenerateTokenValidation(t *testing.T) {
	_, err := GenerateToken("a|b", RoleDirector, NewTokenConfig("s", 0))
	assert.Error(t, err)
	_, err = GenerateToken("a", RoleDirector, nil)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestCheckSecret(t *testing.T) {
	cfg := NewTokenConfig("studio-secret", 0)
	assert.True(t, CheckSecret("studio-secret", cfg))
	assert.False(t, CheckSecret("studio", cfg))
	assert.False(t, CheckSecret("", NewTokenConfig("", 0)))
}
