// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoleDirector 可以改变节目状态的角色
const RoleDirector = "director"

var (
	ErrNoSecret     = errors.New("secret key is required")
	ErrMalformed    = errors.New("invalid token format")
	ErrBadSignature = errors.New("invalid token signature")
	ErrExpired      = errors.New("token has expired")
)

// TokenConfig 令牌签名配置
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration

	// now 测试可替换
	now func() time.Time
}

// NewTokenConfig 以密钥创建配置，过期时间<=0时为24小时
func NewTokenConfig(secret string, expiration time.Duration) *TokenConfig {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenConfig{Secret: []byte(secret), Expiration: expiration}
}

func (c *TokenConfig) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Token 解析后的令牌
type Token struct {
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// Expiry 过期时间
func (t *Token) Expiry() time.Time { return time.Unix(t.ExpiresAt, 0) }

// GenerateToken 签发令牌：base64(payload).base64(hmac)
func GenerateToken(subject, role string, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", ErrNoSecret
	}
	if strings.ContainsRune(subject, '|') || strings.ContainsRune(role, '|') {
		return "", fmt.Errorf("subject and role must not contain '|'")
	}

	now := config.clock()
	payload := fmt.Sprintf("%s|%s|%d|%d", subject, role, now.Add(config.Expiration).Unix(), now.Unix())

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.RawURLEncoding.EncodeToString(sign(config.Secret, []byte(payload)))
	return encodedPayload + "." + encodedSignature, nil
}

// ParseToken 校验签名与过期时间
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, ErrNoSecret
	}

	encodedPayload, encodedSignature, ok := strings.Cut(strings.TrimSpace(tokenString), ".")
	if !ok || encodedPayload == "" || encodedSignature == "" {
		return nil, ErrMalformed
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return nil, fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(signature, sign(config.Secret, payload)) {
		return nil, ErrBadSignature
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 4 {
		return nil, ErrMalformed
	}
	expiresAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issuedAt, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	if config.clock().Unix() > expiresAt {
		return nil, ErrExpired
	}

	return &Token{
		Subject:   parts[0],
		Role:      parts[1],
		ExpiresAt: expiresAt,
		IssuedAt:  issuedAt,
	}, nil
}

// CheckSecret 常量时间比较导演密钥
func CheckSecret(given string, config *TokenConfig) bool {
	if config == nil || len(config.Secret) == 0 {
		return false
	}
	return hmac.Equal([]byte(given), config.Secret)
}

func sign(secret, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}
