// internal/api/auth_middleware.go
package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AIHouse/internal/auth"
	"github.com/Corphon/AIHouse/internal/utils"
)

const (
	directorKey      = "director"
	directorTokenTTL = 0 // 使用 auth 默认的24小时
)

// DirectorAuth 保护会改变节目状态的接口。密钥为空时不做鉴权。
type DirectorAuth struct {
	tokens *auth.TokenConfig
	logger *utils.Logger
}

// NewDirectorAuth 以导演密钥创建鉴权
func NewDirectorAuth(secret string, logger *utils.Logger) *DirectorAuth {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	d := &DirectorAuth{logger: logger}
	if secret != "" {
		d.tokens = auth.NewTokenConfig(secret, directorTokenTTL)
	} else {
		logger.Warn("⚠️ 未设置 AUTH_SECRET_KEY，写接口不做鉴权", nil)
	}
	return d
}

// Enabled 是否启用鉴权
func (d *DirectorAuth) Enabled() bool { return d.tokens != nil }

// Issue 校验密钥并签发导演令牌
func (d *DirectorAuth) Issue(secret, subject string) (string, *auth.Token, error) {
	if !auth.CheckSecret(secret, d.tokens) {
		return "", nil, auth.ErrBadSignature
	}
	if subject == "" {
		subject = auth.RoleDirector
	}
	raw, err := auth.GenerateToken(subject, auth.RoleDirector, d.tokens)
	if err != nil {
		return "", nil, err
	}
	tok, err := auth.ParseToken(raw, d.tokens)
	if err != nil {
		return "", nil, err
	}
	return raw, tok, nil
}

// Require 要求 Bearer 导演令牌
func (d *DirectorAuth) Require(rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !d.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" {
			rh.Unauthorized(c, "需要导演令牌")
			c.Abort()
			return
		}

		tok, err := auth.ParseToken(raw, d.tokens)
		if err != nil || tok.Role != auth.RoleDirector {
			d.logger.Warn("🔒 导演令牌无效", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": errString(err),
			})
			rh.Unauthorized(c, "导演令牌无效或已过期")
			c.Abort()
			return
		}

		c.Set(directorKey, tok.Subject)
		c.Next()
	}
}

// directorFromContext 当前请求的导演身份，未鉴权时为 anonymous
func directorFromContext(c *gin.Context) string {
	if v := c.GetString(directorKey); v != "" {
		return v
	}
	return "anonymous"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
