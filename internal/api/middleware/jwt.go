package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

// 401 响应里的机器可读原因码。
const (
	ReasonMissing       = "missing"             // 请求未携带凭证
	ReasonMalformed     = "malformed"           // Authorization 头格式错误
	ReasonInvalid       = "invalid"             // 签名/格式校验失败（含用户不存在，不泄露区别）
	ReasonExpired       = "expired"             // 令牌已过期
	ReasonStalePassword = "stale_password"      // 令牌签发后密码已修改
	ReasonDeactivated   = "account_deactivated" // 账号已停用
)

// TokenVerifier 校验令牌（由 token.Service 实现）。
type TokenVerifier interface {
	Verify(raw string) (token.Claims, error)
}

// UserLoader 按 ID 加载用户（由 store.UserStore 实现）。
type UserLoader interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

// AuthMiddleware 校验 Bearer 凭证并把用户身份写入上下文。
//
// 校验顺序：凭证存在 -> 签名/过期 -> 用户存在且启用 ->
// 密码未在签发之后被修改。任何一步失败都以 401 终止请求，
// 响应带区分原因的 code 字段；中间件本身只读，不产生副作用。
func AuthMiddleware(verifier TokenVerifier, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, ReasonMissing, "missing authorization")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			abortUnauthorized(c, ReasonMalformed, "invalid authorization header")
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, token.ErrExpiredToken) {
				abortUnauthorized(c, ReasonExpired, "token expired")
				return
			}
			abortUnauthorized(c, ReasonInvalid, "invalid token")
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			// 用户不存在与令牌无效对外不可区分
			abortUnauthorized(c, ReasonInvalid, "invalid token")
			return
		}
		if !user.IsActive {
			abortUnauthorized(c, ReasonDeactivated, "account is deactivated")
			return
		}
		if user.ChangedPasswordAfter(claims.IssuedAt) {
			abortUnauthorized(c, ReasonStalePassword, "password changed after token was issued, please log in again")
			return
		}

		c.Set("userID", user.ID)
		c.Set("user", user)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code string, message string) {
	metrics.AuthFailureTotal.WithLabelValues(code).Inc()
	c.JSON(http.StatusUnauthorized, gin.H{"error": message, "code": code})
	c.Abort()
}

// CurrentUser 从上下文取出认证通过的用户。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}

// CurrentUserID 从上下文取出认证通过的用户 ID，未认证时返回 0。
func CurrentUserID(c *gin.Context) uint {
	v, ok := c.Get("userID")
	if !ok {
		return 0
	}
	id, ok := v.(uint)
	if !ok {
		return 0
	}
	return id
}
