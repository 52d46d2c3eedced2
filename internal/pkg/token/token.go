package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 表示令牌格式错误或签名校验失败。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 表示令牌已过期。
	ErrExpiredToken = errors.New("expired token")
)

// Claims 是校验成功后返回的身份信息。
type Claims struct {
	UserID   uint      // 令牌主体对应的用户 ID
	IssuedAt time.Time // 签发时间（用于密码修改后的令牌失效判断）
}

// Service 负责签发和校验 JWT（HS256）。
//
// 它是纯粹的加密变换，不做任何持久化；密钥和有效期来自配置。
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService 创建令牌服务。ttl 非正数时使用默认的 7 天。
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue 为指定用户签发令牌。
func (s *Service) Issue(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify 校验令牌并返回身份信息。
//
// 过期返回 ErrExpiredToken，其余一律返回 ErrInvalidToken，
// 调用方据此区分 401 的机器可读原因。
func (s *Service) Verify(raw string) (Claims, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !tok.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	return Claims{
		UserID:   uint(uid),
		IssuedAt: issuedAt,
	}, nil
}
