package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskhub/internal/api/middleware"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
	"taskhub/internal/pkg/validate"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// UserStore 是 auth 包需要的用户存取能力（由 store.UserStore 实现）。
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uint) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByResetToken(ctx context.Context, tokenHash string) (*model.User, error)
	UpdateFields(ctx context.Context, id uint, updates map[string]interface{}) (*model.User, error)
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

// TokenIssuer 签发令牌（由 token.Service 实现）。
type TokenIssuer interface {
	Issue(userID uint) (string, error)
}

// LoginLimiter 登录限流（由 ratelimit.LoginLimiter 实现）。
type LoginLimiter interface {
	Allow(ctx context.Context, email, clientIP string) (bool, int64)
	Reset(ctx context.Context, email, clientIP string) error
}

// Handler 提供注册、登录、资料与密码管理接口。
type Handler struct {
	users      UserStore
	tokens     TokenIssuer
	limiter    LoginLimiter
	mailer     notify.Notifier
	bcryptCost int
	resetTTL   time.Duration
	logger     *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(
	users UserStore,
	tokens TokenIssuer,
	limiter LoginLimiter,
	mailer notify.Notifier,
	bcryptCost int,
	resetTTL time.Duration,
	logger *slog.Logger,
) *Handler {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = 12
	}
	if resetTTL <= 0 {
		resetTTL = 10 * time.Minute
	}
	return &Handler{
		users:      users,
		tokens:     tokens,
		limiter:    limiter,
		mailer:     mailer,
		bcryptCost: bcryptCost,
		resetTTL:   resetTTL,
		logger:     logger,
	}
}

type registerRequest struct {
	Name         string `json:"name" binding:"required,min=2,max=50"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	Avatar       string `json:"avatar" binding:"omitempty,url"`
	MobileNumber string `json:"mobileNumber" binding:"omitempty,e164"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Name         *string `json:"name" binding:"omitempty,min=2,max=50"`
	Email        *string `json:"email" binding:"omitempty,email"`
	Password     *string `json:"password" binding:"omitempty,min=6"`
	Avatar       *string `json:"avatar" binding:"omitempty,url"`
	MobileNumber *string `json:"mobileNumber" binding:"omitempty,e164"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=6"`
}

// userResponse 是 User 的对外表示。
//
// 序列化契约：永远不携带密码哈希和重置令牌字段。
type userResponse struct {
	ID           uint       `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Avatar       string     `json:"avatar,omitempty"`
	MobileNumber string     `json:"mobileNumber,omitempty"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Avatar:       u.Avatar,
		MobileNumber: u.MobileNumber,
		Role:         u.Role,
		IsActive:     u.IsActive,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// Register 创建新用户。
//
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Password:     string(hash),
		Avatar:       req.Avatar,
		MobileNumber: req.MobileNumber,
		Role:         "user",
		IsActive:     true,
	}
	if err := h.users.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": gin.H{"email": "email already registered"},
			})
			return
		}
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user registered", slog.String("email", email))
	}
	c.JSON(http.StatusCreated, gin.H{"user": newUserResponse(&user)})
}

// Login 校验凭证并返回 JWT。
//
// 无论邮箱不存在还是密码错误，都返回同一个 "invalid credentials"，
// 不向调用方泄露账号是否存在。
//
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	if allowed, waitMs := h.limiter.Allow(c.Request.Context(), email, c.ClientIP()); !allowed {
		metrics.LoginRateLimitedTotal.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts", "retry_after_ms": waitMs})
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && h.logger != nil {
			h.logger.Error("lookup user failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account is deactivated", "code": middleware.ReasonDeactivated})
		return
	}

	tokenStr, err := h.tokens.Issue(user.ID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	now := time.Now()
	if err := h.users.TouchLastLogin(c.Request.Context(), user.ID, now); err != nil {
		if h.logger != nil {
			h.logger.Warn("update last login failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	} else {
		user.LastLogin = &now
	}
	_ = h.limiter.Reset(c.Request.Context(), email, c.ClientIP())

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("email", email))
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenStr, "user": newUserResponse(user)})
}

// Profile 返回当前用户资料。
//
// GET /auth/profile
func (h *Handler) Profile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": middleware.ReasonInvalid})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

// UpdateProfile 部分更新当前用户资料。
//
// 如果带了 password 字段，会重新哈希并推进 password_changed_at，
// 同时清空未使用的重置令牌，此前签发的所有 JWT 随之失效。
//
// PUT /auth/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": middleware.ReasonInvalid})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"name": "is required"}})
			return
		}
		updates["name"] = name
	}
	if req.Email != nil {
		updates["email"] = strings.TrimSpace(strings.ToLower(*req.Email))
	}
	if req.Avatar != nil {
		updates["avatar"] = *req.Avatar
	}
	if req.MobileNumber != nil {
		updates["mobile_number"] = *req.MobileNumber
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), h.bcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		applyPasswordRotation(updates, string(hash))
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	updated, err := h.users.UpdateFields(c.Request.Context(), user.ID, updates)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": gin.H{"email": "email already registered"},
			})
			return
		}
		if h.logger != nil {
			h.logger.Error("update profile failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(updated)})
}

// ChangePassword 修改当前用户密码。
//
// 原密码不匹配与其它凭证错误一样返回笼统的 401；成功后
// password_changed_at 被推进，所有旧令牌立即失效（含本次请求用的）。
//
// PUT /auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": middleware.ReasonInvalid})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	updates := map[string]interface{}{}
	applyPasswordRotation(updates, string(hash))
	if _, err := h.users.UpdateFields(c.Request.Context(), user.ID, updates); err != nil {
		if h.logger != nil {
			h.logger.Error("change password failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change password failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("password changed", slog.Uint64("user_id", uint64(user.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed, please log in again"})
}

// VerifyToken 供客户端确认会话仍然有效。
//
// 走到这里说明 AuthMiddleware 已放行，直接回显用户即可。
//
// POST /auth/verify-token
func (h *Handler) VerifyToken(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": middleware.ReasonInvalid})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": newUserResponse(user)})
}

// ForgotPassword 签发密码重置令牌并通过邮件发送。
//
// 无论邮箱是否存在都返回同一响应，避免探测账号。
//
// POST /auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	genericOK := gin.H{"message": "if the email is registered, a reset token has been sent"}

	user, err := h.users.GetByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && h.logger != nil {
			h.logger.Error("lookup user failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusOK, genericOK)
		return
	}

	plain, err := randomToken(32)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate reset token failed"})
		return
	}
	expires := time.Now().Add(h.resetTTL)
	updates := map[string]interface{}{
		"password_reset_token":   hashResetToken(plain),
		"password_reset_expires": expires,
	}
	if _, err := h.users.UpdateFields(c.Request.Context(), user.ID, updates); err != nil {
		if h.logger != nil {
			h.logger.Error("save reset token failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save reset token failed"})
		return
	}

	if h.mailer == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "email notifier not configured"})
		return
	}
	if err := h.mailer.SendPasswordReset(user.Email, user.Name, plain, int(h.resetTTL.Minutes())); err != nil {
		// 发送失败就作废令牌，不让库里留一个用户收不到的有效令牌
		_, _ = h.users.UpdateFields(c.Request.Context(), user.ID, map[string]interface{}{
			"password_reset_token":   "",
			"password_reset_expires": nil,
		})
		if h.logger != nil {
			h.logger.Warn("send reset email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send reset email failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("password reset requested", slog.String("email", email))
	}
	c.JSON(http.StatusOK, genericOK)
}

// ResetPassword 用重置令牌设置新密码。
//
// PUT /auth/reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}

	user, err := h.users.GetByResetToken(c.Request.Context(), hashResetToken(req.Token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reset token is invalid or has expired"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup reset token failed"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), h.bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	updates := map[string]interface{}{}
	applyPasswordRotation(updates, string(hash))
	if _, err := h.users.UpdateFields(c.Request.Context(), user.ID, updates); err != nil {
		if h.logger != nil {
			h.logger.Error("reset password failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset password failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("password reset completed", slog.Uint64("user_id", uint64(user.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"message": "password has been reset, please log in"})
}

// applyPasswordRotation 组装一次密码变更涉及的全部列：
// 新哈希、password_changed_at 推进、未使用的重置令牌清空。
func applyPasswordRotation(updates map[string]interface{}, hash string) {
	updates["password"] = hash
	updates["password_changed_at"] = time.Now()
	updates["password_reset_token"] = ""
	updates["password_reset_expires"] = nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
