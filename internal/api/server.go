package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskhub/internal/api/auth"
	"taskhub/internal/api/middleware"
	"taskhub/internal/config"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
	"taskhub/internal/pkg/ratelimit"
	"taskhub/internal/pkg/statscache"
	"taskhub/internal/pkg/token"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *gorm.DB
	rdb        *redis.Client
	router     *gin.Engine
	auth       *auth.Handler
	taskStore  TaskStore
	statsCache StatsCache
}

// TaskStore 提供任务的读写（由 store.TaskStore 实现）。
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, userID, taskID uint) (*model.Task, error)
	Update(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID uint) error
	List(ctx context.Context, userID uint, filter store.ListFilter) ([]model.Task, int64, error)
	Stats(ctx context.Context, userID uint) (*store.TaskStats, error)
}

// StatsCache 统计概览的缓存（由 statscache.Cache 实现）。
type StatsCache interface {
	Get(ctx context.Context, userID uint) (*store.TaskStats, bool)
	Set(ctx context.Context, userID uint, stats *store.TaskStats) error
	Invalidate(ctx context.Context, userID uint) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开 MySQL 连接并执行自动迁移
// 2. 连接 Redis
// 3. 初始化 Gin 路由引擎
//
// MySQL 和 Redis 在启动时不可达不会导致失败：连接是惰性的，
// 迁移失败只记 Warn，服务照常监听（healthz 会报告降级状态）。
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       cfg.MySQL.DSN,
		SkipInitializeWithVersion: true, // 初始化时不触达数据库
	}), &gorm.Config{
		Logger:               gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		logger.Warn("auto migrate failed, continuing without schema check",
			slog.String("error", err.Error()))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, cache and rate limiting degraded",
			slog.String("error", err.Error()))
	}

	tokens := token.NewService(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	users := store.NewUserStore(db)
	limiter := ratelimit.NewLoginLimiter(rdb, logger, cfg.App.LoginRateLimit, cfg.App.LoginRateBurst)
	mailer := notify.NewEmailNotifier(&cfg.Email, logger)

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics())

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		router:     r,
		auth:       auth.NewHandler(users, tokens, limiter, mailer, cfg.Security.BcryptCost, cfg.Security.ResetTokenTTL, logger),
		taskStore:  store.NewTaskStore(db),
		statsCache: statscache.New(rdb, cfg.App.StatsCacheTTL),
	}
	s.registerRoutes(tokens, users)
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes(verifier middleware.TokenVerifier, users middleware.UserLoader) {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	authGroup := s.router.Group("/auth")
	authGroup.POST("/register", s.auth.Register)
	authGroup.POST("/login", s.auth.Login)
	authGroup.POST("/forgot-password", s.auth.ForgotPassword)
	authGroup.PUT("/reset-password", s.auth.ResetPassword)

	authed := authGroup.Group("")
	authed.Use(middleware.AuthMiddleware(verifier, users))
	authed.GET("/profile", s.auth.Profile)
	authed.PUT("/profile", s.auth.UpdateProfile)
	authed.PUT("/change-password", s.auth.ChangePassword)
	authed.POST("/verify-token", s.auth.VerifyToken)

	tasks := s.router.Group("/tasks")
	tasks.Use(middleware.AuthMiddleware(verifier, users))
	// 静态段优先于 :id，stats 不会被当成任务 ID 解析
	tasks.GET("/stats/overview", s.handleTaskStats)
	tasks.POST("", s.handleCreateTask)
	tasks.GET("", s.handleListTasks)
	tasks.GET("/:id", s.handleGetTask)
	tasks.PUT("/:id", s.handleUpdateTask)
	tasks.DELETE("/:id", s.handleDeleteTask)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"status": "ok", "mysql": "ok", "redis": "ok"}
	healthy := true

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		status["mysql"] = "error"
		healthy = false
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = "error"
		healthy = false
	}

	if !healthy {
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// internalError 写 500 响应；非生产环境附带错误详情。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, slog.String("error", err.Error()))
	body := gin.H{"error": msg}
	if s.cfg.App.Env != "prod" {
		body["detail"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}
