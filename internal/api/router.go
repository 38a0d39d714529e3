package api

import (
	"context"
	"time"

	"image-optimizer/internal/api/handlers/health"
	"image-optimizer/internal/api/handlers/images"
	"image-optimizer/internal/api/middleware"
	"image-optimizer/internal/core/analyzer"
	"image-optimizer/internal/core/cache"
	"image-optimizer/internal/core/image"
	"image-optimizer/internal/core/queue"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services 路由依賴的服務
type Services struct {
	Optimizer *image.Optimizer
	Queue     *queue.Manager
	Cache     cache.Cache
	Analyzer  *analyzer.Client
	Roots     *images.Roots
	dedup     *middleware.Deduplicator
}

// NewServices 依設定初始化服務並啟動 worker
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	common.LogInfo("Initializing services",
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("queue_workers", cfg.Queue.Workers),
		zap.Bool("analyzer_enabled", cfg.Analyzer.Enabled),
		zap.String("model", cfg.Analyzer.Model),
	)

	roots, err := images.NewRoots(cfg.Image.RootDirs)
	if err != nil {
		common.LogError("Invalid root directories", zap.Strings("root_dirs", cfg.Image.RootDirs), zap.Error(err))
		return nil, err
	}
	common.LogInfo("API file access restricted", zap.Strings("root_dirs", roots.Dirs()))

	optimizer := image.NewOptimizer(image.OptionsFromConfig(cfg.Image))

	c, err := cache.New(cfg.Cache)
	if err != nil {
		common.LogError("Failed to initialize cache", zap.Error(err))
		return nil, err
	}

	q := queue.NewManager(cfg.Queue, optimizer)
	q.Start(ctx)

	return &Services{
		Optimizer: optimizer,
		Queue:     q,
		Cache:     c,
		Analyzer:  analyzer.NewClient(cfg.Analyzer, cfg.Image.MaxSizeMB, optimizer, c),
		Roots:     roots,
		dedup:     middleware.NewDeduplicator(cfg.DedupWindow),
	}, nil
}

// Close 釋放服務資源
func (s *Services) Close() {
	if s.Queue != nil {
		s.Queue.Close()
	}
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			common.LogWarn("Failed to close cache", zap.Error(err))
		}
	}
	if s.dedup != nil {
		s.dedup.Close()
	}
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, svc *Services) *gin.Engine {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(requestid.New()) // 自動生成請求 ID
	router.Use(middleware.Logger())

	// CORS 設置，未設定來源時不允許跨域
	if len(cfg.Server.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 請求體大小限制
	if cfg.Server.MaxBodyBytes > 0 {
		router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))
	}
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	if svc.dedup == nil {
		svc.dedup = middleware.NewDeduplicator(cfg.DedupWindow)
	}
	router.Use(svc.dedup.Middleware())
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// 健康檢查路由
	healthHandler := health.NewHandler(cfg, svc.Queue, svc.Cache, svc.Analyzer != nil && svc.Analyzer.Enabled())
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	// API 路由組
	api := router.Group("/api/v1")
	{
		imageHandler := images.NewHandler(svc.Queue, svc.Analyzer, svc.Roots, cfg.Image.MaxSizeMB, cfg.App.Debug)
		imageHandler.Register(api.Group("/images"))
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("cache_enabled", svc.Cache != nil),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Strings("cors_origins", cfg.Server.AllowOrigins),
		zap.Duration("timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)

	return router
}
