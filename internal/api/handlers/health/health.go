package health

import (
	"net/http"
	"runtime"
	"time"

	"image-optimizer/internal/core/cache"
	"image-optimizer/internal/core/queue"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
	Cache     *cache.Stats           `json:"cache,omitempty"`
	Analyzer  bool                   `json:"analyzer_enabled"`
}

// Handler 健康檢查處理器
type Handler struct {
	config   *config.Config
	queue    *queue.Manager
	cache    cache.Cache
	analyzer bool
}

// NewHandler 創建健康檢查處理器，queue 與 cache 可為 nil
func NewHandler(cfg *config.Config, q *queue.Manager, c cache.Cache, analyzerEnabled bool) *Handler {
	return &Handler{config: cfg, queue: q, cache: c, analyzer: analyzerEnabled}
}

// HealthCheck 健康檢查
func (h *Handler) HealthCheck(c *gin.Context) {
	// 獲取運行時信息
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.config.App.Version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
		Analyzer: h.analyzer,
	}
	if h.queue != nil {
		response.Queue = h.queue.Status()
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		response.Cache = &stats
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查，worker 未啟動時回傳 503
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.queue != nil && !h.queue.Status().Running {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "queue workers not running",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
